package hierarchy

import (
	"testing"

	"erpcore/testutil"
)

func TestHierarchyIsPure(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.AnyOf(testutil.InternalImportForbidden, testutil.ThirdPartyImport, testutil.StorageOrTransportImport),
		"grouping works on plain records")
}
