package sqlite

import (
	"strings"
	"testing"

	"erpcore/testutil"
)

func TestImportsAreDomainOrMemory(t *testing.T) {
	moduleImport := func(path string) bool { return strings.HasPrefix(path, testutil.ModulePath+"/") }
	testutil.AssertNoDirectImports(t, ".",
		testutil.Except(moduleImport, "erpcore/pkg/domain", "erpcore/internal/infra/persistence/memory"),
		"sqlite store wraps the memory store only")
}
