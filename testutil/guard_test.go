package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		name string
		pred func(string) bool
		in   string
		want bool
	}{
		{"internal", InternalImportForbidden, "erpcore/internal/table", true},
		{"internal root", InternalImportForbidden, "erpcore/internal", true},
		{"internal pkg", InternalImportForbidden, "erpcore/pkg/domain", false},
		{"internal lookalike", InternalImportForbidden, "erpcore/internalx", false},
		{"third party", ThirdPartyImport, "golang.org/x/text/unicode/norm", true},
		{"stdlib", ThirdPartyImport, "encoding/json", false},
		{"module", ThirdPartyImport, "erpcore/pkg/domain", false},
		{"sql", StorageOrTransportImport, "database/sql", true},
		{"httptest", StorageOrTransportImport, "net/http/httptest", true},
		{"infra", StorageOrTransportImport, "erpcore/internal/infra/blob/s3", true},
		{"pgx", StorageOrTransportImport, "github.com/jackc/pgx/v5/stdlib", true},
		{"slog", StorageOrTransportImport, "log/slog", false},
		{"except", Except(ThirdPartyImport, "golang.org/x/text"), "golang.org/x/text/unicode/norm", false},
		{"except other", Except(ThirdPartyImport, "golang.org/x/text"), "golang.org/x/sync/errgroup", true},
		{"any of", AnyOf(InternalImportForbidden, ThirdPartyImport), "github.com/google/uuid", true},
		{"any of none", AnyOf(InternalImportForbidden, ThirdPartyImport), "context", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.pred(c.in); got != c.want {
				t.Fatalf("pred(%q)=%v want %v", c.in, got, c.want)
			}
		})
	}
}

type recorder struct{ msg string }

func (r *recorder) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.go":      "package tmp\nimport (\n\t\"database/sql\"\n\t\"fmt\"\n)\nvar _ = sql.ErrNoRows\nvar _ = fmt.Sprint",
		"b_test.go": "package tmp\nimport \"net/http\"\nvar _ = http.MethodGet",
		"notes.txt": "import \"net/http\"",
	}
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	viols, err := directImportViolations(dir, StorageOrTransportImport)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "database/sql (in a.go)" {
		t.Fatalf("violations = %v", viols)
	}
	r := &recorder{}
	failIfViolations(r, "forbidden direct imports detected", "engine", viols)
	if !strings.Contains(r.msg, "(engine)") || !strings.Contains(r.msg, "database/sql") {
		t.Fatalf("message = %q", r.msg)
	}
	AssertNoDirectImports(t, dir, ThirdPartyImport, "none")
}

func TestDirectImportViolationsMissingDir(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "absent"), ThirdPartyImport); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestTransitiveDependencyViolations(t *testing.T) {
	prev := goListDeps
	t.Cleanup(func() { goListDeps = prev })

	goListDeps = func(string) ([]byte, error) {
		return []byte("context\nerpcore/pkg/domain\n\ndatabase/sql\n"), nil
	}
	viols, _, err := transitiveDependencyViolations(".", StorageOrTransportImport)
	if err != nil || len(viols) != 1 || viols[0] != "database/sql" {
		t.Fatalf("viols=%v err=%v", viols, err)
	}

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit 1") }
	if _, out, err := transitiveDependencyViolations(".", StorageOrTransportImport); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list failure, got %v", err)
	}
}
