package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestLayering loads the whole module and checks that driver packages are
// only reached through their facades and that the engine packages stay free
// of storage and transport code.
func TestLayering(t *testing.T) {
	rules := []struct {
		name      string
		forbidden string
		allowed   []string
	}{
		{"blob drivers behind blob.Open", "erpcore/internal/infra/blob", []string{"erpcore/internal/blob", "erpcore/internal/infra/blob"}},
		{"persistence drivers behind core", "erpcore/internal/infra/persistence", []string{"erpcore/internal/core", "erpcore/internal/infra/persistence", "erpcore/internal/adapters", "erpcore/cmd"}},
		{"engine without transport", "erpcore/internal/adapters", []string{"erpcore/internal/adapters", "erpcore/cmd"}},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "erpcore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	for _, rule := range rules {
		t.Run(rule.name, func(t *testing.T) {
			seen := make(map[string]struct{})
			for _, pkg := range pkgs {
				if hasAnyPrefix(pkg.PkgPath, rule.allowed) {
					continue
				}
				for importPath := range pkg.Imports {
					if isUnder(importPath, rule.forbidden) {
						seen[pkg.PkgPath+": "+importPath] = struct{}{}
					}
				}
			}
			violations := make([]string, 0, len(seen))
			for v := range seen {
				violations = append(violations, v)
			}
			sort.Strings(violations)
			for _, v := range violations {
				t.Errorf("forbidden import: %s", v)
			}
		})
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if isUnder(path, p) {
			return true
		}
	}
	return false
}

func isUnder(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
