// Package testutil provides reusable testing helpers for enforcing the layering
// of the workspace packages.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// ImportRule forbids packages under From from importing packages matched by
// any Forbid prefix, directly or transitively.
type ImportRule struct {
	From   string
	Forbid []string
	Reason string
}

func hasPrefixPath(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func (r ImportRule) applies(pkgPath string) bool { return hasPrefixPath(pkgPath, r.From) }

func (r ImportRule) forbids(importPath string) bool {
	return slices.ContainsFunc(r.Forbid, func(p string) bool { return hasPrefixPath(importPath, p) })
}

// AssertImportRules loads pattern with its dependency graph and fails the test
// for every package that reaches a forbidden import.
func AssertImportRules(t testing.TB, pattern string, rules ...ImportRule) {
	t.Helper()
	viols, err := importRuleViolations(pattern, rules)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	failIfViolations(t, "forbidden imports detected", viols)
}

func importRuleViolations(pattern string, rules []ImportRule) ([]string, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, err
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, fmt.Errorf("packages matching %s have errors", pattern)
	}
	var viols []string
	for _, pkg := range pkgs {
		for _, rule := range rules {
			if !rule.applies(pkg.PkgPath) {
				continue
			}
			for _, path := range reachable(pkg) {
				if rule.forbids(path) {
					viols = append(viols, fmt.Sprintf("%s -> %s (%s)", pkg.PkgPath, path, rule.Reason))
				}
			}
		}
	}
	slices.Sort(viols)
	return slices.Compact(viols), nil
}

// reachable lists every package imported by pkg, transitively.
func reachable(pkg *packages.Package) []string {
	seen := map[string]bool{}
	var walk func(*packages.Package)
	walk = func(p *packages.Package) {
		for path, dep := range p.Imports {
			if seen[path] {
				continue
			}
			seen[path] = true
			walk(dep)
		}
	}
	walk(pkg)
	out := make([]string, 0, len(seen))
	for path := range seen {
		out = append(out, path)
	}
	slices.Sort(out)
	return out
}

// AssertNoDirectImports scans all non-test .go files in dir and fails if any
// import path satisfies the forbidden predicate. It does not follow build tags.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "forbidden direct imports detected ("+reason+")", viols)
}

// InternalImportForbidden matches any import path containing /internal/.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, what string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s:\n%s", what, strings.Join(viols, "\n"))
	}
}
