package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// defaultDIImport is used when no file of the target package imports the engine.
const defaultDIImport = "github.com/sghaida/odigraph/di"

// GoImport is one import spec of the generated file.
type GoImport struct {
	Name string // optional alias
	Path string
}

// localName is the identifier the import is referred to by.
func (gi GoImport) localName() string {
	if gi.Name != "" {
		return gi.Name
	}
	return path.Base(gi.Path)
}

// inferImports resolves the di runtime and every package qualifier used by the
// manifest against the imports of the hand-written files in pkgDir.
// forcedDI, when set, wins over inference.
func inferImports(pkgDir string, quals []string, forcedDI string) ([]GoImport, error) {
	scanned := scanPackageImports(pkgDir)

	di := GoImport{Path: forcedDI}
	if di.Path == "" {
		if gi, ok := findImportByAliasOrSuffix(scanned, "di", "/di"); ok {
			di = gi
		} else {
			di.Path = defaultDIImport
		}
	}
	if di.localName() != "di" {
		di.Name = "di"
	}
	if di.Name == path.Base(di.Path) {
		di.Name = ""
	}

	out := []GoImport{di}
	var missing []string
	for _, q := range quals {
		if q == "di" {
			continue
		}
		gi, ok := findImportByAliasOrSuffix(scanned, q, "/"+q)
		if !ok {
			gi, ok = GoImport{Path: q}, slices.Contains(scanned, GoImport{Path: q})
		}
		if !ok {
			missing = append(missing, q)
			continue
		}
		out = append(out, gi)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("cannot infer import for %s: import it from a file in %s",
			strings.Join(missing, ", "), filepath.ToSlash(pkgDir))
	}
	return dedupeAndSortImports(out), nil
}

// scanPackageImports reads imports from all non-generated .go files in pkgDir
// (excluding *_test.go and *.gen.go) and returns them as GoImport entries.
// It preserves aliases from source files (e.g. `config "..."`).
func scanPackageImports(pkgDir string) []GoImport {
	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return nil
	}

	var out []GoImport
	fset := token.NewFileSet()

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		// avoid feeding generated outputs back into inference
		if strings.HasSuffix(name, ".gen.go") || strings.HasSuffix(name, "_gen.go") {
			continue
		}

		full := filepath.Join(pkgDir, name)
		f, perr := parser.ParseFile(fset, full, nil, parser.ImportsOnly)
		if perr != nil {
			continue
		}
		for _, imp := range f.Imports {
			gi := GoImport{Path: strings.Trim(imp.Path.Value, `"`)}
			if imp.Name != nil {
				gi.Name = imp.Name.Name
			}
			out = append(out, gi)
		}
	}

	return dedupeAndSortImports(out)
}

// findImportByAliasOrSuffix picks an import from scanned imports.
// Prefer alias match first, then suffix match.
func findImportByAliasOrSuffix(imports []GoImport, preferAlias, preferSuffix string) (GoImport, bool) {
	if preferAlias != "" {
		for _, gi := range imports {
			if gi.Name == preferAlias {
				return gi, true
			}
		}
	}
	if preferSuffix != "" {
		for _, gi := range imports {
			if gi.Name == "" && strings.HasSuffix(gi.Path, preferSuffix) {
				return gi, true
			}
		}
	}
	return GoImport{}, false
}

func dedupeAndSortImports(imps []GoImport) []GoImport {
	seen := map[GoImport]bool{}
	out := make([]GoImport, 0, len(imps))
	for _, gi := range imps {
		if seen[gi] {
			continue
		}
		seen[gi] = true
		out = append(out, gi)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].Name < out[j].Name
		}
		return out[i].Path < out[j].Path
	})
	return out
}
