package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/format"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/sghaida/odigraph/manifest"
)

// section is a titled run of registration statements.
type section struct {
	Title string
	Calls []string
}

type genInput struct {
	ManifestPath string
	Hash         string
	Package      string
	Imports      []GoImport
	Tenants      []string
	Sections     []section
}

// generate renders the registration source for the manifest at manifestPath
// and writes it, gofmt'ed, to outPath.
func generate(manifestPath, pkg, outPath, diImport string) error {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", manifestPath, err)
	}

	sections, err := emit(m)
	if err != nil {
		return fmt.Errorf("%s: %w", manifestPath, err)
	}

	imports, err := inferImports(filepath.Dir(outPath), qualifiers(m), diImport)
	if err != nil {
		return err
	}

	tenants := append([]string(nil), m.Tenants...)
	sort.Strings(tenants)

	src, err := execTemplate(registerTpl, genInput{
		ManifestPath: filepath.ToSlash(manifestPath),
		Hash:         sha256Hex(raw),
		Package:      pkg,
		Imports:      imports,
		Tenants:      tenants,
		Sections:     sections,
	})
	if err != nil {
		return err
	}
	return writeFormatted(outPath, src)
}

// emit turns every declaration into a call of the public registration API.
// Declaration order is kept: the last binding of a key wins and decorator
// ties are broken by it.
func emit(m *manifest.Manifest) ([]section, error) {
	var out []section
	add := func(title string, calls []string) {
		if len(calls) > 0 {
			out = append(out, section{Title: title, Calls: calls})
		}
	}

	var calls []string
	for i, b := range m.Bindings {
		opts := bindOpts(b.Key, b.Tenant)
		if b.InitOrder != 0 {
			opts = append(opts, fmt.Sprintf("di.InitOrder(%d)", b.InitOrder))
		}
		if b.Instance != "" {
			calls = append(calls, fmt.Sprintf("di.RegisterInstance[%s](r, %s%s)", b.Service, b.Instance, join(opts)))
			continue
		}
		if len(b.Alternatives) > 0 {
			opts = append(opts, "di.Constructors("+strings.Join(b.Alternatives, ", ")+")")
		}
		params, err := paramOpts(fmt.Sprintf("bindings[%d]", i), b.Params)
		if err != nil {
			return nil, err
		}
		opts = append(opts, params...)
		calls = append(calls, fmt.Sprintf("di.Register[%s](r, %s, %s%s)",
			b.Service, b.Constructor, lifetimeExpr(b.Lifetime), join(opts)))
	}
	add("bindings", calls)

	calls = nil
	for _, g := range m.OpenGenerics {
		calls = append(calls, fmt.Sprintf("di.RegisterOpenGeneric(r, di.FamilyOf[%s](), %s, []any{%s}%s)",
			g.Family, lifetimeExpr(g.Lifetime), strings.Join(g.Closures, ", "), join(bindOpts(g.Key, g.Tenant))))
	}
	add("open generics", calls)

	calls = nil
	for i, d := range m.Decorators {
		opts := bindOpts(d.Key, d.Tenant)
		params, err := paramOpts(fmt.Sprintf("decorators[%d]", i), d.Params)
		if err != nil {
			return nil, err
		}
		opts = append(opts, params...)
		calls = append(calls, fmt.Sprintf("di.RegisterDecorator[%s](r, %s, %d%s)", d.Service, d.Constructor, d.Order, join(opts)))
	}
	add("decorators", calls)

	calls = nil
	for i, c := range m.Composites {
		opts := bindOpts(c.Key, c.Tenant)
		if c.Lifetime != "" {
			opts = append(opts, "di.WithLifetime("+lifetimeExpr(c.Lifetime)+")")
		}
		params, err := paramOpts(fmt.Sprintf("composites[%d]", i), c.Params)
		if err != nil {
			return nil, err
		}
		opts = append(opts, params...)
		calls = append(calls, fmt.Sprintf("di.RegisterComposite[%s](r, %s%s)", c.Service, c.Constructor, join(opts)))
	}
	add("composites", calls)

	calls = nil
	for _, u := range m.Uses {
		key := ""
		if u.Key != "" {
			key = strconv.Quote(u.Key)
		}
		if u.Tenant == "" {
			calls = append(calls, fmt.Sprintf("r.Use(di.KeyOf[%s](%s))", u.Service, key))
		} else {
			calls = append(calls, fmt.Sprintf("r.UseIn(%q, di.KeyOf[%s](%s))", u.Tenant, u.Service, key))
		}
	}
	add("host lookups", calls)

	return out, nil
}

func bindOpts(key, tenant string) []string {
	var opts []string
	if key != "" {
		opts = append(opts, fmt.Sprintf("di.Keyed(%q)", key))
	}
	if tenant != "" {
		opts = append(opts, fmt.Sprintf("di.ForTenant(%q)", tenant))
	}
	return opts
}

func paramOpts(path string, params []manifest.Param) ([]string, error) {
	out := make([]string, 0, len(params))
	for j, p := range params {
		var opts []string
		if p.Key != "" {
			opts = append(opts, fmt.Sprintf("di.FromKey(%q)", p.Key))
		}
		if p.Nullable {
			opts = append(opts, "di.Nullable()")
		}
		if p.Optional {
			def := "nil"
			switch {
			case p.DefaultExpr != "":
				def = p.DefaultExpr
			case p.HasDefault():
				lit, err := goLiteral(&p.Default)
				if err != nil {
					return nil, fmt.Errorf("%s.params[%d].default: %w", path, j, err)
				}
				def = lit
			}
			opts = append(opts, "di.Optional("+def+")")
		}
		out = append(out, fmt.Sprintf("di.Param(%d%s)", p.Index, join(opts)))
	}
	return out, nil
}

// goLiteral renders a YAML scalar as an untyped Go constant.
func goLiteral(n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("only scalars can be rendered; use defaultExpr")
	}
	switch n.ShortTag() {
	case "!!float":
		if v := strings.ToLower(n.Value); strings.Contains(v, "inf") || strings.Contains(v, "nan") {
			return "", fmt.Errorf("%s has no Go literal; use defaultExpr", n.Value)
		}
		return n.Value, nil
	case "!!int", "!!bool":
		return n.Value, nil
	case "!!null":
		return "nil", nil
	default:
		return strconv.Quote(n.Value), nil
	}
}

func lifetimeExpr(s string) string {
	switch strings.ToLower(s) {
	case "singleton":
		return "di.Singleton"
	case "scoped":
		return "di.Scoped"
	default:
		return "di.Transient"
	}
}

func join(opts []string) string {
	if len(opts) == 0 {
		return ""
	}
	return ", " + strings.Join(opts, ", ")
}

var qualifier = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\.[A-Za-z_]`)

// qualifiers returns the package names referenced by the manifest's expressions.
func qualifiers(m *manifest.Manifest) []string {
	seen := map[string]bool{}
	scan := func(exprs ...string) {
		for _, e := range exprs {
			for _, match := range qualifier.FindAllStringSubmatch(e, -1) {
				seen[match[1]] = true
			}
		}
	}
	scanParams := func(params []manifest.Param) {
		for _, p := range params {
			scan(p.DefaultExpr)
		}
	}
	for _, b := range m.Bindings {
		scan(b.Service, b.Constructor, b.Instance)
		scan(b.Alternatives...)
		scanParams(b.Params)
	}
	for _, g := range m.OpenGenerics {
		scan(g.Family)
		scan(g.Closures...)
	}
	for _, d := range m.Decorators {
		scan(d.Service, d.Constructor)
		scanParams(d.Params)
	}
	for _, c := range m.Composites {
		scan(c.Service, c.Constructor)
		scanParams(c.Params)
	}
	for _, u := range m.Uses {
		scan(u.Service)
	}

	out := make([]string, 0, len(seen))
	for q := range seen {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// -------------------------
// Templates
// -------------------------

var registerTpl = template.Must(template.New("register").Parse(`// Code generated by digen; DO NOT EDIT.
// Manifest: {{.ManifestPath}}
// Manifest-SHA256: {{.Hash}}

package {{.Package}}

import (
{{- range .Imports }}
	{{- if .Name }}
	{{ .Name }} "{{ .Path }}"
	{{- else }}
	"{{ .Path }}"
	{{- end }}
{{- end }}
)

// RegisterBindings declares the manifest's bindings in r.
func RegisterBindings(r *di.Registry) {
{{- range .Tenants }}
	r.DeclareTenant({{ printf "%q" . }})
{{- end }}
{{- range .Sections }}

	// {{ .Title }}
{{- range .Calls }}
	{{ . }}
{{- end }}
{{- end }}
}
`))

// -------------------------
// Misc helpers
// -------------------------

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func execTemplate(tpl *template.Template, data any) ([]byte, error) {
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// writeFormatted writes gofmt'ed src to out. Unformattable source is still
// written so the failure can be inspected.
func writeFormatted(out string, src []byte) error {
	fmtSrc, err := format.Source(src)
	if err != nil {
		_ = os.WriteFile(out, src, 0o644)
		return fmt.Errorf("gofmt/format failed: %w", err)
	}
	return os.WriteFile(out, fmtSrc, 0o644)
}
