// Package manifest declares di bindings in YAML.
//
// A manifest names services and constructors by their Go expressions as seen
// from the package that owns them ("Store", "*Clock", "Repo[User]",
// "NewRepo[User]"). At run time a Catalog maps those names to reflect types
// and function values and Apply registers them; cmd/digen turns the same file
// into Go source instead.
//
//	tenants: [acme]
//	bindings:
//	  - service: Store
//	    constructor: NewMemStore
//	    lifetime: singleton
//	  - service: Store
//	    constructor: NewSQLStore
//	    tenant: acme
//	    params:
//	      - index: 1
//	        optional: true
//	        default: 3
//	openGenerics:
//	  - family: Repo[User]
//	    lifetime: scoped
//	    closures: ["NewRepo[User]", "NewRepo[Order]"]
//	decorators:
//	  - service: Store
//	    constructor: NewCachedStore
//	    order: 1
//	uses:
//	  - service: Repo[Order]
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Manifest is the root document.
type Manifest struct {
	Tenants      []string      `yaml:"tenants" validate:"dive,required"`
	Bindings     []Binding     `yaml:"bindings" validate:"dive"`
	OpenGenerics []OpenGeneric `yaml:"openGenerics" validate:"dive"`
	Decorators   []Decorator   `yaml:"decorators" validate:"dive"`
	Composites   []Composite   `yaml:"composites" validate:"dive"`
	Uses         []Use         `yaml:"uses" validate:"dive"`
}

// Binding registers a service to a constructor or to a catalog instance.
// Lifetime defaults to transient.
type Binding struct {
	Service      string   `yaml:"service" validate:"required,go_type"`
	Constructor  string   `yaml:"constructor" validate:"required_without=Instance,excluded_with=Instance,omitempty,go_expr"`
	Alternatives []string `yaml:"alternatives" validate:"excluded_with=Instance,dive,go_expr"`
	Instance     string   `yaml:"instance" validate:"omitempty,go_expr"`
	Lifetime     string   `yaml:"lifetime" validate:"excluded_with=Instance,omitempty,lifetime"`
	Key          string   `yaml:"key"`
	Tenant       string   `yaml:"tenant"`
	InitOrder    int      `yaml:"initOrder"`
	Params       []Param  `yaml:"params" validate:"excluded_with=Instance,dive"`
}

// OpenGeneric declares a generic family. Family is any instantiation of the
// generic type; only the part before '[' matters.
type OpenGeneric struct {
	Family   string   `yaml:"family" validate:"required,go_type"`
	Closures []string `yaml:"closures" validate:"required,min=1,dive,go_expr"`
	Lifetime string   `yaml:"lifetime" validate:"omitempty,lifetime"`
	Key      string   `yaml:"key"`
	Tenant   string   `yaml:"tenant"`
}

// Decorator wraps every registration of Service under Key.
type Decorator struct {
	Service     string  `yaml:"service" validate:"required,go_type"`
	Constructor string  `yaml:"constructor" validate:"required,go_expr"`
	Order       int     `yaml:"order"`
	Key         string  `yaml:"key"`
	Tenant      string  `yaml:"tenant"`
	Params      []Param `yaml:"params" validate:"dive"`
}

// Composite aggregates every registration of Service under Key.
type Composite struct {
	Service     string  `yaml:"service" validate:"required,go_type"`
	Constructor string  `yaml:"constructor" validate:"required,go_expr"`
	Lifetime    string  `yaml:"lifetime" validate:"omitempty,lifetime"`
	Key         string  `yaml:"key"`
	Tenant      string  `yaml:"tenant"`
	Params      []Param `yaml:"params" validate:"dive"`
}

// Use records a key the host resolves directly.
type Use struct {
	Service string `yaml:"service" validate:"required,go_type"`
	Key     string `yaml:"key"`
	Tenant  string `yaml:"tenant"`
}

// Param refines one constructor argument. Default is a YAML scalar decoded
// into the argument's type; DefaultExpr names a catalog instance (or, for
// digen, any Go expression). Either one requires Optional.
type Param struct {
	Index       int       `yaml:"index" validate:"gte=0"`
	Key         string    `yaml:"key"`
	Optional    bool      `yaml:"optional"`
	Nullable    bool      `yaml:"nullable"`
	Default     yaml.Node `yaml:"default"`
	DefaultExpr string    `yaml:"defaultExpr"`
}

// HasDefault reports whether the manifest set a default value.
func (p Param) HasDefault() bool { return !p.Default.IsZero() }

var (
	goType   = regexp.MustCompile(`^(\[\])?\*?(` + ident + `\.)?` + ident + `(\[.+\])?$`)
	goExpr   = regexp.MustCompile(`^(` + ident + `\.)?` + ident + `(\[.+\])?$`)
	validate = newValidator()
)

const ident = `[A-Za-z_][A-Za-z0-9_]*`

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("go_type", func(fl validator.FieldLevel) bool {
		return goType.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("go_expr", func(fl validator.FieldLevel) bool {
		return goExpr.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("lifetime", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "singleton", "scoped", "transient":
			return true
		}
		return false
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(Param)
		switch {
		case p.HasDefault() && p.DefaultExpr != "":
			sl.ReportError(p.DefaultExpr, "defaultExpr", "DefaultExpr", "default_exclusive", "")
		case (p.HasDefault() || p.DefaultExpr != "") && !p.Optional:
			sl.ReportError(p.Default, "default", "Default", "default_requires_optional", "")
		}
	}, Param{})
	return v
}

// Parse decodes and validates a manifest. Unknown fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Validate checks the struct tags. Every invalid field is reported.
func (m *Manifest) Validate() error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("manifest: %w", err)
	}
	var out error
	for _, fe := range fieldErrs {
		out = multierr.Append(out, fmt.Errorf("manifest: %s", describe(fe)))
	}
	return out
}

func describe(fe validator.FieldError) string {
	_, path, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required", "required_without":
		return path + " is required"
	case "excluded_with":
		return path + " cannot be combined with instance"
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", path, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	case "go_type":
		return fmt.Sprintf("%s must be a Go type expression (got %q)", path, fe.Value())
	case "go_expr":
		return fmt.Sprintf("%s must be a Go identifier (got %q)", path, fe.Value())
	case "lifetime":
		return fmt.Sprintf("%s must be singleton, scoped or transient (got %q)", path, fe.Value())
	case "default_requires_optional":
		return path + " needs optional: true"
	case "default_exclusive":
		return path + " cannot be combined with default"
	default:
		return path + " is invalid"
	}
}
