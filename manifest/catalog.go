package manifest

import (
	"fmt"
	"reflect"
	"sort"

	"go.uber.org/multierr"

	"github.com/sghaida/odigraph/di"
)

// Catalog maps the names used in a manifest to the host's types and values.
type Catalog struct {
	services  map[string]reflect.Type
	funcs     map[string]any
	instances map[string]any
	families  map[string]di.Family
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		services:  make(map[string]reflect.Type),
		funcs:     make(map[string]any),
		instances: make(map[string]any),
		families:  make(map[string]di.Family),
	}
}

// Service names a service type.
func (c *Catalog) Service(name string, t reflect.Type) *Catalog {
	c.services[name] = t
	return c
}

// ServiceOf names the service type T.
func ServiceOf[T any](c *Catalog, name string) *Catalog {
	return c.Service(name, reflect.TypeFor[T]())
}

// Func names a constructor, decorator, composite or closure constructor.
func (c *Catalog) Func(name string, fn any) *Catalog {
	c.funcs[name] = fn
	return c
}

// Instance names a pre-built value for instance bindings.
func (c *Catalog) Instance(name string, v any) *Catalog {
	c.instances[name] = v
	return c
}

// Family names an open-generic family.
func (c *Catalog) Family(name string, f di.Family) *Catalog {
	c.families[name] = f
	return c
}

// FamilyOf names the family of T under the name of T's instantiation, e.g.
// FamilyOf[Repo[User]](c, "Repo[User]").
func FamilyOf[T any](c *Catalog, name string) *Catalog {
	return c.Family(name, di.FamilyOf[T]())
}

// Names returns every catalog name in sorted order.
func (c *Catalog) Names() []string {
	var out []string
	for n := range c.services {
		out = append(out, n)
	}
	for n := range c.funcs {
		out = append(out, n)
	}
	for n := range c.instances {
		out = append(out, n)
	}
	for n := range c.families {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// UnknownSymbolError is returned by Apply for a name the catalog lacks.
type UnknownSymbolError struct {
	Path string // e.g. "bindings[2].constructor"
	Kind string // service, func, instance or family
	Name string
}

func (e UnknownSymbolError) Error() string {
	return fmt.Sprintf("manifest: %s: unknown %s %q", e.Path, e.Kind, e.Name)
}

// Apply registers every declaration of m into r. Nothing is registered when
// any name is unknown or any parameter default cannot be decoded; every such
// problem is reported.
func (m *Manifest) Apply(r *di.Registry, c *Catalog) error {
	a := applier{catalog: c}

	for _, t := range m.Tenants {
		a.then(func() { r.DeclareTenant(t) })
	}
	for i, b := range m.Bindings {
		a.binding(r, fmt.Sprintf("bindings[%d]", i), b)
	}
	for i, g := range m.OpenGenerics {
		a.openGeneric(r, fmt.Sprintf("openGenerics[%d]", i), g)
	}
	for i, d := range m.Decorators {
		a.decorator(r, fmt.Sprintf("decorators[%d]", i), d)
	}
	for i, cp := range m.Composites {
		a.composite(r, fmt.Sprintf("composites[%d]", i), cp)
	}
	for i, u := range m.Uses {
		path := fmt.Sprintf("uses[%d]", i)
		t, ok := a.service(path+".service", u.Service)
		if !ok {
			continue
		}
		key := di.ServiceKey{Type: t, Key: u.Key}
		tenant := u.Tenant
		a.then(func() {
			if tenant == "" {
				r.Use(key)
			} else {
				r.UseIn(tenant, key)
			}
		})
	}

	if a.err != nil {
		return a.err
	}
	for _, fn := range a.steps {
		fn()
	}
	return nil
}

// applier resolves names first and defers registration until everything resolved.
type applier struct {
	catalog *Catalog
	steps   []func()
	err     error
}

func (a *applier) then(fn func()) { a.steps = append(a.steps, fn) }

func (a *applier) fail(err error) { a.err = multierr.Append(a.err, err) }

func (a *applier) service(path, name string) (reflect.Type, bool) {
	t, ok := a.catalog.services[name]
	if !ok {
		a.fail(UnknownSymbolError{Path: path, Kind: "service", Name: name})
	}
	return t, ok
}

func (a *applier) fn(path, name string) (any, bool) {
	fn, ok := a.catalog.funcs[name]
	if !ok {
		a.fail(UnknownSymbolError{Path: path, Kind: "func", Name: name})
	}
	return fn, ok
}

func (a *applier) binding(r *di.Registry, path string, b Binding) {
	t, okType := a.service(path+".service", b.Service)
	opts := []di.BindOption{di.Keyed(b.Key), di.ForTenant(b.Tenant), di.InitOrder(b.InitOrder)}

	if b.Instance != "" {
		v, ok := a.catalog.instances[b.Instance]
		if !ok {
			a.fail(UnknownSymbolError{Path: path + ".instance", Kind: "instance", Name: b.Instance})
			return
		}
		if okType {
			a.then(func() { di.RegisterInstanceType(r, t, v, opts...) })
		}
		return
	}

	ctor, okCtor := a.fn(path+".constructor", b.Constructor)
	alts := make([]any, 0, len(b.Alternatives))
	for j, name := range b.Alternatives {
		if fn, ok := a.fn(fmt.Sprintf("%s.alternatives[%d]", path, j), name); ok {
			alts = append(alts, fn)
		}
	}
	paramOpts, okParams := a.params(path, ctor, b.Params)
	if !okType || !okCtor || !okParams || len(alts) != len(b.Alternatives) {
		return
	}
	if len(alts) > 0 {
		opts = append(opts, di.Constructors(alts...))
	}
	opts = append(opts, paramOpts...)
	lt := lifetime(b.Lifetime, di.Transient)
	a.then(func() { di.RegisterType(r, t, ctor, lt, opts...) })
}

func (a *applier) openGeneric(r *di.Registry, path string, g OpenGeneric) {
	family, ok := a.catalog.families[g.Family]
	if !ok {
		a.fail(UnknownSymbolError{Path: path + ".family", Kind: "family", Name: g.Family})
	}
	closures := make([]any, 0, len(g.Closures))
	for j, name := range g.Closures {
		if fn, okFn := a.fn(fmt.Sprintf("%s.closures[%d]", path, j), name); okFn {
			closures = append(closures, fn)
		}
	}
	if !ok || len(closures) != len(g.Closures) {
		return
	}
	lt := lifetime(g.Lifetime, di.Transient)
	opts := []di.BindOption{di.Keyed(g.Key), di.ForTenant(g.Tenant)}
	a.then(func() { di.RegisterOpenGeneric(r, family, lt, closures, opts...) })
}

func (a *applier) decorator(r *di.Registry, path string, d Decorator) {
	t, okType := a.service(path+".service", d.Service)
	ctor, okCtor := a.fn(path+".constructor", d.Constructor)
	paramOpts, okParams := a.params(path, ctor, d.Params)
	if !okType || !okCtor || !okParams {
		return
	}
	opts := append([]di.BindOption{di.Keyed(d.Key), di.ForTenant(d.Tenant)}, paramOpts...)
	a.then(func() { di.RegisterDecoratorType(r, t, ctor, d.Order, opts...) })
}

func (a *applier) composite(r *di.Registry, path string, cp Composite) {
	t, okType := a.service(path+".service", cp.Service)
	ctor, okCtor := a.fn(path+".constructor", cp.Constructor)
	paramOpts, okParams := a.params(path, ctor, cp.Params)
	if !okType || !okCtor || !okParams {
		return
	}
	opts := append([]di.BindOption{di.Keyed(cp.Key), di.ForTenant(cp.Tenant)}, paramOpts...)
	if cp.Lifetime != "" {
		opts = append(opts, di.WithLifetime(lifetime(cp.Lifetime, di.Transient)))
	}
	a.then(func() { di.RegisterCompositeType(r, t, ctor, opts...) })
}

// params turns parameter overrides into bind options. A default is decoded
// into the type of the constructor argument it belongs to.
func (a *applier) params(path string, ctor any, params []Param) ([]di.BindOption, bool) {
	ok := true
	out := make([]di.BindOption, 0, len(params))
	for j, p := range params {
		var opts []di.ParamOption
		if p.Key != "" {
			opts = append(opts, di.FromKey(p.Key))
		}
		if p.Nullable {
			opts = append(opts, di.Nullable())
		}
		if p.Optional {
			var def any
			if p.DefaultExpr != "" {
				v, found := a.catalog.instances[p.DefaultExpr]
				if !found {
					a.fail(UnknownSymbolError{Path: fmt.Sprintf("%s.params[%d].defaultExpr", path, j), Kind: "instance", Name: p.DefaultExpr})
					ok = false
					continue
				}
				def = v
			}
			if p.HasDefault() && ctor != nil {
				v, err := decodeDefault(ctor, p)
				if err != nil {
					a.fail(fmt.Errorf("manifest: %s.params[%d].default: %w", path, j, err))
					ok = false
					continue
				}
				def = v
			}
			opts = append(opts, di.Optional(def))
		}
		out = append(out, di.Param(p.Index, opts...))
	}
	return out, ok
}

func decodeDefault(ctor any, p Param) (any, error) {
	ft := reflect.TypeOf(ctor)
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", ft)
	}
	if p.Index >= ft.NumIn() {
		return nil, fmt.Errorf("index %d but constructor takes %d arguments", p.Index, ft.NumIn())
	}
	v := reflect.New(ft.In(p.Index))
	if err := p.Default.Decode(v.Interface()); err != nil {
		return nil, err
	}
	return v.Elem().Interface(), nil
}

// lifetime parses a validated lifetime name; empty yields def.
func lifetime(s string, def di.Lifetime) di.Lifetime {
	if s == "" {
		return def
	}
	lt, err := di.ParseLifetime(s)
	if err != nil {
		return def
	}
	return lt
}
