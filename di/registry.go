package di

import (
	"reflect"
	"slices"
)

// Registry accumulates raw declarations before Build.
//
// It is intentionally:
// - append-only
// - unvalidated (every problem is reported by Build, so declaration order is irrelevant)
// - not safe for concurrent use
//
// Expected usage:
//
//	reg := di.NewRegistry()
//	di.Register[Store](reg, NewMemStore, di.Singleton)
//	di.Register[Store](reg, NewSQLStore, di.Singleton, di.ForTenant("acme"))
type Registry struct {
	bindings   []*Binding
	generics   []*OpenGenericBinding
	decorators []*DecoratorBinding
	composites []*CompositeBinding
	uses       []usage
	tenants    []string

	seq int
}

type usage struct {
	key    ServiceKey
	tenant string
}

// declarations is the slice of a registry that belongs to one graph (root or a tenant).
type declarations struct {
	bindings   []*Binding
	generics   []*OpenGenericBinding
	decorators []*DecoratorBinding
	composites []*CompositeBinding
	uses       []ServiceKey
}

func (d declarations) empty() bool {
	return len(d.bindings) == 0 && len(d.generics) == 0 && len(d.decorators) == 0 &&
		len(d.composites) == 0 && len(d.uses) == 0
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

func newRegistryAt(seq int) *Registry { return &Registry{seq: seq} }

func (r *Registry) next() int {
	r.seq++
	return r.seq
}

func (r *Registry) noteTenant(name string) {
	if name != "" && !slices.Contains(r.tenants, name) {
		r.tenants = append(r.tenants, name)
	}
}

// Add appends a binding and returns the registry for chaining.
func (r *Registry) Add(b Binding) *Registry {
	b.seq = r.next()
	r.noteTenant(b.Tenant)
	r.bindings = append(r.bindings, &b)
	return r
}

// AddOpenGeneric appends an open-generic family declaration.
func (r *Registry) AddOpenGeneric(g OpenGenericBinding) *Registry {
	g.seq = r.next()
	r.noteTenant(g.Tenant)
	r.generics = append(r.generics, &g)
	return r
}

// AddDecorator appends a decorator declaration.
func (r *Registry) AddDecorator(d DecoratorBinding) *Registry {
	d.seq = r.next()
	r.noteTenant(d.Tenant)
	r.decorators = append(r.decorators, &d)
	return r
}

// AddComposite appends a composite declaration.
func (r *Registry) AddComposite(c CompositeBinding) *Registry {
	c.seq = r.next()
	r.noteTenant(c.Tenant)
	r.composites = append(r.composites, &c)
	return r
}

// Use records keys the host will request directly from the root, so open-generic
// closures only reached that way are still materialized and validated.
func (r *Registry) Use(keys ...ServiceKey) *Registry {
	for _, k := range keys {
		r.uses = append(r.uses, usage{key: k})
	}
	return r
}

// UseIn is Use for a tenant overlay.
func (r *Registry) UseIn(tenant string, keys ...ServiceKey) *Registry {
	r.noteTenant(tenant)
	for _, k := range keys {
		r.uses = append(r.uses, usage{key: k, tenant: tenant})
	}
	return r
}

// DeclareTenant makes a tenant known even when it overrides nothing yet.
func (r *Registry) DeclareTenant(name string) *Registry {
	r.noteTenant(name)
	return r
}

// Tenants returns the declared tenant names in sorted order.
func (r *Registry) Tenants() []string {
	out := slices.Clone(r.tenants)
	slices.Sort(out)
	return out
}

// Len reports the number of declarations of every kind.
func (r *Registry) Len() int {
	return len(r.bindings) + len(r.generics) + len(r.decorators) + len(r.composites)
}

// partition returns the declarations that belong to tenant ("" is the root).
func (r *Registry) partition(tenant string) declarations {
	var d declarations
	for _, b := range r.bindings {
		if b.Tenant == tenant {
			d.bindings = append(d.bindings, b)
		}
	}
	for _, g := range r.generics {
		if g.Tenant == tenant {
			d.generics = append(d.generics, g)
		}
	}
	for _, dec := range r.decorators {
		if dec.Tenant == tenant {
			d.decorators = append(d.decorators, dec)
		}
	}
	for _, c := range r.composites {
		if c.Tenant == tenant {
			d.composites = append(d.composites, c)
		}
	}
	for _, u := range r.uses {
		if u.tenant == tenant {
			d.uses = append(d.uses, u.key)
		}
	}
	return d
}

// all returns every declaration regardless of tenant; child containers are a
// single overlay.
func (r *Registry) all() declarations {
	d := declarations{
		bindings:   r.bindings,
		generics:   r.generics,
		decorators: r.decorators,
		composites: r.composites,
	}
	for _, u := range r.uses {
		d.uses = append(d.uses, u.key)
	}
	return d
}

func (r *Registry) registry() *Registry { return r }

// Registrar is anything the registration helpers can append to: a *Registry or a *Builder.
type Registrar interface {
	registry() *Registry
}

// Register binds service S to a constructor. The constructor returns S (or a type
// assignable to S), optionally with an error.
//
//	di.Register[Greeter](reg, NewEnglishGreeter, di.Scoped)
//	di.Register[Greeter](reg, NewFrenchGreeter, di.Scoped, di.Keyed("fr"))
func Register[S any](r Registrar, ctor any, lt Lifetime, opts ...BindOption) {
	RegisterType(r, reflect.TypeFor[S](), ctor, lt, opts...)
}

// RegisterType is Register for a service type known only at run time.
func RegisterType(r Registrar, service reflect.Type, ctor any, lt Lifetime, opts ...BindOption) {
	b := Binding{ServiceType: service, Lifetime: lt, BindOptions: collectOptions(opts)}
	if ctor != nil {
		b.Constructors = []any{ctor}
	}
	r.registry().Add(b)
}

// RegisterInstance binds S to an existing value. The instance is a singleton that
// the engine never disposes: its owner does.
func RegisterInstance[S any](r Registrar, instance S, opts ...BindOption) {
	r.registry().Add(Binding{
		ServiceType: reflect.TypeFor[S](),
		Lifetime:    Singleton,
		Instance:    instance,
		IsInstance:  true,
		BindOptions: collectOptions(opts),
	})
}

// RegisterInstanceType is RegisterInstance for a run-time service type.
func RegisterInstanceType(r Registrar, service reflect.Type, instance any, opts ...BindOption) {
	r.registry().Add(Binding{
		ServiceType: service,
		Lifetime:    Singleton,
		Instance:    instance,
		IsInstance:  true,
		BindOptions: collectOptions(opts),
	})
}

// RegisterFactory binds S to a hand-written factory.
func RegisterFactory[S any](r Registrar, f FactoryFunc, lt Lifetime, opts ...BindOption) {
	r.registry().Add(Binding{
		ServiceType: reflect.TypeFor[S](),
		Lifetime:    lt,
		Factory:     f,
		BindOptions: collectOptions(opts),
	})
}

// RegisterOpenGeneric declares a generic family and its closure constructors.
//
//	di.RegisterOpenGeneric(reg, di.FamilyOf[Repo[any]](), di.Scoped,
//		[]any{NewRepo[User], NewRepo[Order]})
func RegisterOpenGeneric(r Registrar, family Family, lt Lifetime, closures []any, opts ...BindOption) {
	r.registry().AddOpenGeneric(OpenGenericBinding{
		Family:      family,
		Lifetime:    lt,
		Closures:    closures,
		BindOptions: collectOptions(opts),
	})
}

// RegisterDecorator wraps every registration of S. Lower order wraps first
// (closest to the implementation); ties keep declaration order.
func RegisterDecorator[S any](r Registrar, ctor any, order int, opts ...BindOption) {
	RegisterDecoratorType(r, reflect.TypeFor[S](), ctor, order, opts...)
}

// RegisterDecoratorType is RegisterDecorator for a run-time service type.
func RegisterDecoratorType(r Registrar, service reflect.Type, ctor any, order int, opts ...BindOption) {
	r.registry().AddDecorator(DecoratorBinding{
		ServiceType: service,
		Constructor: ctor,
		Order:       order,
		BindOptions: collectOptions(opts),
	})
}

// RegisterComposite declares the aggregate that becomes the singular S.
func RegisterComposite[S any](r Registrar, ctor any, opts ...BindOption) {
	RegisterCompositeType(r, reflect.TypeFor[S](), ctor, opts...)
}

// RegisterCompositeType is RegisterComposite for a run-time service type.
func RegisterCompositeType(r Registrar, service reflect.Type, ctor any, opts ...BindOption) {
	r.registry().AddComposite(CompositeBinding{
		ServiceType: service,
		Constructor: ctor,
		BindOptions: collectOptions(opts),
	})
}

// Use records that T (optionally keyed) is requested directly by the host.
func Use[T any](r Registrar, key ...string) {
	r.registry().Use(KeyOf[T](key...))
}
