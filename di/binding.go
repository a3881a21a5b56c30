package di

import (
	"reflect"
)

// FactoryFunc builds an instance by hand. Factories declare no parameters, so the
// graph sees no edges for them; use constructors when validation matters.
type FactoryFunc func(r Resolver) (any, error)

// BindOptions carries the optional modifiers shared by every declaration kind.
type BindOptions struct {
	// Key qualifies the service type: (type, key) is the ServiceKey.
	Key string

	// Tenant places the declaration in a tenant overlay instead of the root graph.
	Tenant string

	// Params refines constructor arguments by index.
	Params map[int][]ParamOption

	// InitOrder sequences Initializer singletons during Build (ascending).
	InitOrder int

	// Alternatives are extra candidate constructors for the same implementation.
	Alternatives []any

	// Lifetime overrides the default lifetime of decorators and composites.
	Lifetime    Lifetime
	hasLifetime bool
}

// BindOption mutates BindOptions.
type BindOption func(*BindOptions)

// Keyed registers (or decorates) the keyed variant of the service.
func Keyed(key string) BindOption {
	return func(o *BindOptions) { o.Key = key }
}

// ForTenant places the declaration in the named tenant overlay.
func ForTenant(name string) BindOption {
	return func(o *BindOptions) { o.Tenant = name }
}

// Param applies ParamOptions to the constructor argument at index.
func Param(index int, opts ...ParamOption) BindOption {
	return func(o *BindOptions) {
		if o.Params == nil {
			o.Params = make(map[int][]ParamOption)
		}
		o.Params[index] = append(o.Params[index], opts...)
	}
}

// InitOrder sets the initialization group of an Initializer singleton.
func InitOrder(order int) BindOption {
	return func(o *BindOptions) { o.InitOrder = order }
}

// Constructors adds candidate constructors. The graph builder picks the one
// with the most parameters that can all be satisfied.
func Constructors(ctors ...any) BindOption {
	return func(o *BindOptions) { o.Alternatives = append(o.Alternatives, ctors...) }
}

// WithLifetime sets the lifetime of a decorator or composite.
func WithLifetime(l Lifetime) BindOption {
	return func(o *BindOptions) {
		o.Lifetime = l
		o.hasLifetime = true
	}
}

func collectOptions(opts []BindOption) BindOptions {
	var o BindOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Binding is a raw declaration: service contract, implementation and lifetime.
//
// Exactly one of Constructors, Factory or Instance (IsInstance) is used.
type Binding struct {
	ServiceType  reflect.Type
	Lifetime     Lifetime
	Constructors []any
	Factory      FactoryFunc
	Instance     any
	IsInstance   bool

	BindOptions

	// IsOpenGeneric is set on closures synthesized from an open-generic binding.
	IsOpenGeneric bool

	seq    int
	family *OpenGenericBinding
}

// ServiceKey returns the key the binding registers under.
func (b *Binding) ServiceKey() ServiceKey {
	return ServiceKey{Type: b.ServiceType, Key: b.Key}
}

func (b *Binding) candidates() []any {
	out := make([]any, 0, len(b.Constructors)+len(b.Alternatives))
	out = append(out, b.Constructors...)
	return append(out, b.Alternatives...)
}

// OpenGenericBinding declares a generic service family and the closures that may
// be materialized for it. Each closure is a constructor instantiation such as
// NewRepo[User]; only closures used somewhere in the graph are materialized.
type OpenGenericBinding struct {
	Family   Family
	Lifetime Lifetime
	Closures []any

	BindOptions

	seq int
}

// DecoratorBinding wraps every registration of ServiceType under Key.
//
// Constructor takes exactly one argument of ServiceType (the inner instance)
// plus any resolvable parameters and returns a ServiceType. Lower Order wraps first.
type DecoratorBinding struct {
	ServiceType reflect.Type
	Constructor any
	Order       int

	BindOptions

	seq int
}

// CompositeBinding aggregates every registration of ServiceType under Key into
// one instance. Constructor takes a []ServiceType argument.
type CompositeBinding struct {
	ServiceType reflect.Type
	Constructor any

	BindOptions

	seq int
}
