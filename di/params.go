package di

import (
	"reflect"
	"strconv"
	"sync"
)

// DeferKind marks parameters whose resolution is postponed past construction.
type DeferKind int

const (
	// NotDeferred arguments are resolved before the constructor runs.
	NotDeferred DeferKind = iota
	// DeferLazy arguments are Lazy[T]: resolved once, on first Value.
	DeferLazy
	// DeferFunc arguments are Func[T]: resolved on every Get.
	DeferFunc
)

// Parameter is one constructor argument, derived once from the constructor signature
// and refined by per-binding ParamOptions.
type Parameter struct {
	Index int

	// Type is the declared argument type (e.g. Lazy[Store] or []Plugin).
	Type reflect.Type

	// Service is the type looked up in the graph (Store, Plugin).
	Service reflect.Type

	Key        string
	Default    any
	HasDefault bool
	Optional   bool
	Nullable   bool
	Enumerable bool
	Deferred   DeferKind
}

// ServiceKey is the key this parameter resolves against.
func (p Parameter) ServiceKey() ServiceKey {
	return ServiceKey{Type: p.Service, Key: p.Key}
}

// required reports whether a missing registration fails the build.
func (p Parameter) required() bool {
	return !p.Optional && !p.Nullable && !p.Enumerable
}

// eager reports whether the edge is followed during construction.
func (p Parameter) eager() bool {
	return p.Deferred == NotDeferred && !p.Enumerable
}

// ParamOption refines a single constructor parameter.
type ParamOption func(*Parameter)

// FromKey resolves the parameter from a keyed registration.
func FromKey(key string) ParamOption {
	return func(p *Parameter) { p.Key = key }
}

// Optional marks the parameter optional; def is used when nothing is registered
// (nil means the zero value).
func Optional(def any) ParamOption {
	return func(p *Parameter) {
		p.Optional = true
		if def != nil {
			p.Default = def
			p.HasDefault = true
		}
	}
}

// Nullable lets the parameter receive the zero value when nothing is registered.
func Nullable() ParamOption {
	return func(p *Parameter) { p.Nullable = true }
}

// signature is the analyzed shape of a constructor function.
type signature struct {
	fn      reflect.Value
	typ     reflect.Type
	out     reflect.Type
	withErr bool
	params  []Parameter
}

func (s *signature) String() string { return s.typ.String() }

var errorType = reflect.TypeFor[error]()

// BuildContext memoizes constructor analysis. It replaces process-wide tables:
// pass the same context to several builders to share work, or let each builder
// create its own. It is safe for concurrent use.
type BuildContext struct {
	shapes sync.Map // reflect.Type (func type) -> *shape
}

type shape struct {
	out     reflect.Type
	withErr bool
	params  []Parameter
	err     string
}

// NewBuildContext returns an empty memo table.
func NewBuildContext() *BuildContext { return &BuildContext{} }

// analyze derives the parameter list of fn. The result is keyed by the function
// type, so every constructor with the same signature is analyzed once.
func (bc *BuildContext) analyze(fn any) (*signature, error) {
	if fn == nil {
		return nil, InvalidBindingError{Reason: "nil constructor"}
	}
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, InvalidBindingError{Reason: "constructor must be a function, got " + t.String()}
	}

	var sh *shape
	if cached, ok := bc.shapes.Load(t); ok {
		sh = cached.(*shape)
	} else {
		sh = computeShape(t)
		actual, _ := bc.shapes.LoadOrStore(t, sh)
		sh = actual.(*shape)
	}
	if sh.err != "" {
		return nil, InvalidBindingError{Reason: sh.err + " (" + t.String() + ")"}
	}

	params := make([]Parameter, len(sh.params))
	copy(params, sh.params)
	return &signature{fn: v, typ: t, out: sh.out, withErr: sh.withErr, params: params}, nil
}

func computeShape(t reflect.Type) *shape {
	if t.IsVariadic() {
		return &shape{err: "variadic constructors are not supported"}
	}
	sh := &shape{}
	switch t.NumOut() {
	case 1:
	case 2:
		if t.Out(1) != errorType {
			return &shape{err: "second result must be error"}
		}
		sh.withErr = true
	default:
		return &shape{err: "constructor must return T or (T, error)"}
	}
	sh.out = t.Out(0)
	if sh.out == errorType {
		return &shape{err: "constructor result cannot be error"}
	}

	sh.params = make([]Parameter, t.NumIn())
	for i := range t.NumIn() {
		sh.params[i] = classify(i, t.In(i))
	}
	return sh
}

// classify derives the default shape of an argument from its type alone.
// Whether a slice argument is enumerable is settled by the graph builder.
func classify(i int, t reflect.Type) Parameter {
	p := Parameter{Index: i, Type: t, Service: t}
	if t.Kind() == reflect.Struct && t.Implements(deferredType) {
		target, kind := reflect.Zero(t).Interface().(deferred).deferredTarget()
		p.Service = target
		p.Deferred = kind
	}
	return p
}

// applyParamOptions returns params with the binding's per-index options applied.
func applyParamOptions(params []Parameter, overrides map[int][]ParamOption) ([]Parameter, error) {
	for idx := range overrides {
		if idx < 0 || idx >= len(params) {
			return nil, InvalidBindingError{Reason: "parameter option for index " + strconv.Itoa(idx) +
				" but constructor takes " + strconv.Itoa(len(params)) + " arguments"}
		}
	}
	out := make([]Parameter, len(params))
	copy(out, params)
	for idx, opts := range overrides {
		for _, opt := range opts {
			if opt != nil {
				opt(&out[idx])
			}
		}
		if out[idx].HasDefault {
			dv := reflect.ValueOf(out[idx].Default)
			if !dv.Type().AssignableTo(out[idx].Type) {
				return nil, InvalidBindingError{Reason: "default for parameter #" + strconv.Itoa(idx) +
					" has type " + dv.Type().String() + ", want " + out[idx].Type.String()}
			}
		}
	}
	return out, nil
}
