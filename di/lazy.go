package di

import (
	"reflect"
	"sync"
)

// deferred is implemented by the wrapper types that postpone resolution.
// Deferred edges are skipped by the cycle detector and the captive-dependency rule.
type deferred interface {
	deferredTarget() (reflect.Type, DeferKind)
}

// binder is implemented by pointers to deferred wrappers; the runtime uses it to
// attach the scope the wrapper resolves from.
type binder interface {
	bind(r Resolver, key ServiceKey)
}

var deferredType = reflect.TypeFor[deferred]()

// Lazy resolves T from the constructing scope on first use and keeps the result.
//
// Declare it as a constructor argument:
//
//	func NewReporter(store di.Lazy[Store]) *Reporter
//
// A failed resolution is not cached; the next Value call retries.
type Lazy[T any] struct {
	cell *lazyCell[T]
}

type lazyCell[T any] struct {
	r   Resolver
	key ServiceKey

	mu   sync.Mutex
	done bool
	val  T
}

// Value returns the resolved instance.
func (l Lazy[T]) Value() (T, error) {
	var zero T
	if l.cell == nil {
		return zero, ErrNilResolver
	}
	c := l.cell
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return c.val, nil
	}
	v, err := c.r.Resolve(c.key)
	if err != nil {
		return zero, err
	}
	if v != nil {
		c.val = v.(T)
	}
	c.done = true
	return c.val, nil
}

// MustValue returns the resolved instance or panics.
func (l Lazy[T]) MustValue() T {
	v, err := l.Value()
	if err != nil {
		panic(err)
	}
	return v
}

func (Lazy[T]) deferredTarget() (reflect.Type, DeferKind) {
	return reflect.TypeFor[T](), DeferLazy
}

func (l *Lazy[T]) bind(r Resolver, key ServiceKey) {
	l.cell = &lazyCell[T]{r: r, key: key}
}

// Func resolves T from the constructing scope on every call.
type Func[T any] struct {
	r   Resolver
	key ServiceKey
}

// Get resolves a T.
func (f Func[T]) Get() (T, error) {
	var zero T
	if f.r == nil {
		return zero, ErrNilResolver
	}
	v, err := f.r.Resolve(f.key)
	if err != nil || v == nil {
		return zero, err
	}
	return v.(T), nil
}

func (Func[T]) deferredTarget() (reflect.Type, DeferKind) {
	return reflect.TypeFor[T](), DeferFunc
}

func (f *Func[T]) bind(r Resolver, key ServiceKey) {
	f.r = r
	f.key = key
}
