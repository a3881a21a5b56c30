package di

import (
	"reflect"
	"strconv"
)

// GetRequiredService resolves T (optionally keyed) or returns an error.
//
//	greeter, err := di.GetRequiredService[Greeter](scope)
//	fr, err := di.GetRequiredService[Greeter](scope, "fr")
func GetRequiredService[T any](r Resolver, key ...string) (T, error) {
	var zero T
	if r == nil {
		return zero, ErrNilResolver
	}
	k := KeyOf[T](key...)
	v, err := r.Resolve(k)
	if err != nil {
		return zero, err
	}
	return as[T](k, v)
}

// GetOptionalService resolves T, reporting ok=false when nothing is registered.
// Construction failures are still returned as errors.
func GetOptionalService[T any](r Resolver, key ...string) (T, bool, error) {
	var zero T
	if r == nil {
		return zero, false, ErrNilResolver
	}
	k := KeyOf[T](key...)
	v, ok, err := r.ResolveOptional(k)
	if err != nil || !ok {
		return zero, false, err
	}
	t, err := as[T](k, v)
	return t, err == nil, err
}

// GetServices resolves every registration of T in declaration order.
func GetServices[T any](r Resolver, key ...string) ([]T, error) {
	if r == nil {
		return nil, ErrNilResolver
	}
	k := KeyOf[T](key...)
	vs, err := r.ResolveAll(k)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		t, err := as[T](k, v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// MustGetService is GetRequiredService that panics on error.
// Useful in examples and tests where a missing service should fail fast.
func MustGetService[T any](r Resolver, key ...string) T {
	v, err := GetRequiredService[T](r, key...)
	if err != nil {
		panic(err)
	}
	return v
}

func as[T any](k ServiceKey, v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, ConstructionError{Key: k, Err: wrongTypeError{got: reflect.TypeOf(v)}}
	}
	return t, nil
}

type wrongTypeError struct{ got reflect.Type }

func (e wrongTypeError) Error() string {
	return "resolved value has type " + strconv.Quote(qualifiedName(e.got))
}
