package di

import (
	"context"
	"fmt"
	"io"
	"reflect"
)

// AsyncDisposable is released with a context; it is preferred over the other contracts.
type AsyncDisposable interface {
	DisposeAsync(ctx context.Context) error
}

// Disposable is released synchronously.
type Disposable interface {
	Dispose() error
}

// Initializer is implemented by singletons that need setup before the provider
// is handed out. Initialize runs during Build.
type Initializer interface {
	Initialize(ctx context.Context) error
}

var initializerType = reflect.TypeFor[Initializer]()

func implementsInitializer(t reflect.Type) bool {
	return t != nil && t.Kind() != reflect.Interface && t.Implements(initializerType)
}

func isDisposable(v any) bool {
	switch v.(type) {
	case AsyncDisposable, Disposable, io.Closer:
		return true
	}
	return false
}

// tracked is one instance a scope must release.
type tracked struct {
	key      ServiceKey
	instance any
}

// disposeOne releases v through the first contract it implements. Panics are
// reported as errors so the remaining instances are still released.
func disposeOne(ctx context.Context, t tracked) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("di: disposing %s panicked: %v", t.key, rec)
		}
	}()
	switch d := t.instance.(type) {
	case AsyncDisposable:
		err = d.DisposeAsync(ctx)
	case Disposable:
		err = d.Dispose()
	case io.Closer:
		err = d.Close()
	}
	if err != nil {
		return fmt.Errorf("di: disposing %s: %w", t.key, err)
	}
	return nil
}
