package di

import (
	"reflect"
	"strings"
)

// ServiceKey identifies a bindable contract: a service type plus an optional key.
//
// ServiceKey is comparable and safe to use as a map key.
type ServiceKey struct {
	Type reflect.Type
	Key  string
}

// KeyOf returns the ServiceKey for T, optionally qualified by key.
//
//	di.KeyOf[Greeter]()      // unkeyed
//	di.KeyOf[Greeter]("fr")  // keyed
func KeyOf[T any](key ...string) ServiceKey {
	return ServiceKey{Type: reflect.TypeFor[T](), Key: firstKey(key)}
}

// String renders the key as "<qualified type>" or "<qualified type>#<key>".
func (k ServiceKey) String() string {
	name := qualifiedName(k.Type)
	if k.Key == "" {
		return name
	}
	return name + "#" + k.Key
}

func compareKeys(a, b ServiceKey) int {
	if c := strings.Compare(qualifiedName(a.Type), qualifiedName(b.Type)); c != 0 {
		return c
	}
	return strings.Compare(a.Key, b.Key)
}

func firstKey(key []string) string {
	if len(key) == 0 {
		return ""
	}
	return key[0]
}

// qualifiedName is the full import path form of t, used for stable ordering.
func qualifiedName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + qualifiedName(t.Elem())
	case reflect.Slice:
		return "[]" + qualifiedName(t.Elem())
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// Family identifies an open-generic type: the generic type without its type arguments.
//
// reflect has no notion of uninstantiated generics, so a family is recovered from the
// name of any instantiation: "Repo[example.com/app.User]" belongs to family "Repo".
type Family struct {
	PkgPath string
	Name    string
}

// FamilyOf returns the family of a sample instantiation, e.g. FamilyOf[Repo[any]]().
// Pointer samples (*Repo[any]) resolve to the pointed-to family.
func FamilyOf[T any]() Family {
	f, _, _ := familyOf(reflect.TypeFor[T]())
	return f
}

func (f Family) String() string {
	if f.PkgPath == "" {
		return f.Name
	}
	return f.PkgPath + "." + f.Name
}

// familyOf splits an instantiated generic type into its family and its type
// argument list (including brackets). ok is false for non-generic types.
func familyOf(t reflect.Type) (f Family, args string, ok bool) {
	if t == nil {
		return Family{}, "", false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	i := strings.IndexByte(name, '[')
	if i <= 0 || !strings.HasSuffix(name, "]") {
		return Family{}, "", false
	}
	return Family{PkgPath: t.PkgPath(), Name: name[:i]}, name[i:], true
}
