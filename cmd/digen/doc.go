// Command digen turns a YAML binding manifest into Go registration code.
//
// The runtime path (manifest.Apply with a Catalog) resolves names through
// reflection when the host starts. digen resolves them at compile time instead:
// every declaration becomes a call of the public di registration API, so a
// typo in a type or constructor name is a compile error rather than an Apply
// error.
//
// Usage
//
//	digen -manifest bindings.yaml -package app -out bindings.gen.go [-watch] [-di import/path]
//
// or, from a go:generate directive next to the manifest:
//
//	//go:generate go run github.com/sghaida/odigraph/cmd/digen -manifest bindings.yaml -package app -out bindings.gen.go
//
// What digen generates
//
// One function per manifest:
//
//	func RegisterBindings(r *di.Registry)
//
// which declares the tenants (sorted) and then, in manifest order:
//
//   - bindings as di.Register / di.RegisterInstance
//   - open generics as di.RegisterOpenGeneric with di.FamilyOf
//   - decorators as di.RegisterDecorator
//   - composites as di.RegisterComposite
//   - host lookups as r.Use / r.UseIn
//
// Manifest order is kept because it is meaningful: the last binding of a key
// is the one singular resolution returns, and decorators with equal order wrap
// in declaration order.
//
// The header records the manifest path and its SHA-256 so a stale file is easy
// to spot in review.
//
// Imports
//
// Service types and constructors are written as they read from the target
// package ("Store", "*store.SQL", "NewRepo[User]"). Every package qualifier
// must already be imported by a hand-written (non-test, non-generated) file in
// the output directory; digen copies that import, alias included. The di
// runtime import is taken from the same scan, then from -di, then defaults to
// github.com/sghaida/odigraph/di.
//
// Parameter defaults
//
// A scalar default is emitted as an untyped Go constant (3, "eu", true), so it
// only fits arguments of the constant's default type. Use defaultExpr for any
// other value; it is emitted verbatim.
//
// Watch mode
//
// With -watch, digen keeps running and regenerates whenever the manifest is
// written. An invalid manifest is logged and the previous output is kept.
package main
