// Package di compiles declared services into a validated dependency graph and
// resolves them at run time.
//
// Declarations are collected in a Registry (or a Builder, which embeds one):
//
//   - bindings: a service type bound to constructors, a factory or an instance,
//     with a Lifetime (Singleton, Scoped, Transient) and an optional key
//   - open generics: a family such as Repo[T] plus the closure constructors the
//     host is willing to instantiate (NewRepo[User], NewRepo[Order], ...)
//   - decorators and composites wrapping or aggregating a service
//   - tenant overlays, declared with ForTenant
//
// Build turns the declarations into a Graph. Every problem (cycles, missing
// dependencies, ambiguous constructors, malformed bindings) is reported at once
// in a *BuildError, before anything is constructed. The resulting Provider
// resolves singletons directly; everything else is resolved from a Scope.
//
//	b := di.New(di.WithLogger(logger))
//	di.Register[*Config](b, LoadConfig, di.Singleton)
//	di.Register[Store](b, NewSQLStore, di.Scoped)
//	di.Register[Store](b, NewMemStore, di.Scoped, di.ForTenant("sandbox"))
//
//	p, err := b.Build(ctx)
//	if err != nil {
//		return err
//	}
//	defer p.Dispose(ctx)
//
//	scope := p.CreateScope()
//	defer scope.Dispose(ctx)
//	store, err := di.GetRequiredService[Store](scope)
//
// Constructor arguments are resolved by type. []S receives every registration
// of S, Lazy[S] resolves on first use and Func[S] on every call; the deferred
// forms break construction cycles. Per-argument options (FromKey, Optional,
// Nullable) are attached with Param.
//
// Scopes own the disposable instances they construct (AsyncDisposable,
// Disposable or io.Closer) and release them in reverse construction order.
//
// Import
//
//	"github.com/sghaida/odigraph/di"
package di
