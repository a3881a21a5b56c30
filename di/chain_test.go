package di_test

import (
	"context"
	"testing"

	"github.com/sghaida/odigraph/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//
// -----------------------------------------------------------------------------
// Decorators
// -----------------------------------------------------------------------------

// TestDecoratorOrder verifies lower orders sit closer to the implementation, regardless of declaration order.
func TestDecoratorOrder(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[Greeter](b, func() Greeter { return textGreeter("hello") }, di.Scoped)
	di.RegisterDecorator[Greeter](b, tagWith("b"), 1)
	di.RegisterDecorator[Greeter](b, tagWith("a"), 0)
	di.RegisterDecorator[Greeter](b, tagWith("c"), 1)
	p := build(t, b)

	assert.Equal(t, "c(b(a(hello)))", di.MustGetService[Greeter](p.CreateScope()).Greet())

	chain := p.Graph().Decorators(di.KeyOf[Greeter]())
	require.Len(t, chain, 3)
	assert.Equal(t, []int{0, 1, 1}, []int{chain[0].Order, chain[1].Order, chain[2].Order})
}

// TestDecoratorsWrapEveryRegistration verifies enumerable resolution sees decorated members.
func TestDecoratorsWrapEveryRegistration(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[Greeter](b, func() Greeter { return textGreeter("hi") }, di.Transient)
	di.Register[Greeter](b, func() Greeter { return textGreeter("hola") }, di.Transient)
	di.RegisterDecorator[Greeter](b, tagWith("x"), 0)
	p := build(t, b)

	all, err := di.GetServices[Greeter](p.CreateScope())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "x(hi)", all[0].Greet())
	assert.Equal(t, "x(hola)", all[1].Greet())
}

// TestKeyedDecorator verifies a keyed decorator leaves the unkeyed registration alone.
func TestKeyedDecorator(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[Greeter](b, func() Greeter { return textGreeter("hi") }, di.Singleton)
	di.Register[Greeter](b, func() Greeter { return textGreeter("salut") }, di.Singleton, di.Keyed("fr"))
	di.RegisterDecorator[Greeter](b, tagWith("fr"), 0, di.Keyed("fr"))
	p := build(t, b)

	assert.Equal(t, "hi", di.MustGetService[Greeter](p).Greet())
	assert.Equal(t, "fr(salut)", di.MustGetService[Greeter](p, "fr").Greet())
}

// TestDecoratorDependencies verifies decorators receive their own resolved arguments.
func TestDecoratorDependencies(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[*Config](b, func() *Config { return &Config{DSN: "pg"} }, di.Singleton)
	di.Register[Greeter](b, func() Greeter { return textGreeter("hi") }, di.Scoped)
	di.RegisterDecorator[Greeter](b, func(cfg *Config, inner Greeter) Greeter {
		return taggedGreeter{inner: inner, tag: cfg.DSN}
	}, 0)
	p := build(t, b)

	assert.Equal(t, "pg(hi)", di.MustGetService[Greeter](p.CreateScope()).Greet())
}

// TestDecoratorValidation verifies malformed decorators are reported at build time.
func TestDecoratorValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ctor any
	}{
		{name: "no inner argument", ctor: func() Greeter { return textGreeter("x") }},
		{name: "two inner arguments", ctor: func(a, b Greeter) Greeter { return a }},
		{name: "wrong result", ctor: func(g Greeter) string { return g.Greet() }},
		{name: "not a function", ctor: "decorate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b := di.New()
			di.Register[Greeter](b, func() Greeter { return textGreeter("hi") }, di.Scoped)
			di.RegisterDecorator[Greeter](b, tc.ctor, 0)
			_, err := b.Build(context.Background())

			var ib di.InvalidBindingError
			require.ErrorAs(t, err, &ib)
			assert.Equal(t, di.KeyOf[Greeter](), ib.Service)
		})
	}
}

// TestDecoratorMissingDependency verifies a decorator argument with no registration fails the build.
func TestDecoratorMissingDependency(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[Greeter](b, func() Greeter { return textGreeter("hi") }, di.Scoped)
	di.RegisterDecorator[Greeter](b, func(inner Greeter, s Store) Greeter { return inner }, 0)
	_, err := b.Build(context.Background())

	var ue di.UnresolvedDependencyError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, di.KeyOf[Store](), ue.Parameter.ServiceKey())
}

type disposableGreeter struct {
	resource
	inner Greeter
}

func (g *disposableGreeter) Greet() string { return "d(" + g.inner.Greet() + ")" }

// TestDecoratorLayersAreDisposed verifies every distinct layer is tracked by the scope.
func TestDecoratorLayersAreDisposed(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	b := di.New()
	di.Register[Greeter](b, func() Greeter {
		return &disposableGreeter{resource: resource{name: "impl", rec: rec}, inner: textGreeter("hi")}
	}, di.Scoped)
	di.RegisterDecorator[Greeter](b, func(inner Greeter) Greeter {
		return &disposableGreeter{resource: resource{name: "layer", rec: rec}, inner: inner}
	}, 0)
	di.RegisterDecorator[Greeter](b, func(inner Greeter) Greeter { return inner }, 1)
	p := build(t, b)

	s := p.CreateScope()
	assert.Equal(t, "d(d(hi))", di.MustGetService[Greeter](s).Greet())
	require.NoError(t, s.Dispose(context.Background()))
	assert.Equal(t, []string{"dispose layer", "dispose impl"}, rec.list())
}

//
// -----------------------------------------------------------------------------
// Composites
// -----------------------------------------------------------------------------

// TestComposite verifies the composite wins singular resolution and aggregates decorated members.
func TestComposite(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[Greeter](b, func() Greeter { return textGreeter("hi") }, di.Singleton)
	di.Register[Greeter](b, func() Greeter { return textGreeter("hola") }, di.Singleton)
	di.RegisterDecorator[Greeter](b, tagWith("x"), 0)
	di.RegisterComposite[Greeter](b, newChorus)
	p := build(t, b)

	s := p.CreateScope()
	assert.Equal(t, "x(hi)+x(hola)", di.MustGetService[Greeter](s).Greet())

	all, err := di.GetServices[Greeter](s)
	require.NoError(t, err)
	assert.Len(t, all, 2, "the composite is not one of its own members")

	c, ok := p.Graph().Composite(di.KeyOf[Greeter]())
	require.True(t, ok)
	assert.Equal(t, di.Singleton, c.Lifetime)
}

// TestCompositeLifetime verifies the default and overridden composite lifetimes.
func TestCompositeLifetime(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		opts []di.BindOption
		regs int
		want di.Lifetime
	}{
		{name: "follows the last registration", regs: 1, want: di.Scoped},
		{name: "transient without registrations", regs: 0, want: di.Transient},
		{name: "explicit", regs: 1, opts: []di.BindOption{di.WithLifetime(di.Singleton)}, want: di.Singleton},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b := di.New()
			for range tc.regs {
				di.Register[Greeter](b, func() Greeter { return textGreeter("hi") }, di.Scoped)
			}
			di.RegisterComposite[Greeter](b, newChorus, tc.opts...)
			p := build(t, b)

			c, ok := p.Graph().Composite(di.KeyOf[Greeter]())
			require.True(t, ok)
			assert.Equal(t, tc.want, c.Lifetime)
		})
	}
}

// TestLastCompositeWins verifies only the last declared composite is used.
func TestLastCompositeWins(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[Greeter](b, func() Greeter { return textGreeter("hi") }, di.Transient)
	di.RegisterComposite[Greeter](b, func(gs []Greeter) Greeter { return textGreeter("first") })
	di.RegisterComposite[Greeter](b, newChorus)
	p := build(t, b)

	assert.Equal(t, "hi", di.MustGetService[Greeter](p.CreateScope()).Greet())
}

// TestCompositeWithoutMembersArgument verifies a composite must take []S.
func TestCompositeWithoutMembersArgument(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.RegisterComposite[Greeter](b, func(g Greeter) Greeter { return g })
	_, err := b.Build(context.Background())

	var ib di.InvalidBindingError
	require.ErrorAs(t, err, &ib)
	assert.Contains(t, ib.Reason, "[]")
}
