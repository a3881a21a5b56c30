package di_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sghaida/odigraph/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, b *di.Builder) *di.Provider {
	t.Helper()
	p, err := b.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Dispose(context.Background()) })
	return p
}

//
// -----------------------------------------------------------------------------
// Lifetimes
// -----------------------------------------------------------------------------

// TestLifetimes verifies the caching behavior of each lifetime across scopes.
func TestLifetimes(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[*counter](b, newCounter, di.Singleton, di.Keyed("singleton"))
	di.Register[*counter](b, newCounter, di.Scoped, di.Keyed("scoped"))
	di.Register[*counter](b, newCounter, di.Transient, di.Keyed("transient"))
	p := build(t, b)

	s1, s2 := p.CreateScope(), p.CreateScope()
	get := func(r di.Resolver, key string) *counter { return di.MustGetService[*counter](r, key) }

	assert.Same(t, get(s1, "singleton"), get(s2, "singleton"))
	assert.Same(t, get(p, "singleton"), get(s1, "singleton"))

	assert.Same(t, get(s1, "scoped"), get(s1, "scoped"))
	assert.NotSame(t, get(s1, "scoped"), get(s2, "scoped"))

	assert.NotSame(t, get(s1, "transient"), get(s1, "transient"))
}

// TestScopeState verifies the Created -> Active -> Disposed life cycle.
func TestScopeState(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[*counter](b, newCounter, di.Scoped)
	p := build(t, b)

	s := p.CreateScope()
	assert.Equal(t, di.ScopeCreated, s.State())

	_, err := di.GetRequiredService[*counter](s)
	require.NoError(t, err)
	assert.Equal(t, di.ScopeActive, s.State())

	require.NoError(t, s.Dispose(context.Background()))
	assert.Equal(t, di.ScopeDisposed, s.State())

	_, err = di.GetRequiredService[*counter](s)
	require.ErrorIs(t, err, di.ErrScopeDisposed)
	code, ok := di.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, di.CodeScopeDisposed, code)
}

// TestConcurrentSingleton verifies concurrent first resolutions build one instance.
func TestConcurrentSingleton(t *testing.T) {
	t.Parallel()

	var built atomic.Int32
	b := di.New()
	di.Register[*Config](b, func() *Config {
		built.Add(1)
		time.Sleep(2 * time.Millisecond)
		return &Config{}
	}, di.Singleton)
	p := build(t, b)

	const n = 32
	got := make([]*Config, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = di.MustGetService[*Config](p.CreateScope())
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, built.Load())
	for _, c := range got {
		assert.Same(t, got[0], c)
	}
}

//
// -----------------------------------------------------------------------------
// Failures during construction
// -----------------------------------------------------------------------------

// TestFactoryErrorIsNotCached verifies a failed construction is retried on the next resolution.
func TestFactoryErrorIsNotCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	b := di.New()
	di.RegisterFactory[*Config](b, func(di.Resolver) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errBoom
		}
		return &Config{DSN: "ok"}, nil
	}, di.Singleton)
	p := build(t, b)

	_, err := di.GetRequiredService[*Config](p)
	require.ErrorIs(t, err, errBoom)
	var ce di.ConstructionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, di.KeyOf[*Config](), ce.Key)

	first, err := di.GetRequiredService[*Config](p)
	require.NoError(t, err)
	assert.Equal(t, "ok", first.DSN)

	second := di.MustGetService[*Config](p)
	assert.Same(t, first, second)
	assert.EqualValues(t, 2, calls.Load())
}

// TestConstructorPanic verifies panics surface as ConstructionError.
func TestConstructorPanic(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[*Config](b, func() *Config { panic("nope") }, di.Transient)
	p := build(t, b)

	_, err := di.GetRequiredService[*Config](p.CreateScope())
	var ce di.ConstructionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "nope", ce.Panic)
	assert.Contains(t, err.Error(), "panic: nope")
}

// TestConstructorErrorResult verifies (T, error) constructors propagate the error.
func TestConstructorErrorResult(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[*Config](b, func() (*Config, error) { return nil, errBoom }, di.Scoped)
	p := build(t, b)

	_, err := di.GetRequiredService[*Config](p.CreateScope())
	require.ErrorIs(t, err, errBoom)
	code, _ := di.CodeOf(err)
	assert.Equal(t, di.CodeConstructionFailed, code)
}

//
// -----------------------------------------------------------------------------
// Disposal
// -----------------------------------------------------------------------------

type connA struct{ resource }

type connB struct {
	resource
	a *connA
}

// TestDisposalReverseOrder verifies B (built after its dependency A) is disposed first.
func TestDisposalReverseOrder(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	b := di.New()
	di.Register[*connA](b, func() *connA { return &connA{resource{name: "A", rec: rec}} }, di.Scoped)
	di.Register[*connB](b, func(a *connA) *connB { return &connB{resource: resource{name: "B", rec: rec}, a: a} }, di.Scoped)
	p := build(t, b)

	s := p.CreateScope()
	got := di.MustGetService[*connB](s)
	require.NotNil(t, got.a)

	require.NoError(t, s.Dispose(context.Background()))
	assert.Equal(t, []string{"dispose B", "dispose A"}, rec.list())

	// second dispose is a no-op
	require.NoError(t, s.Dispose(context.Background()))
	assert.Len(t, rec.list(), 2)
}

// TestDisposalAggregatesFailures verifies every instance is attempted and all failures are reported.
func TestDisposalAggregatesFailures(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	b := di.New()
	di.Register[*connA](b, func() *connA { return &connA{resource{name: "A", rec: rec, fail: errBoom}} }, di.Transient)
	di.Register[*connB](b, func(a *connA) *connB {
		return &connB{resource: resource{name: "B", rec: rec, fail: errBoom}, a: a}
	}, di.Transient)
	p := build(t, b)

	s := p.CreateScope()
	_ = di.MustGetService[*connB](s)

	err := s.Dispose(context.Background())
	require.Error(t, err)

	var de *di.DisposalError
	require.ErrorAs(t, err, &de)
	assert.Len(t, de.Errors, 2)
	assert.ErrorIs(t, err, errBoom)
	code, _ := di.CodeOf(err)
	assert.Equal(t, di.CodeDisposalAggregateFailure, code)
	assert.Equal(t, []string{"dispose B", "dispose A"}, rec.list())
}

// TestDisposalContracts verifies every supported contract is honored and instances are not owned.
func TestDisposalContracts(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	external := &closer{name: "external", rec: rec}

	b := di.New()
	di.Register[*closer](b, func() *closer { return &closer{name: "owned", rec: rec} }, di.Singleton)
	di.Register[*asyncResource](b, func() *asyncResource { return &asyncResource{name: "async", rec: rec} }, di.Singleton)
	di.RegisterInstance[*closer](b, external, di.Keyed("external"))
	p, err := b.Build(context.Background())
	require.NoError(t, err)

	_ = di.MustGetService[*closer](p)
	_ = di.MustGetService[*asyncResource](p)
	assert.Same(t, external, di.MustGetService[*closer](p, "external"))

	require.NoError(t, p.Dispose(context.Background()))
	assert.Equal(t, []string{"dispose-async async", "close owned"}, rec.list())
}

//
// -----------------------------------------------------------------------------
// Captive dependencies
// -----------------------------------------------------------------------------

type session struct{ resource }

type pool struct{ s *session }

// TestCaptiveDependencyUsesConstructionScope verifies a singleton never captures the caller's scoped instance.
func TestCaptiveDependencyUsesConstructionScope(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	b := di.New()
	di.Register[*session](b, func() *session { return &session{resource{name: "session", rec: rec}} }, di.Scoped)
	di.Register[*pool](b, func(s *session) *pool { return &pool{s: s} }, di.Singleton)
	p, err := b.Build(context.Background())
	require.NoError(t, err)

	s1, s2 := p.CreateScope(), p.CreateScope()
	poolA := di.MustGetService[*pool](s1)
	own := di.MustGetService[*session](s1)

	assert.NotSame(t, own, poolA.s)
	assert.Same(t, poolA, di.MustGetService[*pool](s2))
	assert.Same(t, poolA, di.MustGetService[*pool](p))

	// scope disposal releases the scope's own session only
	require.NoError(t, s1.Dispose(context.Background()))
	assert.Equal(t, []string{"dispose session"}, rec.list())

	// the captive session belongs to the provider
	require.NoError(t, p.Dispose(context.Background()))
	assert.Equal(t, []string{"dispose session", "dispose session"}, rec.list())
}

//
// -----------------------------------------------------------------------------
// Deferred arguments
// -----------------------------------------------------------------------------

type node struct{ next di.Lazy[*peer] }
type peer struct{ n *node }

type ticketer struct{ next di.Func[*counter] }

// TestLazyBreaksCycle verifies a Lazy edge allows a mutual dependency.
func TestLazyBreaksCycle(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[*node](b, func(next di.Lazy[*peer]) *node { return &node{next: next} }, di.Scoped)
	di.Register[*peer](b, func(n *node) *peer { return &peer{n: n} }, di.Scoped)
	p := build(t, b)

	s := p.CreateScope()
	n := di.MustGetService[*node](s)
	pr, err := n.next.Value()
	require.NoError(t, err)
	assert.Same(t, n, pr.n)

	again := n.next.MustValue()
	assert.Same(t, pr, again)
}

// TestFuncResolvesEachCall verifies Func resolves through the scope on every call.
func TestFuncResolvesEachCall(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[*counter](b, newCounter, di.Transient)
	di.Register[*ticketer](b, func(f di.Func[*counter]) *ticketer { return &ticketer{next: f} }, di.Scoped)
	p := build(t, b)

	tk := di.MustGetService[*ticketer](p.CreateScope())
	a, err := tk.next.Get()
	require.NoError(t, err)
	c, err := tk.next.Get()
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

// TestZeroDeferred verifies unbound wrappers fail instead of panicking.
func TestZeroDeferred(t *testing.T) {
	t.Parallel()

	var l di.Lazy[*counter]
	_, err := l.Value()
	require.ErrorIs(t, err, di.ErrNilResolver)

	var f di.Func[*counter]
	_, err = f.Get()
	require.True(t, errors.Is(err, di.ErrNilResolver))
}

//
// -----------------------------------------------------------------------------
// Runtime cycle guard
// -----------------------------------------------------------------------------

type ringA struct{ bs []*ringB }
type ringB struct{ a *ringA }

// TestRuntimeCycleThroughEnumerable verifies re-entry is reported instead of overflowing the stack.
func TestRuntimeCycleThroughEnumerable(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[*ringA](b, func(bs []*ringB) *ringA { return &ringA{bs: bs} }, di.Transient)
	di.Register[*ringB](b, func(a *ringA) *ringB { return &ringB{a: a} }, di.Transient)
	p := build(t, b)

	_, err := di.GetRequiredService[*ringA](p.CreateScope())
	var cyc di.CircularDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []di.ServiceKey{di.KeyOf[*ringA](), di.KeyOf[*ringB](), di.KeyOf[*ringA]()}, cyc.Path)
}

type eagerNode struct{ peer *eagerPeer }
type eagerPeer struct{ n *eagerNode }

// TestForcedLazyDuringConstruction verifies a Lazy forced inside its constructor
// joins the running resolution, so re-entry is a cycle error rather than a hang.
func TestForcedLazyDuringConstruction(t *testing.T) {
	t.Parallel()

	for _, lt := range []di.Lifetime{di.Scoped, di.Transient} {
		t.Run(lt.String(), func(t *testing.T) {
			t.Parallel()

			b := di.New()
			di.Register[*eagerNode](b, func(next di.Lazy[*eagerPeer]) (*eagerNode, error) {
				p, err := next.Value()
				if err != nil {
					return nil, err
				}
				return &eagerNode{peer: p}, nil
			}, lt)
			di.Register[*eagerPeer](b, func(n *eagerNode) *eagerPeer { return &eagerPeer{n: n} }, di.Transient)
			p := build(t, b)

			done := make(chan error, 1)
			go func() {
				_, err := di.GetRequiredService[*eagerNode](p.CreateScope())
				done <- err
			}()

			var err error
			select {
			case err = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("resolution did not return")
			}
			var cyc di.CircularDependencyError
			require.ErrorAs(t, err, &cyc)
			assert.Equal(t, []di.ServiceKey{di.KeyOf[*eagerNode](), di.KeyOf[*eagerPeer](), di.KeyOf[*eagerNode]()}, cyc.Path)
		})
	}
}

// TestForcedFuncDuringConstruction verifies deferred wrappers forced while
// constructing resolve normally and keep working after construction.
func TestForcedFuncDuringConstruction(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[*counter](b, newCounter, di.Transient)
	di.Register[*ticketer](b, func(f di.Func[*counter]) (*ticketer, error) {
		if _, err := f.Get(); err != nil {
			return nil, err
		}
		return &ticketer{next: f}, nil
	}, di.Scoped)
	p := build(t, b)

	tk, err := di.GetRequiredService[*ticketer](p.CreateScope())
	require.NoError(t, err)
	a, err := tk.next.Get()
	require.NoError(t, err)
	c, err := tk.next.Get()
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

// TestForcedLazyRespectsMaxDepth verifies the depth limit counts frames entered through a forced Lazy.
func TestForcedLazyRespectsMaxDepth(t *testing.T) {
	t.Parallel()

	b := di.New(di.WithMaxResolutionDepth(2))
	di.Register[*Config](b, newConfig, di.Transient)
	di.Register[Store](b, newRootStore, di.Transient)
	di.Register[*Handler](b, func(s di.Lazy[Store]) (*Handler, error) {
		st, err := s.Value()
		if err != nil {
			return nil, err
		}
		return newHandler(st), nil
	}, di.Transient)
	p := build(t, b)

	_, err := di.GetRequiredService[*Handler](p.CreateScope())
	var cyc di.CircularDependencyError
	require.ErrorAs(t, err, &cyc)
}
