package di_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sghaida/odigraph/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	zapobserver "go.uber.org/zap/zaptest/observer"
)

//
// -----------------------------------------------------------------------------
// Initialization
// -----------------------------------------------------------------------------

// TestInitializersRunInOrder verifies groups run in ascending InitOrder during Build.
func TestInitializersRunInOrder(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	b := di.New()
	di.Register[*warmCache](b, func() *warmCache { return &warmCache{name: "late", rec: rec} }, di.Singleton,
		di.Keyed("late"), di.InitOrder(10))
	di.Register[*warmCache](b, func() *warmCache { return &warmCache{name: "early", rec: rec} }, di.Singleton,
		di.Keyed("early"), di.InitOrder(-1))
	di.RegisterInstance[*warmCache](b, &warmCache{name: "instance", rec: rec}, di.Keyed("instance"))
	di.Register[*warmCache](b, func() *warmCache { return &warmCache{name: "scoped", rec: rec} }, di.Scoped,
		di.Keyed("scoped"))
	p := build(t, b)

	assert.Equal(t, []string{"init early", "init late"}, rec.list())

	// the initialized instance is the cached one
	_ = di.MustGetService[*warmCache](p, "late")
	assert.Len(t, rec.list(), 2)
}

// TestInitializerRunsOnUndecoratedInstance verifies decorators do not hide the Initializer.
func TestInitializerRunsOnUndecoratedInstance(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	type warmer interface{ Initialize(context.Context) error }
	b := di.New()
	di.Register[warmer](b, func() *warmCache { return &warmCache{name: "base", rec: rec} }, di.Singleton)
	di.RegisterDecorator[warmer](b, func(inner warmer) warmer {
		return &warmCache{name: "decorated", rec: rec}
	}, 0)
	build(t, b)

	assert.Equal(t, []string{"init base"}, rec.list())
}

// TestInitializerFailure verifies a failed Initialize aborts Build.
func TestInitializerFailure(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	b := di.New()
	di.Register[*resource](b, func() *resource { return &resource{name: "dep", rec: rec} }, di.Singleton)
	di.Register[*warmCache](b, func(*resource) *warmCache {
		return &warmCache{name: "bad", rec: rec, fail: errBoom}
	}, di.Singleton)
	p, err := b.Build(context.Background())
	require.Nil(t, p)

	var ie di.InitializationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, di.KeyOf[*warmCache](), ie.Key)
	assert.ErrorIs(t, err, errBoom)
	code, _ := di.CodeOf(err)
	assert.Equal(t, di.CodeInitializationFailed, code)

	assert.Equal(t, []string{"init bad", "dispose dep"}, rec.list(), "singletons built so far are released")
}

//
// -----------------------------------------------------------------------------
// Root resolution
// -----------------------------------------------------------------------------

// TestRootResolution verifies only singletons are reachable from a provider.
func TestRootResolution(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[*Config](b, newConfig, di.Singleton)
	di.Register[*counter](b, newCounter, di.Scoped)
	p := build(t, b)

	_, err := di.GetRequiredService[*Config](p)
	require.NoError(t, err)

	cases := []struct {
		name       string
		resolve    func() error
		registered bool
	}{
		{
			name: "scoped",
			resolve: func() error {
				_, err := di.GetRequiredService[*counter](p)
				return err
			},
			registered: true,
		},
		{
			name: "unregistered",
			resolve: func() error {
				_, err := di.GetRequiredService[Store](p)
				return err
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var missing di.MissingRegistrationError
			require.ErrorAs(t, tc.resolve(), &missing)
			assert.True(t, missing.FromRoot)
			assert.Equal(t, tc.registered, missing.Registered)
		})
	}
}

// TestGetOptionalService verifies ok=false only for keys with no registration.
func TestGetOptionalService(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[*Config](b, newConfig, di.Singleton)
	di.Register[*counter](b, newCounter, di.Scoped)
	p := build(t, b)

	cfg, ok, err := di.GetOptionalService[*Config](p)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, cfg)

	_, ok, err = di.GetOptionalService[Store](p.CreateScope())
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = di.GetOptionalService[*counter](p)
	require.Error(t, err, "a registered scoped service is an error from the root, not an absence")
	assert.False(t, ok)
}

// TestNilResolver verifies the generic helpers reject a nil Resolver.
func TestNilResolver(t *testing.T) {
	t.Parallel()

	_, err := di.GetRequiredService[*Config](nil)
	require.ErrorIs(t, err, di.ErrNilResolver)
	_, _, err = di.GetOptionalService[*Config](nil)
	require.ErrorIs(t, err, di.ErrNilResolver)
	_, err = di.GetServices[*Config](nil)
	require.ErrorIs(t, err, di.ErrNilResolver)
	assert.Panics(t, func() { di.MustGetService[*Config](nil) })

	code, ok := di.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, di.CodeNilResolver, code)
}

// TestMaxResolutionDepth verifies deep chains are cut off.
func TestMaxResolutionDepth(t *testing.T) {
	t.Parallel()

	b := di.New(di.WithMaxResolutionDepth(1))
	di.Register[*Config](b, newConfig, di.Singleton)
	di.Register[Store](b, newRootStore, di.Scoped)
	p := build(t, b)

	_, err := di.GetRequiredService[Store](p.CreateScope())
	var cyc di.CircularDependencyError
	require.ErrorAs(t, err, &cyc)
}

// TestDisposedProvider verifies disposal is idempotent and later scopes are unusable.
func TestDisposedProvider(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	b := di.New()
	di.Register[*resource](b, func() *resource { return &resource{name: "single", rec: rec} }, di.Singleton)
	di.Register[*counter](b, newCounter, di.Scoped)
	p, err := b.Build(context.Background())
	require.NoError(t, err)

	_ = di.MustGetService[*resource](p)
	require.NoError(t, p.Dispose(context.Background()))
	require.NoError(t, p.Dispose(context.Background()))
	assert.Equal(t, []string{"dispose single"}, rec.list())

	s := p.CreateScope()
	assert.Equal(t, di.ScopeDisposed, s.State())
	_, err = di.GetRequiredService[*counter](s)
	require.ErrorIs(t, err, di.ErrScopeDisposed)
}

//
// -----------------------------------------------------------------------------
// Diagnostics
// -----------------------------------------------------------------------------

// TestDescribeIsDeterministic verifies registration order does not change the description.
func TestDescribeIsDeterministic(t *testing.T) {
	t.Parallel()

	forward := di.New()
	di.Register[*Config](forward, newConfig, di.Singleton)
	di.Register[Store](forward, newRootStore, di.Scoped)
	di.Register[*Handler](forward, newHandler, di.Scoped)

	backward := di.New()
	di.Register[*Handler](backward, newHandler, di.Scoped)
	di.Register[Store](backward, newRootStore, di.Scoped)
	di.Register[*Config](backward, newConfig, di.Singleton)

	a := build(t, forward).Describe()
	z := build(t, backward).Describe()
	require.Len(t, a, 3)
	assert.Equal(t, a, z)

	for _, info := range a {
		assert.True(t, info.Winner)
	}
}

// TestDescribeMarksConstructionScope verifies singletons over scoped dependencies are flagged.
func TestDescribeMarksConstructionScope(t *testing.T) {
	t.Parallel()

	b := di.New()
	di.Register[*Config](b, newConfig, di.Scoped)
	di.Register[Store](b, newRootStore, di.Singleton)
	p := build(t, b)

	for _, info := range p.Describe() {
		if info.Service == di.KeyOf[Store]().String() {
			assert.True(t, info.ConstructionScope)
			assert.Equal(t, []string{"single:" + di.KeyOf[*Config]().String()}, info.Dependencies)
			return
		}
	}
	t.Fatal("store not described")
}

type eventLog struct {
	mu        sync.Mutex
	builds    []string
	resolved  []di.ServiceKey
	disposals int
}

func (l *eventLog) BuildFinished(tenant string, _ int, _ time.Duration, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.builds = append(l.builds, tenant)
}

func (l *eventLog) Resolved(key di.ServiceKey, _ di.Lifetime, _ time.Duration, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolved = append(l.resolved, key)
}

func (l *eventLog) ScopeDisposed(int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disposals++
}

// TestObserverEvents verifies builds, top-level resolutions and disposals are reported.
func TestObserverEvents(t *testing.T) {
	t.Parallel()

	log := &eventLog{}
	b := di.New(di.WithObserver(log))
	appWithTenant(b)
	p, err := b.Build(context.Background())
	require.NoError(t, err)

	s := p.CreateScope()
	_ = di.MustGetService[*Handler](s)
	require.NoError(t, s.Dispose(context.Background()))
	require.NoError(t, p.Dispose(context.Background()))

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []string{"", "acme"}, log.builds)
	assert.Equal(t, []di.ServiceKey{di.KeyOf[*Handler]()}, log.resolved)
	assert.Equal(t, 3, log.disposals, "scope, tenant root, provider root")
}

// TestBuildSpans verifies the build is traced per compiled graph.
func TestBuildSpans(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	b := di.New(di.WithTracerProvider(tp))
	appWithTenant(b)
	build(t, b)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"di.compile", "di.compile", "di.Build"}, names)

	failing := di.New(di.WithTracerProvider(tp))
	di.Register[*Handler](failing, newHandler, di.Scoped)
	_, err := failing.Build(context.Background())
	require.Error(t, err)

	ended := sr.Ended()
	last := ended[len(ended)-1]
	assert.Equal(t, "di.Build", last.Name())
	assert.Equal(t, codes.Error, last.Status().Code)
}

// TestDisposalFailuresAreLogged verifies each disposal failure is logged at warn level.
func TestDisposalFailuresAreLogged(t *testing.T) {
	t.Parallel()

	core, logs := zapobserver.New(zap.WarnLevel)
	b := di.New(di.WithLogger(zap.New(core)))
	di.Register[*resource](b, func() *resource { return &resource{name: "r", rec: &recorder{}, fail: errBoom} }, di.Scoped)
	p := build(t, b)

	s := p.CreateScope()
	_ = di.MustGetService[*resource](s)
	require.Error(t, s.Dispose(context.Background()))

	entries := logs.FilterMessage("dispose failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
}

// TestDebugLogging verifies a development logger can be attached for a whole life cycle.
func TestDebugLogging(t *testing.T) {
	t.Parallel()

	b := di.New(di.WithLogger(zaptest.NewLogger(t)))
	appWithTenant(b)
	p := build(t, b)
	_ = di.MustGetService[*Handler](p.CreateScope())
}
