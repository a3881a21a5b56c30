package di

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Resolver resolves services by key. *Scope and *Provider implement it; so do the
// resolvers handed to factories.
type Resolver interface {
	Resolve(key ServiceKey) (any, error)
	ResolveOptional(key ServiceKey) (any, bool, error)
	ResolveAll(key ServiceKey) ([]any, error)
}

// ScopeState is the life cycle of a scope: Created, then Active on first
// resolution, then Disposed (terminal).
type ScopeState int32

const (
	// ScopeCreated scopes have not resolved anything yet.
	ScopeCreated ScopeState = iota
	// ScopeActive scopes have resolved at least once.
	ScopeActive
	// ScopeDisposed scopes reject every resolution.
	ScopeDisposed
)

func (s ScopeState) String() string {
	switch s {
	case ScopeCreated:
		return "created"
	case ScopeActive:
		return "active"
	case ScopeDisposed:
		return "disposed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Scope is a unit of work: it caches scoped instances and owns every disposable
// it constructed.
//
// A scope may be used from several goroutines; its cache is guarded per entry.
type Scope struct {
	id       uuid.UUID
	provider *Provider
	root     bool
	state    atomic.Int32

	mu      sync.Mutex
	cells   map[*planEntry]*cell
	tracked []tracked
}

// cell is a single-assignment slot. Unlike sync.Once it stays empty when
// construction fails, so the next caller retries.
type cell struct {
	mu   sync.Mutex
	done atomic.Bool
	val  any
	base any
}

func (c *cell) get(build func() (val, base any, err error)) (any, error) {
	if c.done.Load() {
		return c.val, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done.Load() {
		return c.val, nil
	}
	v, b, err := build()
	if err != nil {
		return nil, err
	}
	c.val, c.base = v, b
	c.done.Store(true)
	return v, nil
}

// resolution is the state of one top-level resolution call.
type resolution struct {
	chain []*planEntry
}

func (r *resolution) enter(e *planEntry, maxDepth int) error {
	if i := slices.Index(r.chain, e); i >= 0 {
		return CircularDependencyError{Path: r.path(r.chain[i:], e)}
	}
	if maxDepth > 0 && len(r.chain) >= maxDepth {
		return CircularDependencyError{Path: r.path(r.chain, e)}
	}
	r.chain = append(r.chain, e)
	return nil
}

func (r *resolution) leave() { r.chain = r.chain[:len(r.chain)-1] }

func (r *resolution) path(entries []*planEntry, last *planEntry) []ServiceKey {
	out := make([]ServiceKey, 0, len(entries)+1)
	for _, e := range entries {
		out = append(out, e.key)
	}
	return append(out, last.key)
}

func newScope(p *Provider, root bool) *Scope {
	return &Scope{id: uuid.New(), provider: p, root: root, cells: make(map[*planEntry]*cell)}
}

// ID identifies the scope in logs and diagnostics.
func (s *Scope) ID() uuid.UUID { return s.id }

// State returns the current life-cycle state.
func (s *Scope) State() ScopeState { return ScopeState(s.state.Load()) }

// Provider returns the provider that created the scope.
func (s *Scope) Provider() *Provider { return s.provider }

func (s *Scope) activate() error {
	if s.state.CompareAndSwap(int32(ScopeCreated), int32(ScopeActive)) {
		return nil
	}
	if s.State() == ScopeDisposed {
		return ErrScopeDisposed
	}
	return nil
}

// Resolve returns the singular instance for key.
func (s *Scope) Resolve(key ServiceKey) (any, error) {
	start := time.Now()
	v, lt, err := s.resolveKey(key, &resolution{})
	s.provider.observer.Resolved(key, lt, time.Since(start), err)
	return v, err
}

// ResolveOptional returns ok=false instead of an error when key has no registration.
func (s *Scope) ResolveOptional(key ServiceKey) (any, bool, error) {
	v, err := s.Resolve(key)
	return optionalResult(key, v, err)
}

func optionalResult(key ServiceKey, v any, err error) (any, bool, error) {
	if err != nil {
		var missing MissingRegistrationError
		if errors.As(err, &missing) && missing.Key == key && !missing.Registered {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

// ResolveAll returns every registration under key in declaration order. A
// composite registered for key is not included.
func (s *Scope) ResolveAll(key ServiceKey) ([]any, error) {
	start := time.Now()
	if err := s.activate(); err != nil {
		return nil, err
	}
	vs, err := s.resolveAll(key, &resolution{})
	s.provider.observer.Resolved(key, lifetimeUnknown, time.Since(start), err)
	return vs, err
}

func (s *Scope) resolveKey(key ServiceKey, res *resolution) (any, Lifetime, error) {
	if err := s.activate(); err != nil {
		return nil, lifetimeUnknown, err
	}
	e, err := s.provider.lookup(key)
	if err != nil {
		return nil, lifetimeUnknown, err
	}
	if e == nil {
		if key.Type != nil && key.Type.Kind() == reflect.Slice {
			v, err := s.sliceOf(key, res)
			return v, lifetimeUnknown, err
		}
		return nil, lifetimeUnknown, MissingRegistrationError{Key: key, FromRoot: s.root}
	}
	v, err := s.get(e, res)
	return v, e.lifetime, err
}

// sliceOf serves an unregistered []S key with every registration of S.
func (s *Scope) sliceOf(key ServiceKey, res *resolution) (any, error) {
	vs, err := s.resolveAll(ServiceKey{Type: key.Type.Elem(), Key: key.Key}, res)
	if err != nil {
		return nil, err
	}
	out := reflect.MakeSlice(key.Type, 0, len(vs))
	for _, v := range vs {
		out = reflect.Append(out, valueOf(v, key.Type.Elem()))
	}
	return out.Interface(), nil
}

func (s *Scope) resolveAll(key ServiceKey, res *resolution) ([]any, error) {
	entries, err := s.provider.all(key)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		v, err := s.get(e, res)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Scope) get(e *planEntry, res *resolution) (any, error) {
	if s.root && e.strategy != CacheInRoot {
		return nil, MissingRegistrationError{Key: e.key, FromRoot: true, Registered: true}
	}
	if err := res.enter(e, s.provider.maxDepth); err != nil {
		return nil, err
	}
	defer res.leave()

	switch e.strategy {
	case CacheInRoot:
		if e.delegate != nil {
			return e.owner.root.get(e.delegate, res)
		}
		root := s.provider.root
		if root.State() == ScopeDisposed {
			return nil, ErrScopeDisposed
		}
		return root.cellFor(e).get(func() (any, any, error) { return root.buildSingleton(e, res) })
	case CacheInScope:
		return s.cellFor(e).get(func() (any, any, error) { return s.construct(e, s, res) })
	default:
		v, _, err := s.construct(e, s, res)
		return v, err
	}
}

func (s *Scope) cellFor(e *planEntry) *cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cells == nil {
		s.cells = make(map[*planEntry]*cell)
	}
	c, ok := s.cells[e]
	if !ok {
		c = &cell{}
		s.cells[e] = c
	}
	return c
}

// buildSingleton runs on the root scope. Singletons that reach scoped or
// transient models are built in a construction scope the root owns.
func (s *Scope) buildSingleton(e *planEntry, res *resolution) (any, any, error) {
	if !e.subScope {
		return s.construct(e, s, res)
	}
	sub := newScope(s.provider, false)
	v, base, err := sub.constructOwned(e, s, res)
	if err != nil {
		if derr := sub.Dispose(context.Background()); derr != nil {
			s.provider.logger.Warn("disposing failed construction scope", zap.Stringer("service", e.key), zap.Error(derr))
		}
		return nil, nil, err
	}
	s.provider.logger.Debug("singleton built in construction scope",
		zap.Stringer("service", e.key), zap.Stringer("scope", sub.id))
	return v, base, nil
}

// constructOwned constructs in s and hands the instances to owner. The
// construction scope itself is tracked ahead of them, so it is released after
// the singleton that uses it.
func (s *Scope) constructOwned(e *planEntry, owner *Scope, res *resolution) (any, any, error) {
	pending := &Scope{provider: s.provider}
	v, base, err := s.build(e, pending, res)
	if err != nil {
		for i := len(pending.tracked) - 1; i >= 0; i-- {
			_ = disposeOne(context.Background(), pending.tracked[i])
		}
		return nil, nil, err
	}
	owner.track(ServiceKey{Type: reflect.TypeFor[*Scope](), Key: s.id.String()}, scopeDisposer{s})
	for _, t := range pending.tracked {
		owner.track(t.key, t.instance)
	}
	return v, base, nil
}

func (s *Scope) construct(e *planEntry, owner *Scope, res *resolution) (any, any, error) {
	if e.strategy == CacheInRoot {
		owner = s.provider.root
	}
	return s.build(e, owner, res)
}

// build produces the instance of e: arguments are resolved from s, every
// constructed layer is tracked by owner.
func (s *Scope) build(e *planEntry, owner *Scope, res *resolution) (any, any, error) {
	in := &inflight{s: s, res: res}
	in.active.Store(true)
	defer in.active.Store(false)

	var v any
	switch {
	case e.isInstance:
		v = e.instance
	case e.factory != nil:
		var err error
		if v, err = callFactory(e.key, e.factory, in); err != nil {
			return nil, nil, err
		}
		owner.track(e.key, v)
	default:
		args, err := s.buildArgs(e.args, nil, in)
		if err != nil {
			return nil, nil, err
		}
		if v, err = invoke(e.key, e.sig, args); err != nil {
			return nil, nil, err
		}
		owner.track(e.key, v)
	}

	base := v
	for _, d := range e.chain {
		args, err := s.buildArgs(d.args, v, in)
		if err != nil {
			return nil, nil, err
		}
		next, err := invoke(e.key, d.model.sig, args)
		if err != nil {
			return nil, nil, err
		}
		if !sameInstance(next, v) {
			owner.track(e.key, next)
		}
		v = next
	}
	return v, base, nil
}

func (s *Scope) buildArgs(args []argPlan, inner any, in *inflight) ([]reflect.Value, error) {
	res := in.res
	vals := make([]reflect.Value, len(args))
	for i, a := range args {
		t := a.param.Type
		switch a.kind {
		case argInner:
			vals[i] = valueOf(inner, t)
		case argSingle:
			e, err := s.provider.lookup(a.key)
			if err != nil {
				return nil, err
			}
			if e == nil {
				if a.param.HasDefault {
					vals[i] = valueOf(a.param.Default, t)
					continue
				}
				if !a.param.required() {
					vals[i] = reflect.Zero(t)
					continue
				}
				return nil, MissingRegistrationError{Key: a.key}
			}
			v, err := s.get(e, res)
			if err != nil {
				return nil, err
			}
			vals[i] = valueOf(v, t)
		case argAll:
			vs, err := s.resolveAll(a.key, res)
			if err != nil {
				return nil, err
			}
			out := reflect.MakeSlice(t, 0, len(vs))
			for _, v := range vs {
				out = reflect.Append(out, valueOf(v, t.Elem()))
			}
			vals[i] = out
		case argLazy, argFunc:
			ptr := reflect.New(t)
			ptr.Interface().(binder).bind(in, a.key)
			vals[i] = ptr.Elem()
		case argDefault:
			vals[i] = valueOf(a.param.Default, t)
		default:
			vals[i] = reflect.Zero(t)
		}
	}
	return vals, nil
}

// inflight is the Resolver handed to deferred wrappers and factories. While the
// constructor runs it joins the caller's resolution, so forcing a Lazy or Func
// re-enters the cycle and depth checks instead of starting over; afterwards it
// resolves from the scope like any other call.
type inflight struct {
	s      *Scope
	res    *resolution
	active atomic.Bool
}

func (in *inflight) Resolve(key ServiceKey) (any, error) {
	if !in.active.Load() {
		return in.s.Resolve(key)
	}
	start := time.Now()
	v, lt, err := in.s.resolveKey(key, in.res)
	in.s.provider.observer.Resolved(key, lt, time.Since(start), err)
	return v, err
}

func (in *inflight) ResolveOptional(key ServiceKey) (any, bool, error) {
	if !in.active.Load() {
		return in.s.ResolveOptional(key)
	}
	v, err := in.Resolve(key)
	return optionalResult(key, v, err)
}

func (in *inflight) ResolveAll(key ServiceKey) ([]any, error) {
	if !in.active.Load() {
		return in.s.ResolveAll(key)
	}
	start := time.Now()
	if err := in.s.activate(); err != nil {
		return nil, err
	}
	vs, err := in.s.resolveAll(key, in.res)
	in.s.provider.observer.Resolved(key, lifetimeUnknown, time.Since(start), err)
	return vs, err
}

// track records a disposable instance. A scope already disposed releases it at once.
func (s *Scope) track(key ServiceKey, v any) {
	if !isDisposable(v) {
		return
	}
	s.mu.Lock()
	if s.State() != ScopeDisposed {
		s.tracked = append(s.tracked, tracked{key: key, instance: v})
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if err := disposeOne(context.Background(), tracked{key: key, instance: v}); err != nil && s.provider != nil {
		s.provider.logger.Warn("disposing instance built after scope disposal", zap.Stringer("service", key), zap.Error(err))
	}
}

// Dispose releases every tracked instance in reverse construction order. Every
// instance is attempted; failures are aggregated into a *DisposalError. A second
// call is a no-op.
func (s *Scope) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.State() == ScopeDisposed {
		s.mu.Unlock()
		return nil
	}
	s.state.Store(int32(ScopeDisposed))
	items := s.tracked
	s.tracked = nil
	s.cells = nil
	s.mu.Unlock()

	var errs error
	for i := len(items) - 1; i >= 0; i-- {
		if err := disposeOne(ctx, items[i]); err != nil {
			s.provider.logger.Warn("dispose failed", zap.Stringer("service", items[i].key),
				zap.Stringer("scope", s.id), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	var out error
	if errs != nil {
		out = &DisposalError{Errors: multierr.Errors(errs)}
	}
	s.provider.observer.ScopeDisposed(len(items), out)
	return out
}

// scopeDisposer lets a construction scope sit in its owner's tracking list.
type scopeDisposer struct{ s *Scope }

func (d scopeDisposer) DisposeAsync(ctx context.Context) error { return d.s.Dispose(ctx) }

func invoke(key ServiceKey, sig *signature, args []reflect.Value) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v = nil
			err = ConstructionError{Key: key, Err: fmt.Errorf("panic: %v", rec), Panic: rec}
		}
	}()
	out := sig.fn.Call(args)
	if sig.withErr && !out[1].IsNil() {
		return nil, ConstructionError{Key: key, Err: out[1].Interface().(error)}
	}
	return out[0].Interface(), nil
}

func callFactory(key ServiceKey, f FactoryFunc, r Resolver) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v = nil
			err = ConstructionError{Key: key, Err: fmt.Errorf("panic: %v", rec), Panic: rec}
		}
	}()
	v, err = f(r)
	if err != nil {
		return nil, ConstructionError{Key: key, Err: err}
	}
	if v != nil && !reflect.TypeOf(v).AssignableTo(key.Type) {
		return nil, ConstructionError{Key: key, Err: fmt.Errorf("factory returned %T", v)}
	}
	return v, nil
}

func valueOf(v any, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == t {
		return rv
	}
	out := reflect.New(t).Elem()
	out.Set(rv)
	return out
}

func sameInstance(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Slice:
		return va.Pointer() == vb.Pointer()
	}
	return false
}
