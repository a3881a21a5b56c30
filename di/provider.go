package di

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxResolutionDepth bounds the depth of a single resolution.
const DefaultMaxResolutionDepth = 256

const tracerName = "github.com/sghaida/odigraph/di"

type settings struct {
	logger   *zap.Logger
	observer Observer
	maxDepth int
	bc       *BuildContext
	tracer   trace.TracerProvider
}

// Option configures a Builder.
type Option func(*settings)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver sets the observer notified of builds, resolutions and disposals.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithMaxResolutionDepth bounds a single resolution chain. Zero or less disables the bound.
func WithMaxResolutionDepth(n int) Option {
	return func(s *settings) { s.maxDepth = n }
}

// WithBuildContext shares constructor analysis between builders.
func WithBuildContext(bc *BuildContext) Option {
	return func(s *settings) {
		if bc != nil {
			s.bc = bc
		}
	}
}

// WithTracerProvider sets the tracer provider used for build spans; the global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) {
		if tp != nil {
			s.tracer = tp
		}
	}
}

// Builder collects declarations and compiles them into a Provider.
//
//	b := di.New(di.WithLogger(logger))
//	di.Register[Store](b, NewStore, di.Singleton)
//	p, err := b.Build(ctx)
type Builder struct {
	*Registry
	settings settings
}

// New returns a Builder with an empty registry.
func New(opts ...Option) *Builder {
	s := settings{
		logger:   zap.NewNop(),
		observer: nopObserver{},
		maxDepth: DefaultMaxResolutionDepth,
		bc:       NewBuildContext(),
		tracer:   otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return &Builder{Registry: NewRegistry(), settings: s}
}

// Build compiles the root graph and every tenant overlay, then runs singleton
// initializers. Every problem found is reported in one *BuildError; no provider
// is returned when anything is wrong.
func (b *Builder) Build(ctx context.Context) (*Provider, error) {
	ctx, span := b.settings.tracer.Tracer(tracerName).Start(ctx, "di.Build")
	defer span.End()

	root, err := compile(ctx, b.settings, nil, "", b.partition(""))
	if err != nil {
		return nil, failSpan(span, err)
	}

	var problems []error
	for _, name := range b.Tenants() {
		tp, err := compile(ctx, b.settings, root, name, b.partition(name))
		if err != nil {
			problems = append(problems, err)
			continue
		}
		root.tenants[name] = tp
	}
	if len(problems) == 1 {
		return nil, failSpan(span, problems[0])
	}
	if len(problems) > 1 {
		return nil, failSpan(span, &BuildError{Problems: problems})
	}

	if err := root.initializeAll(ctx); err != nil {
		if derr := root.Dispose(ctx); derr != nil {
			root.logger.Warn("dispose after failed initialization", zap.Error(derr))
		}
		return nil, failSpan(span, err)
	}
	span.SetAttributes(attribute.Int("di.tenants", len(root.tenants)))
	return root, nil
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// compile runs closure resolution, graph building, cycle detection and planning
// for one provider.
func compile(ctx context.Context, s settings, parent *Provider, tenant string, decls declarations) (*Provider, error) {
	start := time.Now()
	_, span := s.tracer.Tracer(tracerName).Start(ctx, "di.compile",
		trace.WithAttributes(attribute.String("di.tenant", tenant)))
	defer span.End()

	in := graphInput{tenant: tenant, decls: decls}
	if parent != nil {
		in.parent = parent.graph
		in.inherited = parent.generics
	}
	g, problems := buildGraph(s.bc, in)
	if err := detectCycles(g); err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		err := &BuildError{Tenant: tenant, Problems: problems}
		s.logger.Error("build failed", zap.String("tenant", tenant), zap.Int("problems", len(problems)), zap.Error(err))
		s.observer.BuildFinished(tenant, g.Len(), time.Since(start), err)
		return nil, failSpan(span, err)
	}

	p := &Provider{
		id:            uuid.New(),
		parent:        parent,
		tenant:        tenant,
		graph:         g,
		tenants:       make(map[string]*Provider),
		generics:      append(slices.Clone(decls.generics), in.inherited...),
		localGenerics: len(decls.generics),
		bc:            s.bc,
		logger:        s.logger.With(zap.String("tenant", tenant)),
		observer:      s.observer,
		maxDepth:      s.maxDepth,
		settings:      s,
		dynamic:       make(map[ServiceKey]*planEntry),
	}
	p.plan = buildPlan(g, parent)
	p.root = newScope(p, true)

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("di.models", g.Len()), attribute.Int("di.keys", len(g.keys)))
	p.logger.Debug("graph compiled",
		zap.Stringer("provider", p.id),
		zap.Int("models", g.Len()),
		zap.Int("keys", len(g.keys)),
		zap.Int("usages", len(g.usages)),
		zap.Duration("duration", elapsed),
	)
	s.observer.BuildFinished(tenant, g.Len(), elapsed, nil)
	return p, nil
}

// Provider is a built graph plus its root scope. It resolves singletons
// directly and hands out scopes for everything else.
type Provider struct {
	id      uuid.UUID
	parent  *Provider
	tenant  string
	graph   *Graph
	plan    *Plan
	root    *Scope
	tenants map[string]*Provider

	// generics are the families visible to this provider, local ones first.
	generics      []*OpenGenericBinding
	localGenerics int

	bc       *BuildContext
	logger   *zap.Logger
	observer Observer
	maxDepth int
	settings settings

	dynMu   sync.Mutex
	dynamic map[ServiceKey]*planEntry

	disposed atomic.Bool
}

// ID identifies the provider in logs and diagnostics.
func (p *Provider) ID() uuid.UUID { return p.id }

// Tenant returns the tenant name ("" for the root provider).
func (p *Provider) Tenant() string { return p.tenant }

// Parent returns the provider this one was layered on, or nil.
func (p *Provider) Parent() *Provider { return p.parent }

// Graph returns the compiled graph.
func (p *Provider) Graph() *Graph { return p.graph }

// CreateScope starts a new unit of work. Scopes of a disposed provider are
// born disposed.
func (p *Provider) CreateScope() *Scope {
	s := newScope(p, false)
	if p.disposed.Load() {
		s.state.Store(int32(ScopeDisposed))
	}
	return s
}

// Resolve resolves from the root: only singletons are reachable there.
func (p *Provider) Resolve(key ServiceKey) (any, error) { return p.root.Resolve(key) }

// ResolveOptional is Resolve with ok=false for unregistered keys.
func (p *Provider) ResolveOptional(key ServiceKey) (any, bool, error) {
	return p.root.ResolveOptional(key)
}

// ResolveAll resolves every registration under key from the root.
func (p *Provider) ResolveAll(key ServiceKey) ([]any, error) { return p.root.ResolveAll(key) }

// GetTenant returns the prebuilt provider of a declared tenant.
func (p *Provider) GetTenant(name string) (*Provider, error) {
	if t, ok := p.tenants[name]; ok {
		return t, nil
	}
	return nil, UnknownTenantError{Tenant: name}
}

// Tenants returns the tenant names in sorted order.
func (p *Provider) Tenants() []string {
	out := make([]string, 0, len(p.tenants))
	for name := range p.tenants {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// CreateChildContainer layers extra or overriding declarations on p without
// rebuilding p. Singletons the child inherits unchanged are shared with p.
// The caller owns the child and must dispose it before p.
func (p *Provider) CreateChildContainer(ctx context.Context, configure func(r *Registry)) (*Provider, error) {
	if p.disposed.Load() {
		return nil, ErrScopeDisposed
	}
	ctx, span := p.settings.tracer.Tracer(tracerName).Start(ctx, "di.CreateChildContainer")
	defer span.End()

	r := newRegistryAt(p.graph.maxSeq)
	if configure != nil {
		configure(r)
	}
	child, err := compile(ctx, p.settings, p, p.tenant, r.all())
	if err != nil {
		return nil, failSpan(span, err)
	}
	if err := child.initialize(ctx); err != nil {
		if derr := child.Dispose(ctx); derr != nil {
			child.logger.Warn("dispose after failed initialization", zap.Error(derr))
		}
		return nil, failSpan(span, err)
	}
	return child, nil
}

// Dispose releases tenants (in reverse name order) and then the root scope.
// It is idempotent.
func (p *Provider) Dispose(ctx context.Context) error {
	if !p.disposed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	names := p.Tenants()
	for i := len(names) - 1; i >= 0; i-- {
		errs = append(errs, disposalErrors(p.tenants[names[i]].Dispose(ctx))...)
	}
	errs = append(errs, disposalErrors(p.root.Dispose(ctx))...)
	p.logger.Debug("provider disposed", zap.Stringer("provider", p.id), zap.Int("failures", len(errs)))
	if len(errs) > 0 {
		return &DisposalError{Errors: errs}
	}
	return nil
}

func disposalErrors(err error) []error {
	if err == nil {
		return nil
	}
	var de *DisposalError
	if errors.As(err, &de) {
		return de.Errors
	}
	return []error{err}
}

// lookup returns the singular entry for key, planning a declared closure on demand.
func (p *Provider) lookup(key ServiceKey) (*planEntry, error) {
	if e, ok := p.plan.winner[key]; ok {
		return e, nil
	}
	return p.dynamicEntry(key)
}

// all returns the registration entries for key.
func (p *Provider) all(key ServiceKey) ([]*planEntry, error) {
	if es, ok := p.plan.byKey[key]; ok {
		return es, nil
	}
	e, err := p.dynamicEntry(key)
	if err != nil || e == nil {
		return nil, err
	}
	return []*planEntry{e}, nil
}

// canMaterialize reports whether a declared closure exists for key.
func (p *Provider) canMaterialize(key ServiceKey) bool {
	_, args, ok := familyOf(key.Type)
	if !ok {
		return false
	}
	cr := &closureResolver{bc: p.bc}
	for _, g := range matchFamilies(p.generics, key) {
		if cr.closureFor(g, key.Type, args) != nil {
			return true
		}
	}
	return false
}

// dynamicEntry plans a closure that no build-time usage reached. The entry is
// validated against the graph and cached for the provider's lifetime.
func (p *Provider) dynamicEntry(key ServiceKey) (*planEntry, error) {
	_, args, ok := familyOf(key.Type)
	if !ok {
		return nil, nil
	}
	p.dynMu.Lock()
	defer p.dynMu.Unlock()
	if e, ok := p.dynamic[key]; ok {
		return e, nil
	}

	cr := &closureResolver{bc: p.bc}
	gens := matchFamilies(p.generics, key)
	for _, g := range gens {
		ctor := cr.closureFor(g, key.Type, args)
		if ctor == nil {
			continue
		}
		has := func(k ServiceKey) bool { return p.graph.has(k) || p.canMaterialize(k) }
		gb := &graphBuilder{bc: p.bc, in: graphInput{tenant: p.tenant}, hasFn: has}
		m := gb.materialize(closureBinding(g, key, ctor))
		if len(gb.problems) > 0 {
			return nil, &BuildError{Tenant: p.tenant, Problems: gb.problems}
		}
		pl := &planner{g: p.graph, extra: p.canMaterialize}
		e := pl.entry(m, pl.chain(key))
		e.initializer = false
		if d, err := p.inheritedClosure(g, m); err != nil {
			return nil, err
		} else if d != nil {
			m.ResolvedFromParent = true
			e.delegate, e.owner = d, p.parent
		}
		p.dynamic[key] = e
		p.logger.Debug("closure planned at resolution time",
			zap.Stringer("service", key), zap.Stringer("family", g.Family),
			zap.Bool("fromParent", e.delegate != nil))
		return e, nil
	}
	return nil, nil
}

// inheritedClosure returns the parent's entry for a singleton closure of an
// inherited family when nothing the closure depends on differs in this
// overlay. The instance is then shared with the parent, as for statically
// inherited singletons.
func (p *Provider) inheritedClosure(g *OpenGenericBinding, m *ResolvedModel) (*planEntry, error) {
	if p.parent == nil || m.Lifetime != Singleton || slices.Index(p.generics, g) < p.localGenerics {
		return nil, nil
	}
	if p.graph.overlaid[m.ServiceKey] {
		return nil, nil
	}
	deps := slices.Clone(m.Parameters)
	for _, d := range p.graph.decorators[m.ServiceKey] {
		deps = append(deps, d.edges()...)
	}
	for _, param := range deps {
		k := param.ServiceKey()
		if p.graph.overlaid[k] || p.hasLocalFamily(k) {
			return nil, nil
		}
	}
	d, err := p.parent.lookup(m.ServiceKey)
	if err != nil || d == nil || d.strategy != CacheInRoot {
		return nil, err
	}
	return d, nil
}

// hasLocalFamily reports whether an overlay family could materialize key.
func (p *Provider) hasLocalFamily(key ServiceKey) bool {
	return len(matchFamilies(p.generics[:p.localGenerics], key)) > 0
}

// ModelInfo is the diagnostic view of one plan entry.
type ModelInfo struct {
	Service            string   `json:"service"`
	Key                string   `json:"key,omitempty"`
	Implementation     string   `json:"implementation"`
	Kind               string   `json:"kind"`
	Lifetime           string   `json:"lifetime"`
	Strategy           string   `json:"strategy"`
	Index              int      `json:"index"`
	Winner             bool     `json:"winner"`
	ResolvedFromParent bool     `json:"resolvedFromParent,omitempty"`
	Tenant             string   `json:"tenant,omitempty"`
	OpenGeneric        bool     `json:"openGeneric,omitempty"`
	Composite          bool     `json:"composite,omitempty"`
	ConstructionScope  bool     `json:"constructionScope,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
	Decorators         []string `json:"decorators,omitempty"`
}

// Describe lists every plan entry in graph order.
func (p *Provider) Describe() []ModelInfo {
	out := make([]ModelInfo, 0, len(p.plan.entries))
	for _, e := range p.plan.entries {
		info := ModelInfo{
			Service:           qualifiedName(e.key.Type),
			Key:               e.key.Key,
			Lifetime:          e.lifetime.String(),
			Strategy:          e.strategy.String(),
			Winner:            p.plan.winner[e.key] == e,
			ConstructionScope: e.subScope,
		}
		switch {
		case e.composite != nil:
			info.Implementation = qualifiedName(e.composite.Implementation)
			info.Kind = "composite"
			info.Composite = true
			info.Tenant = e.composite.Tenant
		default:
			m := e.model
			info.Implementation = qualifiedName(m.Implementation)
			info.Kind = m.Kind.String()
			info.Index = m.Index
			info.ResolvedFromParent = m.ResolvedFromParent
			info.Tenant = m.Tenant
			info.OpenGeneric = m.IsOpenGeneric
		}
		for _, a := range e.args {
			info.Dependencies = append(info.Dependencies, a.kind.String()+":"+a.key.String())
		}
		for _, d := range e.chain {
			info.Decorators = append(info.Decorators, qualifiedName(d.model.Decorator))
		}
		out = append(out, info)
	}
	return out
}
