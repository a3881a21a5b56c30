package di

import (
	"cmp"
	"reflect"
	"slices"
)

// ModelKind tells how a model produces its instance.
type ModelKind int

const (
	// KindConstructor models call a constructor function.
	KindConstructor ModelKind = iota
	// KindFactory models call a FactoryFunc.
	KindFactory
	// KindInstance models return a registered instance.
	KindInstance
)

func (k ModelKind) String() string {
	switch k {
	case KindFactory:
		return "factory"
	case KindInstance:
		return "instance"
	default:
		return "constructor"
	}
}

// ResolvedModel is one registration after graph building. It is immutable once
// the graph is built.
type ResolvedModel struct {
	ServiceKey

	Kind           ModelKind
	Implementation reflect.Type
	Lifetime       Lifetime

	// Index is the position under ServiceKey. The last index wins singular resolution.
	Index int

	// Parameters of the selected constructor.
	Parameters []Parameter

	// ResolvedFromParent is true when the model was inherited unchanged from the parent
	// graph: nothing it transitively depends on is redeclared or re-decorated in the overlay.
	ResolvedFromParent bool

	Tenant        string
	IsOpenGeneric bool
	InitOrder     int

	binding *Binding
	sig     *signature

	// origin is the parent model this one was inherited from.
	origin *ResolvedModel
}

// Graph is the merged, validated set of models for one provider.
//
// Keys are kept in deterministic order: qualified type name, then key.
type Graph struct {
	tenant string
	parent *Graph

	keys       []ServiceKey
	models     map[ServiceKey][]*ResolvedModel
	decorators map[ServiceKey][]*DecoratorModel
	composites map[ServiceKey]*CompositeModel

	// usages are every key referenced while building, kept for overlay closure discovery.
	usages     []ServiceKey
	dependents map[ServiceKey][]ServiceKey
	maxSeq     int

	// overlaid are the parent keys an overlay redeclares, re-decorates or
	// reaches through them. Nil for a root graph.
	overlaid map[ServiceKey]bool
}

// Tenant returns the overlay name ("" for a root graph).
func (g *Graph) Tenant() string { return g.tenant }

// Parent returns the graph this overlay was merged onto, or nil.
func (g *Graph) Parent() *Graph { return g.parent }

// Keys returns every resolvable key in deterministic order.
func (g *Graph) Keys() []ServiceKey { return slices.Clone(g.keys) }

// Models returns the registrations under key in declaration order.
func (g *Graph) Models(key ServiceKey) []*ResolvedModel { return slices.Clone(g.models[key]) }

// Winner returns the registration used for singular resolution, ignoring composites.
func (g *Graph) Winner(key ServiceKey) (*ResolvedModel, bool) {
	ms := g.models[key]
	if len(ms) == 0 {
		return nil, false
	}
	return ms[len(ms)-1], true
}

// Decorators returns the decorator chain for key, innermost first.
func (g *Graph) Decorators(key ServiceKey) []*DecoratorModel { return slices.Clone(g.decorators[key]) }

// Composite returns the composite that wins singular resolution for key, if any.
func (g *Graph) Composite(key ServiceKey) (*CompositeModel, bool) {
	c, ok := g.composites[key]
	return c, ok
}

// Len is the number of models in the graph.
func (g *Graph) Len() int {
	n := 0
	for _, ms := range g.models {
		n += len(ms)
	}
	return n
}

func (g *Graph) has(key ServiceKey) bool {
	if g == nil {
		return false
	}
	if len(g.models[key]) > 0 {
		return true
	}
	_, ok := g.composites[key]
	return ok
}

// graphInput is everything needed to build one graph.
type graphInput struct {
	tenant    string
	decls     declarations
	parent    *Graph
	inherited []*OpenGenericBinding
}

// graphBuilder turns declarations into a Graph. Problems are collected, not
// returned early, so a build reports everything wrong at once.
type graphBuilder struct {
	bc       *BuildContext
	in       graphInput
	avail    map[ServiceKey]bool
	problems []error

	// hasFn replaces avail when materializing outside a full build.
	hasFn func(ServiceKey) bool
}

func buildGraph(bc *BuildContext, in graphInput) (*Graph, []error) {
	gb := &graphBuilder{bc: bc, in: in, avail: make(map[ServiceKey]bool)}

	explicit := make(map[ServiceKey]bool, len(in.decls.bindings))
	for _, b := range in.decls.bindings {
		if b.ServiceType != nil {
			explicit[b.ServiceKey()] = true
		}
	}

	cr := &closureResolver{bc: bc, tenant: in.tenant, local: in.decls.generics, inherited: in.inherited}
	seeds := seedUsages(bc, in.decls)
	if in.parent != nil {
		cr.parentHas = in.parent.has
		seeds = append(seeds, in.parent.usages...)
	}
	closures, used := cr.resolve(seeds, explicit)

	bindings := make([]*Binding, 0, len(in.decls.bindings)+len(closures))
	bindings = append(bindings, in.decls.bindings...)
	bindings = append(bindings, closures...)
	slices.SortStableFunc(bindings, func(a, b *Binding) int { return cmp.Compare(a.seq, b.seq) })

	// Availability is settled before any constructor is selected, so declaration
	// order never matters.
	if in.parent != nil {
		for _, k := range in.parent.keys {
			gb.avail[k] = true
		}
	}
	for _, b := range bindings {
		if b.ServiceType != nil {
			gb.avail[b.ServiceKey()] = true
		}
	}
	for _, c := range in.decls.composites {
		if c.ServiceType != nil {
			gb.avail[ServiceKey{Type: c.ServiceType, Key: c.Key}] = true
		}
	}

	g := &Graph{
		tenant:     in.tenant,
		parent:     in.parent,
		models:     make(map[ServiceKey][]*ResolvedModel),
		decorators: make(map[ServiceKey][]*DecoratorModel),
		composites: make(map[ServiceKey]*CompositeModel),
		usages:     used,
	}

	overlay := make(map[ServiceKey][]*ResolvedModel)
	for _, b := range bindings {
		g.maxSeq = max(g.maxSeq, b.seq)
		if m := gb.materialize(b); m != nil {
			overlay[m.ServiceKey] = append(overlay[m.ServiceKey], m)
		}
	}

	var localDecorators []*DecoratorModel
	for _, d := range in.decls.decorators {
		g.maxSeq = max(g.maxSeq, d.seq)
		m, errs := newDecoratorModel(bc, d, gb.has)
		gb.problems = append(gb.problems, errs...)
		if m != nil {
			localDecorators = append(localDecorators, m)
		}
	}
	localComposites := make(map[ServiceKey]*CompositeModel)
	for _, c := range in.decls.composites {
		g.maxSeq = max(g.maxSeq, c.seq)
		m, errs := newCompositeModel(bc, c, gb.has)
		gb.problems = append(gb.problems, errs...)
		if m != nil {
			if prev, ok := localComposites[m.ServiceKey]; !ok || prev.seq < m.seq {
				localComposites[m.ServiceKey] = m
			}
		}
	}

	if p := in.parent; p != nil {
		g.maxSeq = max(g.maxSeq, p.maxSeq)
		gb.inherit(g, overlay, localDecorators, localComposites)
	}

	for k, ms := range overlay {
		g.models[k] = append(g.models[k], ms...)
	}
	for _, d := range localDecorators {
		g.decorators[d.ServiceKey] = append(g.decorators[d.ServiceKey], d)
	}
	for k, c := range localComposites {
		g.composites[k] = c
	}

	keySet := make(map[ServiceKey]bool, len(g.models)+len(g.composites))
	for k, ms := range g.models {
		for i, m := range ms {
			m.Index = i
		}
		keySet[k] = true
	}
	for k, chain := range g.decorators {
		sortChain(chain)
		g.decorators[k] = chain
	}
	for k, c := range g.composites {
		keySet[k] = true
		if !c.hasLifetime {
			c.Lifetime = Transient
			if ms := g.models[k]; len(ms) > 0 {
				c.Lifetime = ms[len(ms)-1].Lifetime
			}
		}
	}
	for k := range keySet {
		g.keys = append(g.keys, k)
	}
	slices.SortFunc(g.keys, compareKeys)

	for _, u := range in.decls.uses {
		if u.Type == nil {
			continue
		}
		if !g.has(u) && u.Type.Kind() != reflect.Slice {
			gb.problems = append(gb.problems, UnresolvedDependencyError{
				Service:   u,
				Parameter: Parameter{Index: -1, Type: u.Type, Service: u.Type, Key: u.Key},
				Tenant:    in.tenant,
			})
		}
	}

	g.dependents = dependentsOf(g)
	return g, gb.problems
}

func (gb *graphBuilder) has(k ServiceKey) bool {
	if gb.hasFn != nil {
		return gb.hasFn(k)
	}
	return gb.avail[k]
}

// inherit clones the parent's models into g, re-materializing every model that is
// affected by the overlay.
func (gb *graphBuilder) inherit(g *Graph, overlay map[ServiceKey][]*ResolvedModel,
	localDecorators []*DecoratorModel, localComposites map[ServiceKey]*CompositeModel,
) {
	p := gb.in.parent

	changed := make(map[ServiceKey]bool)
	redecorated := make(map[ServiceKey]bool)
	for k := range overlay {
		changed[k] = true
	}
	for _, d := range localDecorators {
		changed[d.ServiceKey] = true
		redecorated[d.ServiceKey] = true
	}
	for k := range localComposites {
		changed[k] = true
		redecorated[k] = true
	}
	affected := p.reach(changed)
	g.overlaid = affected

	chainAffected := func(k ServiceKey) bool {
		if redecorated[k] {
			return true
		}
		for _, d := range p.decorators[k] {
			if anyAffected(d.edges(), affected) {
				return true
			}
		}
		return false
	}

	for _, k := range p.keys {
		keyChain := chainAffected(k)
		for _, pm := range p.models[k] {
			if keyChain || anyAffected(pm.Parameters, affected) {
				if m := gb.materialize(pm.binding); m != nil {
					m.Tenant = gb.in.tenant
					g.models[k] = append(g.models[k], m)
				}
				continue
			}
			m := *pm
			m.ResolvedFromParent = true
			m.origin = pm
			g.models[k] = append(g.models[k], &m)
		}
		if c, ok := p.composites[k]; ok {
			if _, local := localComposites[k]; !local {
				cc := *c
				g.composites[k] = &cc
			}
		}
	}

	// Decorators of closures planned at resolution time have no model here.
	for k, ds := range p.decorators {
		g.decorators[k] = append(g.decorators[k], ds...)
	}
}

func anyAffected(params []Parameter, affected map[ServiceKey]bool) bool {
	for _, p := range params {
		if affected[p.ServiceKey()] {
			return true
		}
	}
	return false
}

// reach returns start plus every key that transitively depends on a key in start,
// following every kind of edge (eager, deferred, enumerable, decorator, composite).
func (g *Graph) reach(start map[ServiceKey]bool) map[ServiceKey]bool {
	out := make(map[ServiceKey]bool, len(start))
	queue := make([]ServiceKey, 0, len(start))
	for k := range start {
		out[k] = true
		queue = append(queue, k)
	}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		for _, d := range g.dependents[k] {
			if !out[d] {
				out[d] = true
				queue = append(queue, d)
			}
		}
	}
	return out
}

// dependentsOf builds the reverse adjacency of g over every edge kind.
func dependentsOf(g *Graph) map[ServiceKey][]ServiceKey {
	rev := make(map[ServiceKey][]ServiceKey)
	add := func(from ServiceKey, params []Parameter) {
		for _, p := range params {
			to := p.ServiceKey()
			if !slices.Contains(rev[to], from) {
				rev[to] = append(rev[to], from)
			}
		}
	}
	for _, k := range g.keys {
		for _, m := range g.models[k] {
			add(k, m.Parameters)
		}
		for _, d := range g.decorators[k] {
			add(k, d.edges())
		}
		if c, ok := g.composites[k]; ok {
			add(k, c.Parameters)
		}
	}
	return rev
}

// materialize validates a binding and selects its constructor.
func (gb *graphBuilder) materialize(b *Binding) *ResolvedModel {
	if b.ServiceType == nil {
		gb.problems = append(gb.problems, InvalidBindingError{Reason: "binding without a service type"})
		return nil
	}
	key := b.ServiceKey()
	if b.Lifetime < Singleton || b.Lifetime > Transient {
		gb.problems = append(gb.problems, InvalidBindingError{Service: key, Reason: "unknown lifetime " + b.Lifetime.String()})
		return nil
	}
	m := &ResolvedModel{
		ServiceKey:    key,
		Lifetime:      b.Lifetime,
		Tenant:        b.Tenant,
		IsOpenGeneric: b.IsOpenGeneric,
		InitOrder:     b.InitOrder,
		binding:       b,
	}
	if gb.in.tenant != "" {
		m.Tenant = gb.in.tenant
	}

	switch {
	case b.IsInstance:
		m.Kind = KindInstance
		m.Lifetime = Singleton
		m.Implementation = b.ServiceType
		if b.Instance != nil {
			m.Implementation = reflect.TypeOf(b.Instance)
			if !m.Implementation.AssignableTo(b.ServiceType) {
				gb.problems = append(gb.problems, InvalidBindingError{Service: key,
					Reason: "instance of type " + m.Implementation.String() + " is not assignable"})
				return nil
			}
		}
		return m
	case b.Factory != nil:
		m.Kind = KindFactory
		m.Implementation = b.ServiceType
		return m
	}

	candidates := b.candidates()
	if len(candidates) == 0 {
		gb.problems = append(gb.problems, InvalidBindingError{Service: key, Reason: "no constructor, factory or instance"})
		return nil
	}

	type option struct {
		sig     *signature
		params  []Parameter
		missing []Parameter
	}
	var (
		opts    []option
		invalid bool
	)
	for _, c := range candidates {
		sig, err := gb.bc.analyze(c)
		if err != nil {
			gb.problems = append(gb.problems, withService(err, key))
			invalid = true
			continue
		}
		if !sig.out.AssignableTo(b.ServiceType) {
			gb.problems = append(gb.problems, InvalidBindingError{Service: key,
				Reason: "constructor result " + sig.out.String() + " is not assignable to " + b.ServiceType.String()})
			invalid = true
			continue
		}
		params, err := applyParamOptions(sig.params, b.Params)
		if err != nil {
			if len(candidates) == 1 {
				gb.problems = append(gb.problems, withService(err, key))
				invalid = true
				continue
			}
			params = sig.params
		}
		params = classifyParams(params, gb.has)
		o := option{sig: sig, params: params}
		for _, p := range params {
			if p.required() && !gb.has(p.ServiceKey()) {
				o.missing = append(o.missing, p)
			}
		}
		opts = append(opts, o)
	}
	if invalid {
		return nil
	}

	// Prefer the constructor with the most parameters that can all be satisfied.
	slices.SortStableFunc(opts, func(a, b option) int { return cmp.Compare(len(b.params), len(a.params)) })
	for _, o := range opts {
		if len(o.missing) == 0 {
			m.Kind = KindConstructor
			m.Implementation = o.sig.out
			m.Parameters = o.params
			m.sig = o.sig
			return m
		}
	}

	if len(opts) == 1 {
		for _, p := range opts[0].missing {
			gb.problems = append(gb.problems, UnresolvedDependencyError{Service: key, Parameter: p, Tenant: gb.in.tenant})
		}
		return nil
	}
	amb := AmbiguousConstructorError{Service: key}
	seen := make(map[ServiceKey]bool)
	for _, o := range opts {
		amb.Candidates = append(amb.Candidates, o.sig.String())
		for _, p := range o.missing {
			if k := p.ServiceKey(); !seen[k] {
				seen[k] = true
				amb.Missing = append(amb.Missing, k)
			}
		}
	}
	slices.SortFunc(amb.Missing, compareKeys)
	gb.problems = append(gb.problems, amb)
	return nil
}

// classifyParams settles slice arguments: []S is enumerable over S unless []S
// itself is registered.
func classifyParams(params []Parameter, has func(ServiceKey) bool) []Parameter {
	out := slices.Clone(params)
	for i := range out {
		p := &out[i]
		if p.Enumerable || p.Service.Kind() != reflect.Slice || has(p.ServiceKey()) {
			continue
		}
		p.Enumerable = true
		p.Service = p.Service.Elem()
	}
	return out
}
