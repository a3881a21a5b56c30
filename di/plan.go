package di

import (
	"reflect"
)

type argKind int

const (
	argSingle argKind = iota
	argAll
	argLazy
	argFunc
	argDefault
	argZero
	argInner
)

func (k argKind) String() string {
	switch k {
	case argAll:
		return "enumerable"
	case argLazy:
		return "lazy"
	case argFunc:
		return "func"
	case argDefault:
		return "default"
	case argZero:
		return "zero"
	case argInner:
		return "inner"
	default:
		return "single"
	}
}

// argPlan tells the runtime how to produce one constructor argument.
type argPlan struct {
	kind  argKind
	param Parameter
	key   ServiceKey
}

type decoratorPlan struct {
	model *DecoratorModel
	args  []argPlan
}

// planEntry is the construction recipe of one model (or composite).
type planEntry struct {
	key       ServiceKey
	model     *ResolvedModel
	composite *CompositeModel

	lifetime Lifetime
	strategy Strategy

	sig        *signature
	factory    FactoryFunc
	instance   any
	isInstance bool
	args       []argPlan
	chain      []decoratorPlan

	// subScope builds a singleton inside a fresh construction scope owned by the
	// root, so scoped and transient dependencies never leak into the caller's scope.
	subScope bool

	// delegate is the parent provider's entry for an inherited singleton; owner
	// is that provider.
	delegate *planEntry
	owner    *Provider

	initializer bool
	initOrder   int
}

func (e *planEntry) String() string { return e.key.String() }

// Plan is the instantiation plan of one provider.
type Plan struct {
	entries []*planEntry
	byKey   map[ServiceKey][]*planEntry
	winner  map[ServiceKey]*planEntry
	byModel map[*ResolvedModel]*planEntry
}

// planner emits entries against a graph.
type planner struct {
	g      *Graph
	parent *Provider
	extra  func(ServiceKey) bool
}

func buildPlan(g *Graph, parent *Provider) *Plan {
	pl := &planner{g: g, parent: parent}
	plan := &Plan{
		byKey:   make(map[ServiceKey][]*planEntry, len(g.keys)),
		winner:  make(map[ServiceKey]*planEntry, len(g.keys)),
		byModel: make(map[*ResolvedModel]*planEntry, len(g.keys)),
	}
	for _, k := range g.keys {
		chain := pl.chain(k)
		for _, m := range g.models[k] {
			e := pl.entry(m, chain)
			plan.entries = append(plan.entries, e)
			plan.byKey[k] = append(plan.byKey[k], e)
			plan.byModel[m] = e
		}
		if c, ok := g.composites[k]; ok {
			e := pl.compositeEntry(c)
			plan.entries = append(plan.entries, e)
			plan.winner[k] = e
			continue
		}
		if es := plan.byKey[k]; len(es) > 0 {
			plan.winner[k] = es[len(es)-1]
		}
	}
	return plan
}

func (pl *planner) has(k ServiceKey) bool {
	return pl.g.has(k) || (pl.extra != nil && pl.extra(k))
}

func (pl *planner) chain(k ServiceKey) []decoratorPlan {
	ds := pl.g.decorators[k]
	if len(ds) == 0 {
		return nil
	}
	out := make([]decoratorPlan, len(ds))
	for i, d := range ds {
		args := pl.args(d.Parameters)
		args[d.Inner].kind = argInner
		out[i] = decoratorPlan{model: d, args: args}
	}
	return out
}

func (pl *planner) entry(m *ResolvedModel, chain []decoratorPlan) *planEntry {
	e := &planEntry{
		key:       m.ServiceKey,
		model:     m,
		lifetime:  m.Lifetime,
		strategy:  strategyFor(m.Lifetime),
		sig:       m.sig,
		chain:     chain,
		initOrder: m.InitOrder,
	}
	switch m.Kind {
	case KindInstance:
		e.instance = m.binding.Instance
		e.isInstance = true
	case KindFactory:
		e.factory = m.binding.Factory
	default:
		e.args = pl.args(m.Parameters)
	}

	if m.ResolvedFromParent && m.Lifetime == Singleton && pl.parent != nil {
		if d, ok := pl.parent.plan.byModel[m.origin]; ok {
			e.delegate = d
			e.owner = pl.parent
			return e
		}
	}
	if e.strategy == CacheInRoot {
		e.subScope = pl.captive(e.args, chain)
		e.initializer = m.Kind == KindConstructor && implementsInitializer(m.Implementation)
	}
	return e
}

func (pl *planner) compositeEntry(c *CompositeModel) *planEntry {
	e := &planEntry{
		key:       c.ServiceKey,
		composite: c,
		lifetime:  c.Lifetime,
		strategy:  strategyFor(c.Lifetime),
		sig:       c.sig,
		args:      pl.args(c.Parameters),
	}
	if e.strategy == CacheInRoot {
		e.subScope = pl.captive(e.args, nil)
	}
	return e
}

func (pl *planner) args(params []Parameter) []argPlan {
	out := make([]argPlan, len(params))
	for i, p := range params {
		a := argPlan{param: p, key: p.ServiceKey()}
		switch {
		case p.Deferred != NotDeferred:
			a.kind = argLazy
			if p.Deferred == DeferFunc {
				a.kind = argFunc
			}
			if p.Enumerable {
				a.key = ServiceKey{Type: reflect.SliceOf(p.Service), Key: p.Key}
			}
		case p.Enumerable:
			a.kind = argAll
		case pl.has(a.key):
			a.kind = argSingle
		case p.HasDefault:
			a.kind = argDefault
		default:
			a.kind = argZero
		}
		out[i] = a
	}
	return out
}

// captive reports whether a singleton with these arguments must be built in a
// construction sub-scope: it reaches a scoped or transient model through a
// non-deferred argument, or it holds a deferred argument that resolves later.
func (pl *planner) captive(args []argPlan, chain []decoratorPlan) bool {
	check := func(args []argPlan) bool {
		for _, a := range args {
			switch a.kind {
			case argLazy, argFunc:
				return true
			case argSingle:
				if pl.singularLifetime(a.key) != Singleton {
					return true
				}
			case argAll:
				for _, m := range pl.g.models[a.key] {
					if m.Lifetime != Singleton {
						return true
					}
				}
			}
		}
		return false
	}
	if check(args) {
		return true
	}
	for _, d := range chain {
		if check(d.args) {
			return true
		}
	}
	return false
}

func (pl *planner) singularLifetime(k ServiceKey) Lifetime {
	if c, ok := pl.g.composites[k]; ok {
		return c.Lifetime
	}
	if m, ok := pl.g.Winner(k); ok {
		return m.Lifetime
	}
	// Materialized on demand: assume the worst.
	return Transient
}
