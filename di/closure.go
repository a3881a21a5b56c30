package di

import (
	"reflect"
	"slices"
)

// closureResolver materializes the closures of open-generic families that are
// actually used by a graph.
//
// Go cannot instantiate a generic type at run time, so every closure is declared
// up front as a constructor instantiation. The resolver only decides which of the
// declared closures are needed, and turns each into an ordinary closed Binding.
type closureResolver struct {
	bc     *BuildContext
	tenant string

	// local families are declared in the graph being built.
	local []*OpenGenericBinding

	// inherited families come from parent graphs. They are consulted only for
	// usages the parent never materialized.
	inherited []*OpenGenericBinding
	parentHas func(ServiceKey) bool
}

// resolve walks usages to a fixpoint and returns the materialized bindings plus the
// full usage set (seeds and everything discovered through closures).
func (cr *closureResolver) resolve(seeds []ServiceKey, explicit map[ServiceKey]bool) ([]*Binding, []ServiceKey) {
	var (
		out   []*Binding
		seen  = make(map[ServiceKey]bool, len(seeds))
		queue = slices.Clone(seeds)
		used  []ServiceKey
	)
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if u.Type == nil || seen[u] {
			continue
		}
		seen[u] = true
		used = append(used, u)

		if explicit[u] {
			continue
		}
		_, args, ok := familyOf(u.Type)
		if !ok {
			continue
		}
		for _, g := range cr.familiesFor(u) {
			ctor := cr.closureFor(g, u.Type, args)
			if ctor == nil {
				continue
			}
			b := closureBinding(g, u, ctor)
			if b.Tenant == "" {
				b.Tenant = cr.tenant
			}
			out = append(out, b)
			queue = append(queue, usagesOf(cr.bc, ctor, g.Params)...)
		}
	}
	return out, used
}

func (cr *closureResolver) familiesFor(u ServiceKey) []*OpenGenericBinding {
	if gs := matchFamilies(cr.local, u); len(gs) > 0 {
		return gs
	}
	if cr.parentHas != nil && cr.parentHas(u) {
		return nil
	}
	return matchFamilies(cr.inherited, u)
}

func matchFamilies(gens []*OpenGenericBinding, u ServiceKey) []*OpenGenericBinding {
	f, _, ok := familyOf(u.Type)
	if !ok {
		return nil
	}
	var out []*OpenGenericBinding
	for _, g := range gens {
		if g.Family == f && g.Key == u.Key {
			out = append(out, g)
		}
	}
	return out
}

// closureFor returns the first declared closure whose result carries the same type
// arguments as want and is assignable to it.
func (cr *closureResolver) closureFor(g *OpenGenericBinding, want reflect.Type, args string) any {
	for _, c := range g.Closures {
		sig, err := cr.bc.analyze(c)
		if err != nil {
			continue
		}
		if _, outArgs, ok := familyOf(sig.out); ok && outArgs == args && sig.out.AssignableTo(want) {
			return c
		}
	}
	return nil
}

func closureBinding(g *OpenGenericBinding, u ServiceKey, ctor any) *Binding {
	opts := g.BindOptions
	opts.Key = u.Key
	return &Binding{
		ServiceType:   u.Type,
		Lifetime:      g.Lifetime,
		Constructors:  []any{ctor},
		BindOptions:   opts,
		IsOpenGeneric: true,
		seq:           g.seq,
		family:        g,
	}
}

// usagesOf lists the keys a constructor asks for. Slice arguments contribute both
// the slice key and the element key, since either may be what gets resolved.
func usagesOf(bc *BuildContext, ctor any, overrides map[int][]ParamOption) []ServiceKey {
	sig, err := bc.analyze(ctor)
	if err != nil {
		return nil
	}
	params := sig.params
	if p, err := applyParamOptions(params, overrides); err == nil {
		params = p
	}
	out := make([]ServiceKey, 0, len(params))
	for _, p := range params {
		out = append(out, p.ServiceKey())
		if p.Service.Kind() == reflect.Slice {
			out = append(out, ServiceKey{Type: p.Service.Elem(), Key: p.Key})
		}
	}
	return out
}

// seedUsages collects every key referenced by a set of declarations.
func seedUsages(bc *BuildContext, d declarations) []ServiceKey {
	var out []ServiceKey
	for _, b := range d.bindings {
		for _, c := range b.candidates() {
			out = append(out, usagesOf(bc, c, b.Params)...)
		}
	}
	for _, dec := range d.decorators {
		out = append(out, usagesOf(bc, dec.Constructor, dec.Params)...)
	}
	for _, c := range d.composites {
		out = append(out, usagesOf(bc, c.Constructor, c.Params)...)
	}
	return append(out, d.uses...)
}
