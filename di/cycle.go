package di

import (
	"slices"
)

// detectCycles walks the eager edges of g and returns the first cycle found.
//
// Deferred (Lazy, Func) and enumerable edges are skipped: they cannot form an
// eager construction loop. Start nodes and edge targets are visited in sorted
// order, so the result never depends on registration order.
func detectCycles(g *Graph) error {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[ServiceKey]int, len(g.keys))
	var stack []ServiceKey

	var visit func(k ServiceKey) []ServiceKey
	visit = func(k ServiceKey) []ServiceKey {
		switch state[k] {
		case visiting:
			i := slices.Index(stack, k)
			path := slices.Clone(stack[i:])
			return append(path, k)
		case visited:
			return nil
		}
		state[k] = visiting
		stack = append(stack, k)
		for _, next := range eagerEdges(g, k) {
			if cycle := visit(next); cycle != nil {
				return cycle
			}
		}
		stack = stack[:len(stack)-1]
		state[k] = visited
		return nil
	}

	for _, k := range g.keys {
		if cycle := visit(k); cycle != nil {
			return CircularDependencyError{Path: cycle}
		}
	}
	return nil
}

// eagerEdges returns the sorted, de-duplicated keys k needs during construction.
func eagerEdges(g *Graph, k ServiceKey) []ServiceKey {
	var out []ServiceKey
	add := func(params []Parameter) {
		for _, p := range params {
			if p.eager() && g.has(p.ServiceKey()) {
				out = append(out, p.ServiceKey())
			}
		}
	}
	for _, m := range g.models[k] {
		add(m.Parameters)
	}
	for _, d := range g.decorators[k] {
		add(d.edges())
	}
	if c, ok := g.composites[k]; ok {
		add(c.Parameters)
	}
	slices.SortFunc(out, compareKeys)
	return slices.CompactFunc(out, func(a, b ServiceKey) bool { return a == b })
}
