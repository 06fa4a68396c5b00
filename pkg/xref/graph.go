package xref

import "sort"

// Graph is the dependency graph derived from a resolver's tables. It is
// built on demand for cycle detection and impact analysis and never
// persisted; basic read/write of a container does not require it.
type Graph struct {
	edges map[Index][]Index
}

// BuildGraph walks every export and records its direct dependencies.
// Entries whose indices do not resolve contribute no edges.
func (r *Resolver) BuildGraph() *Graph {
	g := &Graph{edges: make(map[Index][]Index)}
	for i := range r.exports {
		idx := FromExport(i)
		deps, err := r.Dependencies(idx)
		if err != nil {
			continue
		}
		g.edges[idx] = deps
	}
	return g
}

// DependenciesOf returns the direct dependencies recorded for idx.
func (g *Graph) DependenciesOf(idx Index) []Index {
	return g.edges[idx]
}

// Dependents returns every node with a direct edge to idx.
func (g *Graph) Dependents(idx Index) []Index {
	var out []Index
	for from, deps := range g.edges {
		for _, d := range deps {
			if d == idx {
				out = append(out, from)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Transitive returns every node reachable from idx, excluding idx itself
// unless it participates in a cycle back to itself.
func (g *Graph) Transitive(idx Index) []Index {
	seen := make(map[Index]bool)
	stack := append([]Index(nil), g.edges[idx]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.edges[n]...)
	}
	out := make([]Index, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Cycles returns one representative path per dependency cycle found among
// the graph's nodes.
func (g *Graph) Cycles() [][]Index {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[Index]int)
	var cycles [][]Index
	var path []Index

	var visit func(n Index)
	visit = func(n Index) {
		state[n] = visiting
		path = append(path, n)
		for _, d := range g.edges[n] {
			switch state[d] {
			case unvisited:
				visit(d)
			case visiting:
				// Close the loop from d's position in the current path.
				start := 0
				for i, p := range path {
					if p == d {
						start = i
						break
					}
				}
				cycles = append(cycles, append([]Index(nil), path[start:]...))
			}
		}
		path = path[:len(path)-1]
		state[n] = done
	}

	nodes := make([]Index, 0, len(g.edges))
	for n := range g.edges {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	for _, n := range nodes {
		if state[n] == unvisited {
			visit(n)
		}
	}
	return cycles
}
