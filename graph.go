package atomstore

// Graph holds two mirror-maintained edge sets: dependencies[k]
// (upstream, keys k depends on) and children[k] (downstream, keys that
// depend on k). The invariant the store must never violate is that b is
// in dependencies[a] if and only if a is in children[b] — see
// TestGraphSymmetry.
type Graph struct {
	dependencies map[AtomKey]map[AtomKey]struct{}
	children     map[AtomKey]map[AtomKey]struct{}
}

func newGraph() *Graph {
	return &Graph{
		dependencies: make(map[AtomKey]map[AtomKey]struct{}),
		children:     make(map[AtomKey]map[AtomKey]struct{}),
	}
}

// AddEdge records that `from` depends on `to` (from -> to upstream).
func (g *Graph) AddEdge(from, to AtomKey) {
	if from == to {
		panic("atomstore: producer attempted to watch itself")
	}
	if g.dependencies[from] == nil {
		g.dependencies[from] = make(map[AtomKey]struct{})
	}
	g.dependencies[from][to] = struct{}{}

	if g.children[to] == nil {
		g.children[to] = make(map[AtomKey]struct{})
	}
	g.children[to][from] = struct{}{}
}

// RemoveEdge undoes AddEdge, pruning now-empty adjacency sets.
func (g *Graph) RemoveEdge(from, to AtomKey) {
	if deps, ok := g.dependencies[from]; ok {
		delete(deps, to)
		if len(deps) == 0 {
			delete(g.dependencies, from)
		}
	}
	if kids, ok := g.children[to]; ok {
		delete(kids, from)
		if len(kids) == 0 {
			delete(g.children, to)
		}
	}
}

// Dependencies returns a snapshot slice of k's upstream keys.
func (g *Graph) Dependencies(k AtomKey) []AtomKey {
	return keysOf(g.dependencies[k])
}

// Children returns a snapshot slice of k's downstream keys.
func (g *Graph) Children(k AtomKey) []AtomKey {
	return keysOf(g.children[k])
}

func keysOf(set map[AtomKey]struct{}) []AtomKey {
	if len(set) == 0 {
		return nil
	}
	out := make([]AtomKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// clearDependencies drops k's own upstream edges (k -> *) without
// touching k's children, and returns the removed upstream set. Used at
// the start of every re-evaluation: dependencies recorded by a previous
// run are removed first, then re-added as the new run touches them.
func (g *Graph) clearDependencies(k AtomKey) []AtomKey {
	upstream := g.Dependencies(k)
	for _, u := range upstream {
		g.RemoveEdge(k, u)
	}
	return upstream
}

// removeAllEdgesFor drops every edge touching k, in both directions,
// and returns the set of former upstream keys (k's old dependencies),
// which the caller must run through checkAndRelease.
func (g *Graph) removeAllEdgesFor(k AtomKey) []AtomKey {
	upstream := g.Dependencies(k)
	for _, u := range upstream {
		g.RemoveEdge(k, u)
	}
	for _, d := range g.Children(k) {
		g.RemoveEdge(d, k)
	}
	delete(g.dependencies, k)
	delete(g.children, k)
	return upstream
}

// clone returns a deep-enough copy for Snapshot: the outer maps and
// inner sets are copied so later mutation of the live graph cannot be
// observed through the snapshot.
func (g *Graph) clone() *Graph {
	out := newGraph()
	for k, set := range g.dependencies {
		out.dependencies[k] = cloneSet(set)
	}
	for k, set := range g.children {
		out.children[k] = cloneSet(set)
	}
	return out
}

func cloneSet(set map[AtomKey]struct{}) map[AtomKey]struct{} {
	out := make(map[AtomKey]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}
