package atomstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/m1gwings/treedrawer/tree"
)

// Observer receives a Snapshot after every store operation that might
// have changed the graph or a cached value. Observers registered on the
// root store and those inherited from a scope both receive every
// snapshot produced underneath that scope.
type Observer interface {
	Notify(snap *Snapshot)
}

// ObserverFunc adapts a plain function to Observer, so a caller can
// register a closure directly instead of defining a one-method struct.
type ObserverFunc func(*Snapshot)

func (f ObserverFunc) Notify(snap *Snapshot) { f(snap) }

// Snapshot is an immutable, point-in-time copy of the graph and cache
// state. It shares nothing mutable with the live store: Graph.clone and
// StateTable.clone deep-copy every adjacency set and per-key record.
type Snapshot struct {
	graph *Graph
	table *StateTable
}

// Snapshot captures the current graph and cache state.
func (s *StoreContext) Snapshot() *Snapshot {
	return &Snapshot{
		graph: s.k.graph.clone(),
		table: s.k.table.clone(),
	}
}

// Restore overwrites the cache and graph entries for every key present
// in snap, computes which upstream keys the restored state no longer
// depends on, and releases those through checkAndRelease exactly as a
// live dependency change would. Each restored key's subscriptions then
// fire exactly once (subscriptions themselves are not part of the
// restored state — existing subscribers simply see their key's value
// revert), and observers are notified once at the end rather than once
// per key.
func (s *StoreContext) Restore(snap *Snapshot) {
	restoredKeys := snap.Keys()

	oldDeps := make(map[AtomKey][]AtomKey, len(restoredKeys))
	for _, k := range restoredKeys {
		oldDeps[k] = s.k.graph.clearDependencies(k)
	}

	for _, k := range restoredKeys {
		cp := *snap.table.caches[k]
		s.k.table.caches[k] = &cp

		if st, ok := snap.table.states[k]; ok {
			stcp := *st
			stcp.txn = nil
			s.k.table.states[k] = &stcp
		} else {
			delete(s.k.table.states, k)
		}

		for _, dep := range snap.graph.Dependencies(k) {
			s.k.graph.AddEdge(k, dep)
		}
	}

	for _, k := range restoredKeys {
		newDeps := make(map[AtomKey]struct{})
		for _, d := range s.k.graph.Dependencies(k) {
			newDeps[d] = struct{}{}
		}
		for _, u := range oldDeps[k] {
			if _, stillDep := newDeps[u]; !stillDep {
				s.checkAndRelease(u)
			}
		}
	}

	for _, k := range restoredKeys {
		subs := s.k.table.subscriptionsFor(k)
		fire := make([]Subscription, 0, len(subs))
		for _, sub := range subs {
			fire = append(fire, sub)
		}
		for _, sub := range fire {
			sub.Update()
		}
	}

	s.notifyIfAny()
}

// SnapshotLookup recovers atom's value out of a Snapshot, resolving the
// same effective key it would resolve to under s, without touching the
// live store. Reports false if the snapshot has no cache for that key.
func SnapshotLookup[T any](snap *Snapshot, s *StoreContext, atom *Atom[T]) (T, bool) {
	var zero T
	key, _, _ := s.effectiveKey(atom)
	v, ok, typeOK := typedCache[T](snap.table, key)
	if !typeOK || !ok {
		return zero, false
	}
	return v, true
}

// Keys returns every AtomKey present in the snapshot, sorted for
// deterministic iteration.
func (snap *Snapshot) Keys() []AtomKey {
	out := make([]AtomKey, 0, len(snap.table.caches))
	for k := range snap.table.caches {
		out = append(out, k)
	}
	sortKeys(out)
	return out
}

func sortKeys(keys []AtomKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}

// GraphDescription renders the dependency graph as a DOT digraph: one
// quoted node per cached key plus every dependency edge, both emitted
// in sorted order so two snapshots of the same state always produce
// byte-identical output.
func (snap *Snapshot) GraphDescription() string {
	keys := snap.Keys()

	var b strings.Builder
	b.WriteString("digraph atomstore {\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  %q;\n", k.String())
	}

	type edge struct{ from, to string }
	var edges []edge
	for _, k := range keys {
		for _, dep := range snap.graph.Dependencies(k) {
			edges = append(edges, edge{k.String(), dep.String()})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].from != edges[j].from {
			return edges[i].from < edges[j].from
		}
		return edges[i].to < edges[j].to
	})
	for _, e := range edges {
		fmt.Fprintf(&b, "  %q -> %q;\n", e.from, e.to)
	}
	b.WriteString("}\n")
	return b.String()
}

// HumanTree renders the dependency graph as an ASCII tree rooted at
// every key with no dependents, using github.com/m1gwings/treedrawer.
func (snap *Snapshot) HumanTree() string {
	keys := snap.Keys()

	var roots []AtomKey
	for _, k := range keys {
		if len(snap.graph.Children(k)) == 0 {
			roots = append(roots, k)
		}
	}
	if len(roots) == 0 {
		roots = keys
	}

	var out strings.Builder
	for _, r := range roots {
		t := tree.NewTree(tree.NodeString(r.String()))
		snap.growTree(t, r, map[AtomKey]bool{r: true})
		out.WriteString(t.String())
		out.WriteString("\n")
	}
	return out.String()
}

func (snap *Snapshot) growTree(node *tree.Tree, k AtomKey, seen map[AtomKey]bool) {
	deps := snap.graph.Dependencies(k)
	sortKeys(deps)
	for _, d := range deps {
		if seen[d] {
			continue
		}
		seen[d] = true
		child := node.AddChild(tree.NodeString(d.String()))
		snap.growTree(child, d, seen)
	}
}
