package atomstore

import "reflect"

// Cache is the materialised value for one AtomKey, plus the exact atom
// descriptor that produced it. There is exactly one Cache per AtomKey
// once created. atom is kept as the type-erased AnyAtom so the kernel
// can re-evaluate a child it only knows by AtomKey (graph propagation,
// checkAndRelease) without a generic method on StoreContext.
type Cache struct {
	typeTag reflect.Type
	atom    AnyAtom
	value   any // T

	// keepAliveDeclared and scopedOverridden are captured at creation
	// time so checkAndRelease never has to go back through the atom or
	// override to decide whether keep-alive applies.
	keepAliveDeclared bool
	scopedOverridden  bool
}

// effectiveKeepAlive says whether a keep-alive atom still counts as
// keep-alive: it stops counting once its cache is scoped or was
// installed by a scoped override.
func (c *Cache) effectiveKeepAlive(k AtomKey) bool {
	return c.keepAliveDeclared && !k.IsScoped() && !c.scopedOverridden
}

// AtomState is the per-key mutable metadata that survives across
// re-evaluations: the producer's coordinator (an opaque scratch value
// the producer creates once) and the currently in-flight Transaction,
// if any.
type AtomState struct {
	typeTag     reflect.Type
	coordinator any
	txn         *Transaction
}

// StateTable is the per-key caches/states/subscriptions store. It is
// intentionally a set of plain maps rather than three independent
// sync.Maps: checkAndRelease needs to delete from caches, states and
// subscriptions as one atomic-from-the-caller's-perspective step, a
// guarantee three independent sync.Maps cannot give without an outer
// lock anyway, so plain maps under the single-logical-thread model
// (doc.go) are both simpler and sufficient.
type StateTable struct {
	caches        map[AtomKey]*Cache
	states        map[AtomKey]*AtomState
	subscriptions map[AtomKey]map[SubscriberKey]Subscription
}

func newStateTable() *StateTable {
	return &StateTable{
		caches:        make(map[AtomKey]*Cache),
		states:        make(map[AtomKey]*AtomState),
		subscriptions: make(map[AtomKey]map[SubscriberKey]Subscription),
	}
}

func (t *StateTable) hasCache(k AtomKey) bool {
	_, ok := t.caches[k]
	return ok
}

// typedCache recovers a *Cache as a concrete T. A cast failure here can
// only mean a user-chosen Key collided across two distinct atom types.
// When that happens, the offending entry is dropped (not panicked on)
// so the next access simply recreates it, and the caller is expected to
// log the diagnostic (see logCollision in errors.go).
func typedCache[T any](t *StateTable, k AtomKey) (T, bool, bool) {
	var zero T
	c, ok := t.caches[k]
	if !ok {
		return zero, false, true
	}
	want := reflect.TypeOf((*T)(nil)).Elem()
	if c.typeTag != want {
		return zero, false, false
	}
	v, ok := c.value.(T)
	if !ok {
		return zero, false, false
	}
	return v, true, true
}

func (t *StateTable) deleteKey(k AtomKey) {
	delete(t.caches, k)
	delete(t.states, k)
	delete(t.subscriptions, k)
}

func (t *StateTable) subscriptionsFor(k AtomKey) map[SubscriberKey]Subscription {
	return t.subscriptions[k]
}

func (t *StateTable) addSubscription(k AtomKey, subKey SubscriberKey, sub Subscription) {
	if t.subscriptions[k] == nil {
		t.subscriptions[k] = make(map[SubscriberKey]Subscription)
	}
	t.subscriptions[k][subKey] = sub
}

func (t *StateTable) removeSubscription(k AtomKey, subKey SubscriberKey) {
	subs, ok := t.subscriptions[k]
	if !ok {
		return
	}
	delete(subs, subKey)
	if len(subs) == 0 {
		delete(t.subscriptions, k)
	}
}

func (t *StateTable) clone() *StateTable {
	out := newStateTable()
	for k, v := range t.caches {
		cp := *v
		out.caches[k] = &cp
	}
	for k, v := range t.states {
		cp := *v
		out.states[k] = &cp
	}
	for k, subs := range t.subscriptions {
		cloned := make(map[SubscriberKey]Subscription, len(subs))
		for sk, sv := range subs {
			cloned[sk] = sv
		}
		out.subscriptions[k] = cloned
	}
	return out
}
