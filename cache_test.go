package atomstore

import (
	"reflect"
	"testing"
)

func TestTypedCacheRoundTrip(t *testing.T) {
	table := newStateTable()
	k := keyFor("a")
	table.caches[k] = &Cache{typeTag: reflectTypeOf[int](), value: 42}

	v, ok, typeOK := typedCache[int](table, k)
	if !ok || !typeOK || v != 42 {
		t.Fatalf("want (42,true,true), got (%d,%v,%v)", v, ok, typeOK)
	}
}

func TestTypedCacheDetectsCollision(t *testing.T) {
	table := newStateTable()
	k := keyFor("a")
	table.caches[k] = &Cache{typeTag: reflectTypeOf[string](), value: "oops"}

	_, ok, typeOK := typedCache[int](table, k)
	if ok || typeOK {
		t.Fatalf("a type mismatch must report (false,false), got (%v,%v)", ok, typeOK)
	}
}

func TestTypedCacheAbsent(t *testing.T) {
	table := newStateTable()
	_, ok, typeOK := typedCache[int](table, keyFor("missing"))
	if ok || !typeOK {
		t.Fatalf("an absent key must report (false,true) -- not found, not a collision")
	}
}

func TestCacheEffectiveKeepAlive(t *testing.T) {
	k := keyFor("a")
	c := &Cache{keepAliveDeclared: true}
	if !c.effectiveKeepAlive(k) {
		t.Fatalf("an unscoped keep-alive cache should stay alive")
	}

	scoped := AtomKey{identity: k.identity, scopeKey: newScopeKey()}
	if c.effectiveKeepAlive(scoped) {
		t.Fatalf("a scoped key disables keep-alive even when declared")
	}

	c.scopedOverridden = true
	if c.effectiveKeepAlive(k) {
		t.Fatalf("a scoped-overridden cache disables keep-alive even when unscoped")
	}
}

func TestStateTableDeleteKeyRemovesEverything(t *testing.T) {
	table := newStateTable()
	k := keyFor("a")
	table.caches[k] = &Cache{}
	table.states[k] = &AtomState{}
	table.addSubscription(k, newSubscriberKey(), Subscription{})

	table.deleteKey(k)

	if table.hasCache(k) {
		t.Fatalf("deleteKey must drop the cache")
	}
	if _, ok := table.states[k]; ok {
		t.Fatalf("deleteKey must drop the state")
	}
	if len(table.subscriptionsFor(k)) != 0 {
		t.Fatalf("deleteKey must drop subscriptions")
	}
}

func reflectTypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
