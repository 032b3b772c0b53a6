package atomstore

import (
	"errors"
	"testing"
)

func TestReadCreatesAndReleasesCache(t *testing.T) {
	store := NewStore()
	counter := NewState("counter", 7)

	v, err := Read(store, counter)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if v != 7 {
		t.Fatalf("want 7, got %d", v)
	}

	key, _, _ := store.effectiveKey(counter)
	if store.k.table.hasCache(key) {
		t.Fatalf("a bare Read with no subscriber/dependent should release its cache")
	}
}

func TestSubscribeKeepsCacheAliveAndUnwatchReleases(t *testing.T) {
	store := NewStore()
	counter := NewState("counter", 1)
	sub := NewSubscriber(store)

	v, err := Subscribe(store, counter, sub, func() {})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if v != 1 {
		t.Fatalf("want 1, got %d", v)
	}

	key, _, _ := store.effectiveKey(counter)
	if !store.k.table.hasCache(key) {
		t.Fatalf("an active subscription must keep the cache alive")
	}

	Unwatch(store, counter, sub)
	if store.k.table.hasCache(key) {
		t.Fatalf("releasing the last subscriber should release the cache")
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	store := NewStore()
	counter := NewState("counter", 1)
	sub := NewSubscriber(store)
	calls := 0

	if _, err := Subscribe(store, counter, sub, func() { calls++ }); err != nil {
		t.Fatalf("first Subscribe failed: %v", err)
	}
	if _, err := Subscribe(store, counter, sub, func() { calls++ }); err != nil {
		t.Fatalf("second Subscribe failed: %v", err)
	}

	key, _, _ := store.effectiveKey(counter)
	if got := len(store.k.table.subscriptionsFor(key)); got != 1 {
		t.Fatalf("want exactly one subscription entry, got %d", got)
	}
}

func TestSetUpdatesCacheAndFiresSubscriber(t *testing.T) {
	store := NewStore()
	counter := NewState("counter", 0)
	sub := NewSubscriber(store)

	var order []string
	if _, err := Subscribe(store, counter, sub, func() { order = append(order, "subscriber") }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := Set(store, counter, 5); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, ok := Lookup(store, counter)
	if !ok || v != 5 {
		t.Fatalf("want cached value 5, got %d (ok=%v)", v, ok)
	}
	if len(order) != 1 || order[0] != "subscriber" {
		t.Fatalf("expected the subscriber callback to run once, got %v", order)
	}
}

func TestSetToSameValueIsNoop(t *testing.T) {
	store := NewStore()
	counter := NewState("counter", 5)
	sub := NewSubscriber(store)

	calls := 0
	if _, err := Subscribe(store, counter, sub, func() { calls++ }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := Set(store, counter, 5); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if calls != 0 {
		t.Fatalf("Set to the same value must be a ShouldUpdate no-op, got %d callback firings", calls)
	}

	if err := Set(store, counter, 6); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("Set to a different value must still propagate, got %d callback firings", calls)
	}
}

func TestSetIsNoopWithoutExistingCache(t *testing.T) {
	store := NewStore()
	counter := NewState("counter", 0)

	if err := Set(store, counter, 99); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if _, ok := Lookup(store, counter); ok {
		t.Fatalf("Set must not materialise a cache that did not already exist")
	}
}

func TestModify(t *testing.T) {
	store := NewStore()
	counter := NewState("counter", 10)
	sub := NewSubscriber(store)
	if _, err := Subscribe(store, counter, sub, func() {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := Modify(store, counter, func(v int) int { return v + 1 }); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}

	v, _ := Lookup(store, counter)
	if v != 11 {
		t.Fatalf("want 11, got %d", v)
	}
}

func TestDerivedPropagatesThroughChildren(t *testing.T) {
	store := NewStore()
	base := NewState("base", 2)
	doubled := NewDerived1("doubled", base, func(v int) (int, error) { return v * 2, nil })

	sub := NewSubscriber(store)
	calls := 0
	if _, err := Subscribe(store, doubled, sub, func() { calls++ }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := Set(store, base, 5); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, ok := Lookup(store, doubled)
	if !ok || v != 10 {
		t.Fatalf("want doubled=10, got %d (ok=%v)", v, ok)
	}
	if calls != 1 {
		t.Fatalf("want exactly one subscriber callback, got %d", calls)
	}
}

func TestResetRebuildsUnconditionally(t *testing.T) {
	store := NewStore()
	n := 0
	counter := NewTask("counter", func(*ProducerCtx) (int, error) {
		n++
		return n, nil
	})

	sub := NewSubscriber(store)
	if _, err := Subscribe(store, counter, sub, func() {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Value should have run once on first resolution, got %d", n)
	}

	if err := Reset(store, counter); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Reset should re-run Value, got n=%d", n)
	}
}

func TestResetWithBypassesShouldUpdate(t *testing.T) {
	store := NewStore()
	counter := NewState("counter", 1)
	sub := NewSubscriber(store)
	calls := 0
	if _, err := Subscribe(store, counter, sub, func() { calls++ }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := ResetWith(store, counter, 1); err != nil {
		t.Fatalf("ResetWith failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("ResetWith must always deliver, even with an unchanged value; got %d calls", calls)
	}
}

func TestLookupReportsAbsence(t *testing.T) {
	store := NewStore()
	counter := NewState("counter", 0)
	if _, ok := Lookup(store, counter); ok {
		t.Fatalf("Lookup should report false before anything resolves the atom")
	}
}

type countingObserver struct{ n int }

func (o *countingObserver) Notify(*Snapshot) { o.n++ }

func TestObserversFireOnMutatingOperations(t *testing.T) {
	obs := &countingObserver{}
	store := NewStore(WithObserver(obs))
	counter := NewState("counter", 0)
	sub := NewSubscriber(store)

	if _, err := Subscribe(store, counter, sub, func() {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if obs.n == 0 {
		t.Fatalf("expected at least one notification after the first subscription")
	}

	before := obs.n
	if err := Set(store, counter, 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if obs.n <= before {
		t.Fatalf("expected Set to trigger at least one more notification")
	}
}

func TestScopedOverrideValue(t *testing.T) {
	store := NewStore()
	counter := NewState("counter", 1)

	scope := store.Scoped("test-scope", nil, OverrideValue(counter, 42))

	v, err := Read(scope, counter)
	if err != nil {
		t.Fatalf("Read in scope failed: %v", err)
	}
	if v != 42 {
		t.Fatalf("want overridden value 42, got %d", v)
	}

	rootV, err := Read(store, counter)
	if err != nil {
		t.Fatalf("Read on root failed: %v", err)
	}
	if rootV != 1 {
		t.Fatalf("root store must not see the scope's override, got %d", rootV)
	}
}

func TestOverridePrecedenceConcreteBeatsType(t *testing.T) {
	store := NewStore(WithOverrides(
		OverrideType[int](func(AnyAtom) (int, error) { return -1, nil }),
	))
	counter := NewState("counter", 1)
	store.overrides.setConcrete(counter.identity(), Override{
		Produce: func(AnyAtom) (any, error) { return 100, nil },
	})

	v, err := Read(store, counter)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if v != 100 {
		t.Fatalf("concrete override should win over type override, got %d", v)
	}
}

func TestInheritedCarriesParentOverridesAndObservers(t *testing.T) {
	obs := &countingObserver{}
	root := NewStore(WithObserver(obs))
	counter := NewState("counter", 1)
	root.overrides.setConcrete(counter.identity(), Override{
		Produce: func(AnyAtom) (any, error) { return 9, nil },
	})

	child := root.Inherited(nil)
	v, err := Read(child, counter)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if v != 9 {
		t.Fatalf("Inherited child should see parent overrides, got %d", v)
	}
	if obs.n == 0 {
		t.Fatalf("the parent's observer should be notified of operations on the Inherited child")
	}
}

func TestSnapshotAndRestore(t *testing.T) {
	store := NewStore()
	counter := NewState("counter", 1)
	sub := NewSubscriber(store)
	if _, err := Subscribe(store, counter, sub, func() {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	snap := store.Snapshot()

	if err := Set(store, counter, 2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, _ := Lookup(store, counter)
	if v != 2 {
		t.Fatalf("want 2 after Set, got %d", v)
	}

	store.Restore(snap)
	v, ok := Lookup(store, counter)
	if !ok || v != 1 {
		t.Fatalf("want restored value 1, got %d (ok=%v)", v, ok)
	}

	sv, ok := SnapshotLookup(snap, store, counter)
	if !ok || sv != 1 {
		t.Fatalf("snapshot's own lookup must still report the value it captured, got %d (ok=%v)", sv, ok)
	}
}

// TestScenario_SnapshotRestoreFiresSubscriptionOnce is the literal S5
// scenario: a three-level chain X -> Y -> Z with a subscriber on Z.
// Restoring a snapshot taken before a Set on X must revert Z's value
// and fire Z's subscription exactly once.
func TestScenario_SnapshotRestoreFiresSubscriptionOnce(t *testing.T) {
	store := NewStore()
	x := NewState("x", 1)
	y := NewDerived1("y", x, func(v int) (int, error) { return v + 1, nil })
	z := NewDerived1("z", y, func(v int) (int, error) { return v + 1, nil })

	sub := NewSubscriber(store)
	calls := 0
	var lastSeen int
	if _, err := Subscribe(store, z, sub, func() {
		calls++
		lastSeen, _ = Lookup(store, z)
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	s0 := store.Snapshot()

	if err := Set(store, x, 10); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := Lookup(store, z); v != 12 {
		t.Fatalf("want z=12 after Set, got %d", v)
	}

	calls = 0
	store.Restore(s0)

	if calls != 1 {
		t.Fatalf("want Z's subscription to fire exactly once on restore, got %d", calls)
	}
	if lastSeen != 3 {
		t.Fatalf("want restored z=3 observed by the subscriber, got %d", lastSeen)
	}
	v, ok := Lookup(store, z)
	if !ok || v != 3 {
		t.Fatalf("want restored z=3, got %d (ok=%v)", v, ok)
	}
}

func TestResolveErrorUnwraps(t *testing.T) {
	store := NewStore()
	boom := errors.New("boom")
	failing := NewTask("failing", func(*ProducerCtx) (int, error) { return 0, boom })

	_, err := Read(store, failing)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("ResolveError should unwrap to the producer's error, got %v", err)
	}
}

// TestFailedResolutionLeavesNoTraceInGraphOrState covers a producer
// that successfully watches one upstream and then errors afterward
// (e.g. a second Watch, or the combining fn itself, failing): the
// failed key must not be left with an orphaned AtomState, a dangling
// dependency edge, or an upstream pinned alive by that edge.
func TestFailedResolutionLeavesNoTraceInGraphOrState(t *testing.T) {
	store := NewStore()
	boom := errors.New("boom")
	up := NewState("up", 1)
	derived := NewDerived1("derived", up, func(int) (int, error) { return 0, boom })

	_, err := Read(store, derived)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("ResolveError should unwrap to the producer's error, got %v", err)
	}

	derivedKey, _, _ := store.effectiveKey(derived)
	upKey, _, _ := store.effectiveKey(up)

	if _, ok := store.k.table.states[derivedKey]; ok {
		t.Fatalf("a failed resolution must not leave an orphaned AtomState behind")
	}
	if _, ok := store.k.table.caches[derivedKey]; ok {
		t.Fatalf("a failed resolution must not leave a cache entry behind")
	}
	if len(store.k.graph.Dependencies(derivedKey)) != 0 {
		t.Fatalf("a failed resolution must not leave a dangling dependency edge, got %v", store.k.graph.Dependencies(derivedKey))
	}
	if store.k.table.hasCache(upKey) {
		t.Fatalf("the upstream atom watched before the failure must be released, not pinned alive by a dangling edge")
	}
}

func TestDeclaredScopeIDResolvesAgainstInheritedScope(t *testing.T) {
	root := NewStore()
	session := &Atom[int]{Key: "session-user", ScopeID: "session", Producer: &stateProducer[int]{initial: 0}}

	scopeA := root.Scoped("session", nil, OverrideValue(session, 1))
	child := scopeA.Inherited(nil)

	v, err := Read(child, session)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if v != 1 {
		t.Fatalf("a child derived via Inherited should still resolve the declared ScopeID through the scope that bound it, got %d", v)
	}

	rootV, err := Read(root, session)
	if err != nil {
		t.Fatalf("Read on root failed: %v", err)
	}
	if rootV != 0 {
		t.Fatalf("the root store has no binding for ScopeID %q, so the atom should resolve unscoped, got %d", "session", rootV)
	}
}

func TestCheckAndReleaseCascadesUpstream(t *testing.T) {
	store := NewStore()
	base := NewState("base", 1)
	doubled := NewDerived1("doubled", base, func(v int) (int, error) { return v * 2, nil })
	sub := NewSubscriber(store)

	if _, err := Subscribe(store, doubled, sub, func() {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	baseKey, _, _ := store.effectiveKey(base)
	if !store.k.table.hasCache(baseKey) {
		t.Fatalf("base's cache should exist as a dependency of doubled")
	}

	doubledKey, _, _ := store.effectiveKey(doubled)
	Unwatch(store, doubled, sub)

	if store.k.table.hasCache(doubledKey) {
		t.Fatalf("doubled should release once its last subscriber leaves")
	}
	if store.k.table.hasCache(baseKey) {
		t.Fatalf("base should cascade-release once doubled (its only child) is gone")
	}
}
