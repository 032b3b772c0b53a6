// Package atomstore implements a reactive state container built around
// atoms: small, independently addressable units of state that compose
// into a dynamic dependency graph.
//
// # Overview
//
// Consumers (views, or other atoms) subscribe to atoms through a
// StoreContext and receive updates when those atoms, or any atom they
// transitively depend on, change value. The store gives every atom a
// single cached value per scope, tracks dependencies as they are
// observed rather than declared, propagates updates to subscribers and
// dependents in a fixed order, garbage-collects atoms nobody observes
// anymore, and lets tests override any atom's value without touching
// the atom's own definition.
//
// # Basic usage
//
//	store := atomstore.NewStore()
//
//	counter := atomstore.NewState("counter", 0)
//	val, err := atomstore.Read(store, counter)
//
//	doubled := atomstore.NewDerived1("doubled", counter, func(c int) (int, error) {
//	    return c * 2, nil
//	})
//	d, err := atomstore.Read(store, doubled)
//
//	sub := atomstore.NewSubscriber(store)
//	_, err = atomstore.Subscribe(store, doubled, sub, func() {
//	    // runs whenever doubled's cached value changes
//	})
//
// # Scopes and overrides
//
// Scoped derives a child StoreContext with its own override table and
// observer list; atoms declaring a ScopeID are re-keyed into the
// nearest ancestor scope that bound that ScopeID, and a scoped override
// forces re-keying even for atoms that declare no ScopeID of their own:
//
//	testScope := store.Scoped("test", nil, atomstore.OverrideValue(counter, 42))
//
// Inherited derives a child StoreContext that keeps the parent's scope
// but layers on additional observers and overrides:
//
//	traced := store.Inherited([]atomstore.Observer{logObserver})
//
// # Producer protocol
//
// Every atom flavor (value, state, derived, task, resettable) is just a
// Producer[T] implementation; the kernel dispatches through the
// type-erased AnyAtom view and never branches on flavor.
//
// # Thread model
//
// A single StoreContext's mutating operations (Read, Subscribe, Set,
// Modify, Refresh, Reset, Unwatch, Restore) are meant to be driven from
// one goroutine at a time. This is a deliberate departure from the
// cross-goroutine-safe locking this package's ancestor uses: the
// reentrant call chain an update can trigger (propagate to a
// subscriber, reset a child, which re-enters Watch, which may create a
// cache) cannot be made to nest safely under a plain, non-reentrant
// mutex, so the kernel holds no lock at all and instead requires
// single-threaded, reentrancy-safe use, consistent with how a UI event
// loop or a single-goroutine service would drive it. The one true
// suspension point is Refresh, which hands the producer's async work to
// a goroutine and races it against the transaction's cancellation.
package atomstore
