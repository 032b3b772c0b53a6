package atomstore

import (
	"context"
	"fmt"
	"reflect"
)

// Producer is the interface every atom flavor implements. The kernel
// never branches on which flavor it's holding — it only ever calls
// through this interface, via the type-erased AnyAtom adapter below.
type Producer[T any] interface {
	// Value computes the atom's initial/current value. It may call
	// Watch to register dependencies on other atoms.
	Value(pctx *ProducerCtx) (T, error)

	// ManageOverridden is called instead of Value when an override
	// supplies the value; it gets the chance to install side effects
	// (e.g. start a task) and to transform the stored value.
	ManageOverridden(v T, pctx *ProducerCtx) (T, error)

	// Refresh performs an asynchronous recomputation. Flavors that
	// don't support refresh should return an error.
	Refresh(pctx *ProducerCtx) (T, error)

	// ShouldUpdate decides, given a freshly produced value and the
	// previously cached one, whether an update should actually
	// propagate.
	ShouldUpdate(newV, oldV T) bool

	// PerformUpdate runs body, which performs the actual propagation
	// (subscribers, then children, then observers). Most flavors run
	// it synchronously; a view-layer flavor could defer it to a UI
	// frame.
	PerformUpdate(body func())

	// Updated is a user-observable hook invoked after a successful,
	// propagated update.
	Updated(newV, oldV T, pctx *ProducerCtx)
}

// BaseProducer supplies the default policy for every Producer hook, so
// a concrete flavor only overrides what it actually changes.
type BaseProducer[T any] struct{}

func (BaseProducer[T]) ManageOverridden(v T, _ *ProducerCtx) (T, error) { return v, nil }
func (BaseProducer[T]) Refresh(_ *ProducerCtx) (T, error) {
	var zero T
	return zero, errRefreshUnsupported
}
func (BaseProducer[T]) ShouldUpdate(_, _ T) bool    { return true }
func (BaseProducer[T]) PerformUpdate(body func())   { body() }
func (BaseProducer[T]) Updated(_, _ T, _ *ProducerCtx) {}

// AnyAtom is the type-erased view of an Atom[T] the kernel operates on
// internally: identity, scope declaration, keep-alive, and the full
// producer protocol with values boxed as `any`. This is what lets a
// single kernel (store.go) walk the graph and re-evaluate a child atom
// it only knows as an AtomKey, without ever needing a generic method
// on StoreContext — Go methods cannot introduce new type parameters, so
// the erased protocol is realized as one interface method per hook
// instead of a single downcast closure.
type AnyAtom interface {
	identity() atomIdentity
	declaredScopeID() (any, bool)
	keepsAlive() bool
	customResetHook() (func(ctx *StoreContext), bool)

	produceValue(pctx *ProducerCtx) (any, error)
	produceOverridden(v any, pctx *ProducerCtx) (any, error)
	produceRefresh(pctx *ProducerCtx) (any, error)
	shouldUpdate(newV, oldV any) bool
	performUpdate(body func())
	updated(newV, oldV any, pctx *ProducerCtx)
}

// Atom is a user-defined descriptor: identity, optional scope
// declaration, a keep-alive marker, and a Producer implementation.
type Atom[T any] struct {
	// Key is this atom's identity; when nil, the atom's own pointer is
	// used (an atom defaults to keying off itself when no Key is
	// supplied).
	Key any
	// ScopeID, when set, causes this atom to resolve against whichever
	// scope key the current StoreContext has inherited for that
	// ScopeID.
	ScopeID any
	// KeepAlive pins this atom's cache even with no children or
	// subscriptions, unless it is scoped or scoped-overridden.
	KeepAlive bool

	// OnReset, when set, makes this atom "custom-resettable": Reset no
	// longer rebuilds this atom's own cache at all, it just invokes
	// OnReset with the current StoreContext (so the hook can turn around
	// and Set/Reset other atoms). The atom's own cache, state, and
	// override binding are left completely untouched — see the
	// custom-reset overload in §4.4 of the design.
	OnReset func(ctx *StoreContext)

	Producer Producer[T]
}

func (a *Atom[T]) keyValue() any {
	if a.Key != nil {
		return a.Key
	}
	return a
}

func (a *Atom[T]) identity() atomIdentity {
	return identityOf(reflect.TypeOf((*T)(nil)).Elem(), a.keyValue())
}

func (a *Atom[T]) declaredScopeID() (any, bool) {
	return a.ScopeID, a.ScopeID != nil
}

func (a *Atom[T]) keepsAlive() bool {
	return a.KeepAlive
}

func (a *Atom[T]) customResetHook() (func(ctx *StoreContext), bool) {
	if a.OnReset == nil {
		return nil, false
	}
	return a.OnReset, true
}

func (a *Atom[T]) produceValue(pctx *ProducerCtx) (any, error) {
	return a.Producer.Value(pctx)
}

func (a *Atom[T]) produceOverridden(v any, pctx *ProducerCtx) (any, error) {
	tv, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("atomstore: override for %s produced %T, want %T", a.identity().typeTag, v, tv)
	}
	return a.Producer.ManageOverridden(tv, pctx)
}

func (a *Atom[T]) produceRefresh(pctx *ProducerCtx) (any, error) {
	return a.Producer.Refresh(pctx)
}

func (a *Atom[T]) shouldUpdate(newV, oldV any) bool {
	nv, ok1 := newV.(T)
	ov, ok2 := oldV.(T)
	if !ok1 || !ok2 {
		return true
	}
	return a.Producer.ShouldUpdate(nv, ov)
}

func (a *Atom[T]) performUpdate(body func()) {
	a.Producer.PerformUpdate(body)
}

func (a *Atom[T]) updated(newV, oldV any, pctx *ProducerCtx) {
	nv, _ := newV.(T)
	ov, _ := oldV.(T)
	a.Producer.Updated(nv, ov, pctx)
}

// ProducerCtx is the current context passed (as a pointer) to every
// producer hook: a reference to the store, the live transaction (nil
// when a producer is invoked outside one, e.g. an Updated callback),
// and the atom's coordinator.
type ProducerCtx struct {
	store       *StoreContext
	txn         *Transaction
	coordinator any
}

// Context returns the cancellation context tied to the current
// transaction, or context.Background if there isn't one.
func (p *ProducerCtx) Context() context.Context {
	if p.txn == nil {
		return context.Background()
	}
	return p.txn.Context()
}

// Coordinator returns the atom's long-lived scratch object, created
// once by the atom and kept until its cache is released.
func (p *ProducerCtx) Coordinator() any {
	return p.coordinator
}

// SetCoordinator installs the atom's coordinator. Conventionally
// called once, the first time an atom's Value hook runs.
func (p *ProducerCtx) SetCoordinator(v any) {
	p.coordinator = v
}

// Watch resolves upstream's value from within a producer, recording
// the dependency edge (current atom -> upstream) in the live
// transaction.
func Watch[T any](pctx *ProducerCtx, upstream *Atom[T]) (T, error) {
	v, err := watchInTxn(pctx.store, upstream, pctx.txn)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
