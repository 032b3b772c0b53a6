package atomstore

import (
	"context"
	"fmt"
	"log/slog"
)

// kernel is the single shared backbone behind a root StoreContext and
// every scope derived from it: one Graph, one StateTable, one root
// context.Context for cancellation, one logger. Scope identity lives
// inside AtomKey rather than in separate per-scope storage, so the
// root and all of its scopes genuinely share one graph and one cache
// table.
type kernel struct {
	graph   *Graph
	table   *StateTable
	rootCtx context.Context
	logger  *slog.Logger
}

// StoreContext is the handle an application holds: a view onto the
// shared kernel plus the bits that vary per scope. It is the receiver
// threaded through Watch/Read/Set and every other operation in this
// file.
type StoreContext struct {
	k        *kernel
	parent   *StoreContext
	scopeKey ScopeKey
	scopeID  any

	inheritedScopeKeys map[any]ScopeKey
	observers          []Observer
	overrides          *OverrideTable
}

// StoreOption configures a root StoreContext at construction.
type StoreOption func(*StoreContext)

// WithLogger overrides the default slog.Default() used for kernel
// diagnostics (type-recovery collisions, failed graph-driven resets).
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *StoreContext) { s.k.logger = l }
}

// WithObserver registers an observer on the root store.
func WithObserver(o Observer) StoreOption {
	return func(s *StoreContext) { s.observers = append(s.observers, o) }
}

// WithOverrides installs root-level overrides.
func WithOverrides(opts ...OverrideOption) StoreOption {
	return func(s *StoreContext) {
		for _, opt := range opts {
			opt(s.overrides)
		}
	}
}

// NewStore creates the root StoreContext. It has no ScopeKey (the zero
// value, meaning unscoped) and no ancestors.
func NewStore(opts ...StoreOption) *StoreContext {
	s := &StoreContext{
		k: &kernel{
			graph:   newGraph(),
			table:   newStateTable(),
			rootCtx: context.Background(),
		},
		inheritedScopeKeys: make(map[any]ScopeKey),
		overrides:          newOverrideTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scoped derives a child StoreContext that introduces a brand new
// scope, identified by scopeID. Any atom declaring this same scopeID
// will, from here down, resolve against this scope's key. overrideOpts
// are local to this scope.
func (s *StoreContext) Scoped(scopeID any, observers []Observer, overrideOpts ...OverrideOption) *StoreContext {
	child := &StoreContext{
		k:                  s.k,
		parent:             s,
		scopeKey:           newScopeKey(),
		scopeID:            scopeID,
		inheritedScopeKeys: cloneScopeMap(s.inheritedScopeKeys),
		observers:          append([]Observer(nil), observers...),
		overrides:          newOverrideTable(),
	}
	if scopeID != nil {
		child.inheritedScopeKeys[scopeID] = child.scopeKey
	}
	for _, opt := range overrideOpts {
		opt(child.overrides)
	}
	return child
}

// Inherited derives a child StoreContext that does NOT introduce a new
// scope: it keeps the parent's ScopeKey/ScopeID, but layers in
// additional observers and overrides on top of the parent's.
func (s *StoreContext) Inherited(observers []Observer, overrideOpts ...OverrideOption) *StoreContext {
	child := &StoreContext{
		k:                  s.k,
		parent:             s,
		scopeKey:           s.scopeKey,
		scopeID:            s.scopeID,
		inheritedScopeKeys: cloneScopeMap(s.inheritedScopeKeys),
		observers:          append([]Observer(nil), observers...),
		overrides:          newOverrideTable(),
	}
	for id, ov := range s.overrides.concreteScoped {
		child.overrides.concreteScoped[id] = ov
	}
	for id, ov := range s.overrides.concreteUnscoped {
		child.overrides.concreteUnscoped[id] = ov
	}
	for t, ov := range s.overrides.typeScoped {
		child.overrides.typeScoped[t] = ov
	}
	for t, ov := range s.overrides.typeUnscoped {
		child.overrides.typeUnscoped[t] = ov
	}
	for _, opt := range overrideOpts {
		opt(child.overrides)
	}
	return child
}

func cloneScopeMap(m map[any]ScopeKey) map[any]ScopeKey {
	out := make(map[any]ScopeKey, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// allObservers walks from s up through the StoreContext chain it was
// derived from, collecting every observer registered along the way, so
// observers registered on the root context and those registered on an
// ancestor scope both receive every snapshot produced underneath.
func (s *StoreContext) allObservers() []Observer {
	var all []Observer
	for cur := s; cur != nil; cur = cur.parent {
		all = append(all, cur.observers...)
	}
	return all
}

// notifyIfAny builds and delivers a Snapshot to every observer in
// scope, but only if there is at least one — this is the one place
// that would otherwise pay for a Graph/StateTable clone on every
// mutating operation for nothing.
func (s *StoreContext) notifyIfAny() {
	obs := s.allObservers()
	if len(obs) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, o := range obs {
		o.Notify(snap)
	}
}

// effectiveKey resolves the AtomKey an atom is actually cached under:
// override lookup first, then scope resolution.
func (s *StoreContext) effectiveKey(atom AnyAtom) (AtomKey, Override, bool) {
	id := atom.identity()
	ov, hasOv := s.overrides.lookup(id)

	var scopeKey ScopeKey
	switch {
	case hasOv && ov.IsScoped:
		// Step 2: a scoped override inherits the *current* scope key,
		// even if the atom declares no ScopeID of its own.
		scopeKey = s.scopeKey
	default:
		if scopeID, declared := atom.declaredScopeID(); declared {
			// Step 3: an atom that declares a ScopeID resolves against
			// whichever scope last bound that ScopeID. If none has,
			// the atom is effectively unscoped here.
			scopeKey = s.inheritedScopeKeys[scopeID]
		}
		// Step 4: no override, no declared ScopeID -> unscoped (zero
		// value of ScopeKey).
	}

	return AtomKey{identity: id, scopeKey: scopeKey}, ov, hasOv
}

// resolveAndCache runs atom's producer (or its override) inside a
// fresh Transaction and installs the result as key's Cache. The
// previous transaction on this key is terminated first, the old
// dependency set is cleared up front, the producer re-records whatever
// it still watches, and on completion the keys it stopped watching are
// run through checkAndRelease.
func (s *StoreContext) resolveAndCache(atom AnyAtom, key AtomKey, ov Override, hasOv bool) (any, error) {
	prevState, hadState := s.k.table.states[key]
	if hadState && prevState.txn != nil {
		prevState.txn.terminate()
	}
	oldDeps := s.k.graph.clearDependencies(key)

	txn := newTransaction(s.k.rootCtx, key)
	s.registerReconcile(key, txn, oldDeps)

	var coordinator any
	if hadState {
		coordinator = prevState.coordinator
	}
	state := &AtomState{typeTag: key.TypeTag(), coordinator: coordinator, txn: txn}
	s.k.table.states[key] = state

	pctx := &ProducerCtx{store: s, txn: txn, coordinator: coordinator}

	var v any
	var err error
	if hasOv {
		var raw any
		raw, err = ov.Produce(atom)
		if err == nil {
			v, err = atom.produceOverridden(raw, pctx)
		}
	} else {
		v, err = atom.produceValue(pctx)
	}

	state.coordinator = pctx.coordinator
	txn.terminate()

	if err != nil {
		delete(s.k.table.states, key)
		upstream := s.k.graph.removeAllEdgesFor(key)
		for _, u := range upstream {
			s.checkAndRelease(u)
		}
		return nil, &ResolveError{Key: key, Cause: err}
	}

	s.k.table.caches[key] = &Cache{
		typeTag:           key.TypeTag(),
		atom:              atom,
		value:             v,
		keepAliveDeclared: atom.keepsAlive(),
		scopedOverridden:  hasOv && ov.IsScoped,
	}
	return v, nil
}

// registerReconcile arranges for key's dependency diff to be
// reconciled exactly once, whenever txn terminates — whether that
// happens because this resolution ran to completion, or because some
// other operation (a superseding Refresh, a Set, a release) terminated
// it first. Tying this to OnTermination rather than calling it
// directly after the producer returns is what keeps a cancelled
// Refresh's abandoned dependencies from leaking.
func (s *StoreContext) registerReconcile(key AtomKey, txn *Transaction, oldDeps []AtomKey) {
	txn.OnTermination(func() {
		if st, ok := s.k.table.states[key]; ok && st.txn == txn {
			st.txn = nil
		}
		for _, u := range oldDeps {
			if _, stillDep := txn.newDeps[u]; !stillDep {
				s.checkAndRelease(u)
			}
		}
	})
}

// watchInTxn is the producer-side dependency resolution used by
// Watch[T]: resolve upstream's value, creating its cache if needed,
// and — when txn is non-nil — record the dependency edge.
func watchInTxn[T any](s *StoreContext, atom *Atom[T], txn *Transaction) (any, error) {
	key, ov, hasOv := s.effectiveKey(atom)

	if v, ok, typeOK := typedCache[T](s.k.table, key); ok {
		s.recordEdgeIfAny(txn, key)
		return v, nil
	} else if !typeOK {
		s.logCollision(key)
		s.checkAndRelease(key)
	}

	v, err := s.resolveAndCache(atom, key, ov, hasOv)
	if err != nil {
		return nil, err
	}
	s.notifyIfAny()
	s.recordEdgeIfAny(txn, key)
	return v, nil
}

func (s *StoreContext) recordEdgeIfAny(txn *Transaction, key AtomKey) {
	if txn == nil {
		return
	}
	s.k.graph.AddEdge(txn.key, key)
	txn.recordDependency(key)
}

// Read resolves atom's current value, creating its cache on first
// access, and immediately runs checkAndRelease since a bare read
// leaves no subscriber or dependent behind.
func Read[T any](s *StoreContext, atom *Atom[T]) (T, error) {
	var zero T
	key, ov, hasOv := s.effectiveKey(atom)

	if v, ok, typeOK := typedCache[T](s.k.table, key); ok {
		return v, nil
	} else if !typeOK {
		s.logCollision(key)
		s.checkAndRelease(key)
	}

	v, err := s.resolveAndCache(atom, key, ov, hasOv)
	if err != nil {
		return zero, err
	}
	s.notifyIfAny()
	if s.checkAndRelease(key) {
		s.notifyIfAny()
	}
	return v.(T), nil
}

// Subscribe is the consumer-side counterpart to Watch: it subscribes
// sub to atom, invoking onUpdate whenever its cached value changes, and
// returns the current value. Calling Subscribe again with the same
// Subscriber is idempotent: it returns the current value without
// adding a second subscription entry.
func Subscribe[T any](s *StoreContext, atom *Atom[T], sub *Subscriber, onUpdate func()) (T, error) {
	var zero T
	key, ov, hasOv := s.effectiveKey(atom)

	v, ok, typeOK := typedCache[T](s.k.table, key)
	if !ok {
		if !typeOK {
			s.logCollision(key)
			s.checkAndRelease(key)
		}
		fresh, err := s.resolveAndCache(atom, key, ov, hasOv)
		if err != nil {
			return zero, err
		}
		v = fresh.(T)
		s.notifyIfAny()
	}

	existing := s.k.table.subscriptionsFor(key)
	_, already := existing[sub.key]
	wasEmpty := len(existing) == 0

	s.k.table.addSubscription(key, sub.key, Subscription{Update: onUpdate})
	sub.trackKey(key)

	if !already && wasEmpty {
		s.notifyIfAny()
	}
	return v, nil
}

// Unwatch removes sub's subscription to atom and re-runs
// checkAndRelease on its key.
func Unwatch[T any](s *StoreContext, atom *Atom[T], sub *Subscriber) {
	key, _, _ := s.effectiveKey(atom)
	s.unwatchKey(key, sub)
}

func (s *StoreContext) unwatchKey(key AtomKey, sub *Subscriber) {
	s.k.table.removeSubscription(key, sub.key)
	sub.untrackKey(key)
	s.checkAndRelease(key)
	s.notifyIfAny()
}

// Set replaces a state atom's cached value directly, bypassing its
// Value hook. It is a no-op if the atom has no cache yet. Any in-flight
// transaction on this key (e.g. a pending Refresh) is terminated
// first, so its late result can never clobber this write.
func Set[T any](s *StoreContext, atom *Atom[T], value T) error {
	key, _, _ := s.effectiveKey(atom)
	c, ok := s.k.table.caches[key]
	if !ok {
		return nil
	}
	old, typeOK := c.value.(T)
	if !typeOK {
		s.logCollision(key)
		s.checkAndRelease(key)
		return nil
	}
	if st, ok := s.k.table.states[key]; ok && st.txn != nil {
		st.txn.terminate()
	}
	return s.propagateUpdate(key, c.atom, value, old)
}

// Modify reads a state atom's current value, applies body, and writes
// the result back through the same path as Set.
func Modify[T any](s *StoreContext, atom *Atom[T], body func(T) T) error {
	key, _, _ := s.effectiveKey(atom)
	c, ok := s.k.table.caches[key]
	if !ok {
		return nil
	}
	old, typeOK := c.value.(T)
	if !typeOK {
		s.logCollision(key)
		s.checkAndRelease(key)
		return nil
	}
	if st, ok := s.k.table.states[key]; ok && st.txn != nil {
		st.txn.terminate()
	}
	return s.propagateUpdate(key, c.atom, body(old), old)
}

// propagateUpdate writes newV into key's cache (after ShouldUpdate
// approves it) and delivers it.
func (s *StoreContext) propagateUpdate(key AtomKey, atom AnyAtom, newV, old any) error {
	if !atom.shouldUpdate(newV, old) {
		return nil
	}
	c := s.k.table.caches[key]
	c.value = newV
	s.deliverUpdate(key, atom, newV, old)
	return nil
}

// deliverUpdate runs the update-propagation order: subscribers first,
// then children (each reset), then observers once, then the Updated
// hook. atom.performUpdate wraps the whole body, letting a flavor
// choose synchronous vs. deferred delivery. Used both for ordinary
// ShouldUpdate-gated updates and for the unconditional delivery a
// Reset/ResetWith always performs.
func (s *StoreContext) deliverUpdate(key AtomKey, atom AnyAtom, newV, old any) {
	atom.performUpdate(func() {
		subsSnapshot := make([]Subscription, 0, len(s.k.table.subscriptionsFor(key)))
		for _, sub := range s.k.table.subscriptionsFor(key) {
			subsSnapshot = append(subsSnapshot, sub)
		}
		for _, sub := range subsSnapshot {
			sub.Update()
		}

		for _, child := range s.k.graph.Children(key) {
			s.resetKey(child)
		}

		s.notifyIfAny()

		atom.updated(newV, old, &ProducerCtx{store: s})
	})
}

// resetKey rebuilds a child's cache after one of its dependencies
// changed. It is reached only via graph traversal, where the static
// type of the child's atom is not known, hence AnyAtom throughout. The
// child's own result is then delivered exactly like any other update,
// which is what lets a multi-level dependency chain (grandchildren)
// cascade correctly.
func (s *StoreContext) resetKey(key AtomKey) {
	c, ok := s.k.table.caches[key]
	if !ok {
		return
	}
	atom := c.atom
	old := c.value
	newKey, ov, hasOv := s.effectiveKey(atom)
	v, err := s.resolveAndCache(atom, newKey, ov, hasOv)
	if err != nil {
		s.logger().Warn("atomstore: reset failed", "key", key.String(), "error", err)
		return
	}
	s.deliverUpdate(key, atom, v, old)
}

// Reset has two overloads, matching the kernel surface's
// `reset(atom) | reset(resettableAtom)`. When atom declares an OnReset
// hook (a "custom-resettable" atom), Reset invokes that hook with the
// current StoreContext and returns — it does not itself create,
// rebuild, or release this atom's cache or state; the hook is expected
// to drive other atoms via Set/Reset instead. Otherwise Reset falls
// back to the generic path: atom's Value (or its override) runs again
// unconditionally, without consulting ShouldUpdate, and the result is
// always delivered to subscribers/children/observers.
func Reset[T any](s *StoreContext, atom *Atom[T]) error {
	if hook, ok := atom.customResetHook(); ok {
		hook(s)
		return nil
	}

	key, ov, hasOv := s.effectiveKey(atom)
	c, hasCache := s.k.table.caches[key]
	if !hasCache {
		return nil
	}
	old := c.value
	v, err := s.resolveAndCache(atom, key, ov, hasOv)
	if err != nil {
		return err
	}
	s.deliverUpdate(key, atom, v, old)
	return nil
}

// ResetWith installs value directly instead of re-running Value, and
// still runs full update propagation, bypassing ShouldUpdate. It is a
// no-op if the atom has no cache yet.
func ResetWith[T any](s *StoreContext, atom *Atom[T], value T) error {
	key, _, _ := s.effectiveKey(atom)
	c, ok := s.k.table.caches[key]
	if !ok {
		return nil
	}
	old := c.value
	a := c.atom
	if st, ok := s.k.table.states[key]; ok && st.txn != nil {
		st.txn.terminate()
	}
	c.value = value
	s.deliverUpdate(key, a, value, old)
	return nil
}

// Refresh runs atom's Refresh hook asynchronously inside a fresh
// Transaction, racing it against the transaction's own cancellation via
// a goroutine, a result channel, and a select on ctx.Done(). If the
// transaction is terminated first (superseded by a new Refresh, a Set,
// or the key being released), the late result is discarded and never
// written.
func Refresh[T any](s *StoreContext, atom *Atom[T]) (T, error) {
	var zero T
	key, ov, hasOv := s.effectiveKey(atom)

	prevState, hadState := s.k.table.states[key]
	if hadState && prevState.txn != nil {
		prevState.txn.terminate()
	}
	oldDeps := s.k.graph.clearDependencies(key)

	txn := newTransaction(s.k.rootCtx, key)
	s.registerReconcile(key, txn, oldDeps)
	var coordinator any
	if hadState {
		coordinator = prevState.coordinator
	}
	state := &AtomState{typeTag: key.TypeTag(), coordinator: coordinator, txn: txn}
	s.k.table.states[key] = state

	pctx := &ProducerCtx{store: s, txn: txn, coordinator: coordinator}

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		var v any
		var err error
		if hasOv {
			var raw any
			raw, err = ov.Produce(atom)
			if err == nil {
				v, err = atom.produceOverridden(raw, pctx)
			}
		} else {
			v, err = atom.produceRefresh(pctx)
		}
		done <- result{v, err}
	}()

	select {
	case <-txn.Context().Done():
		return zero, fmt.Errorf("atomstore: refresh of %s cancelled: %w", key, txn.Context().Err())
	case r := <-done:
		state.coordinator = pctx.coordinator
		txn.terminate()
		if r.err != nil {
			return zero, &ResolveError{Key: key, Cause: r.err}
		}
		old, _ := func() (T, bool) {
			if prev, ok := s.k.table.caches[key]; ok {
				v, ok := prev.value.(T)
				return v, ok
			}
			var z T
			return z, false
		}()
		s.k.table.caches[key] = &Cache{
			typeTag:           key.TypeTag(),
			atom:              atom,
			value:             r.v,
			keepAliveDeclared: atom.keepsAlive(),
			scopedOverridden:  hasOv && ov.IsScoped,
		}
		if err := s.propagateUpdate(key, atom, r.v, old); err != nil {
			return zero, err
		}
		return r.v.(T), nil
	}
}

// Lookup returns atom's cached value without creating it, reporting
// whether a cache was present.
func Lookup[T any](s *StoreContext, atom *Atom[T]) (T, bool) {
	key, _, _ := s.effectiveKey(atom)
	v, ok, typeOK := typedCache[T](s.k.table, key)
	if !typeOK {
		s.logCollision(key)
		s.checkAndRelease(key)
		var zero T
		return zero, false
	}
	return v, ok
}

// checkAndRelease releases a key's cache once it has no children, no
// subscribers, and is not (effectively) keep-alive. Releasing a key
// terminates its in-flight transaction (if any), drops it from the
// graph and state table, and recurses into whichever upstream keys
// just lost their last child.
func (s *StoreContext) checkAndRelease(key AtomKey) bool {
	c, ok := s.k.table.caches[key]
	if !ok {
		return false
	}
	if c.effectiveKeepAlive(key) {
		return false
	}
	if len(s.k.graph.Children(key)) > 0 {
		return false
	}
	if len(s.k.table.subscriptionsFor(key)) > 0 {
		return false
	}

	if st, ok := s.k.table.states[key]; ok && st.txn != nil {
		st.txn.terminate()
	}
	upstream := s.k.graph.removeAllEdgesFor(key)
	s.k.table.deleteKey(key)

	for _, u := range upstream {
		s.checkAndRelease(u)
	}
	return true
}
