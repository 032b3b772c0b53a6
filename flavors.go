package atomstore

// This file holds small, optional producer flavors layered on top of
// the Producer protocol. They exist to give callers convenient
// constructors without having to implement Producer by hand for the
// common cases; nothing in store.go depends on them.

// valueProducer is the simplest possible flavor: a constant, computed
// once and never refreshed or updated.
type valueProducer[T any] struct {
	BaseProducer[T]
	v T
}

func (p *valueProducer[T]) Value(*ProducerCtx) (T, error) { return p.v, nil }

// NewValue returns an atom whose value is fixed at construction time.
func NewValue[T any](key any, v T) *Atom[T] {
	return &Atom[T]{Key: key, Producer: &valueProducer[T]{v: v}}
}

// stateProducer backs NewResettable: its Value hook only ever supplies
// the initial value, and all subsequent changes arrive through
// Set/Modify. It keeps the default ShouldUpdate (always true) because
// NewResettable must accept any T, including non-comparable ones.
type stateProducer[T any] struct {
	BaseProducer[T]
	initial T
}

func (p *stateProducer[T]) Value(*ProducerCtx) (T, error) { return p.initial, nil }

// comparableStateProducer backs NewState: identical to stateProducer,
// except ShouldUpdate rejects a Set/Modify that writes back the same
// value by ==, so a no-op write never runs the update cascade.
type comparableStateProducer[T comparable] struct {
	BaseProducer[T]
	initial T
}

func (p *comparableStateProducer[T]) Value(*ProducerCtx) (T, error) { return p.initial, nil }

func (p *comparableStateProducer[T]) ShouldUpdate(newV, oldV T) bool { return newV != oldV }

// NewState returns a mutable atom seeded with initial, the target of
// Set/Modify. Setting it to its current value is a no-op: ShouldUpdate
// compares by ==, so no subscriber, child, or observer is notified.
func NewState[T comparable](key any, initial T) *Atom[T] {
	return &Atom[T]{Key: key, Producer: &comparableStateProducer[T]{initial: initial}}
}

// derivedProducer1 backs NewDerived1: a one-dependency pure
// computation, expressed as a Producer since every flavor here must
// implement the same interface the kernel dispatches through.
type derivedProducer1[A, T any] struct {
	BaseProducer[T]
	a   *Atom[A]
	fn  func(a A) (T, error)
}

func (p *derivedProducer1[A, T]) Value(pctx *ProducerCtx) (T, error) {
	var zero T
	a, err := Watch(pctx, p.a)
	if err != nil {
		return zero, err
	}
	return p.fn(a)
}

// NewDerived1 returns an atom computed from one upstream atom.
func NewDerived1[A, T any](key any, a *Atom[A], fn func(A) (T, error)) *Atom[T] {
	return &Atom[T]{Key: key, Producer: &derivedProducer1[A, T]{a: a, fn: fn}}
}

type derivedProducer2[A, B, T any] struct {
	BaseProducer[T]
	a  *Atom[A]
	b  *Atom[B]
	fn func(A, B) (T, error)
}

func (p *derivedProducer2[A, B, T]) Value(pctx *ProducerCtx) (T, error) {
	var zero T
	a, err := Watch(pctx, p.a)
	if err != nil {
		return zero, err
	}
	b, err := Watch(pctx, p.b)
	if err != nil {
		return zero, err
	}
	return p.fn(a, b)
}

// NewDerived2 returns an atom computed from two upstream atoms.
func NewDerived2[A, B, T any](key any, a *Atom[A], b *Atom[B], fn func(A, B) (T, error)) *Atom[T] {
	return &Atom[T]{Key: key, Producer: &derivedProducer2[A, B, T]{a: a, b: b, fn: fn}}
}

type derivedProducer3[A, B, C, T any] struct {
	BaseProducer[T]
	a  *Atom[A]
	b  *Atom[B]
	c  *Atom[C]
	fn func(A, B, C) (T, error)
}

func (p *derivedProducer3[A, B, C, T]) Value(pctx *ProducerCtx) (T, error) {
	var zero T
	a, err := Watch(pctx, p.a)
	if err != nil {
		return zero, err
	}
	b, err := Watch(pctx, p.b)
	if err != nil {
		return zero, err
	}
	c, err := Watch(pctx, p.c)
	if err != nil {
		return zero, err
	}
	return p.fn(a, b, c)
}

// NewDerived3 returns an atom computed from three upstream atoms.
func NewDerived3[A, B, C, T any](key any, a *Atom[A], b *Atom[B], c *Atom[C], fn func(A, B, C) (T, error)) *Atom[T] {
	return &Atom[T]{Key: key, Producer: &derivedProducer3[A, B, C, T]{a: a, b: b, c: c, fn: fn}}
}

type derivedProducer4[A, B, C, D, T any] struct {
	BaseProducer[T]
	a  *Atom[A]
	b  *Atom[B]
	c  *Atom[C]
	d  *Atom[D]
	fn func(A, B, C, D) (T, error)
}

func (p *derivedProducer4[A, B, C, D, T]) Value(pctx *ProducerCtx) (T, error) {
	var zero T
	a, err := Watch(pctx, p.a)
	if err != nil {
		return zero, err
	}
	b, err := Watch(pctx, p.b)
	if err != nil {
		return zero, err
	}
	c, err := Watch(pctx, p.c)
	if err != nil {
		return zero, err
	}
	d, err := Watch(pctx, p.d)
	if err != nil {
		return zero, err
	}
	return p.fn(a, b, c, d)
}

// NewDerived4 returns an atom computed from four upstream atoms.
func NewDerived4[A, B, C, D, T any](key any, a *Atom[A], b *Atom[B], c *Atom[C], d *Atom[D], fn func(A, B, C, D) (T, error)) *Atom[T] {
	return &Atom[T]{Key: key, Producer: &derivedProducer4[A, B, C, D, T]{a: a, b: b, c: c, d: d, fn: fn}}
}

// taskProducer backs NewTask: Value runs fn synchronously for the
// first resolution, and Refresh reruns it asynchronously through the
// kernel's Refresh, which races it against cancellation.
type taskProducer[T any] struct {
	BaseProducer[T]
	fn func(pctx *ProducerCtx) (T, error)
}

func (p *taskProducer[T]) Value(pctx *ProducerCtx) (T, error) { return p.fn(pctx) }
func (p *taskProducer[T]) Refresh(pctx *ProducerCtx) (T, error) { return p.fn(pctx) }

// NewTask returns an atom whose value comes from an arbitrary
// (possibly blocking) function, refreshable via the kernel's Refresh.
func NewTask[T any](key any, fn func(pctx *ProducerCtx) (T, error)) *Atom[T] {
	return &Atom[T]{Key: key, Producer: &taskProducer[T]{fn: fn}}
}

// NewResettable returns an atom whose cache behaves like a state atom
// (Set/Modify/graph-driven updates all work normally; unlike NewState,
// ShouldUpdate always approves, so writing back the same value still
// propagates), but whose Reset is the custom-reset overload: calling Reset on it runs
// onReset with the current StoreContext instead of rebuilding this
// atom's own cache, and the hook typically turns around and calls
// Set/Reset on other atoms. Because the hook runs instead of Value, it
// still fires even when this atom is currently overridden — unlike the
// generic reset path, which would re-run the override's Produce
// instead.
func NewResettable[T any](key any, initial T, onReset func(ctx *StoreContext)) *Atom[T] {
	return &Atom[T]{
		Key:      key,
		Producer: &stateProducer[T]{initial: initial},
		OnReset:  onReset,
	}
}
