package atomstore

import "context"

// Transaction is created per evaluation of a single atom. It tracks the
// dependency edges recorded by this run, and can be terminated — by a
// new transaction superseding it, or by the key's cache being released
// — which cancels any in-flight async refresh tied to it and discards
// its late result. A context.CancelFunc is paired with a result channel
// so the kernel's single logical thread can race producer work against
// cancellation without ever blocking indefinitely.
type Transaction struct {
	key           AtomKey
	terminated    bool
	onTermination []func()
	ctx           context.Context
	cancel        context.CancelFunc
	newDeps       map[AtomKey]struct{}
}

func newTransaction(parent context.Context, key AtomKey) *Transaction {
	ctx, cancel := context.WithCancel(parent)
	return &Transaction{
		key:     key,
		ctx:     ctx,
		cancel:  cancel,
		newDeps: make(map[AtomKey]struct{}),
	}
}

// IsTerminated reports whether this transaction has already been
// superseded or cancelled. A producer must stop writing its result
// once this is true.
func (t *Transaction) IsTerminated() bool {
	return t.terminated
}

// Context is cancelled the instant this transaction terminates.
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// OnTermination registers a cleanup callback run exactly once, when
// this transaction terminates.
func (t *Transaction) OnTermination(fn func()) {
	if t.terminated {
		fn()
		return
	}
	t.onTermination = append(t.onTermination, fn)
}

// terminate flips the terminated flag, cancels the transaction's
// context (unblocking any select on t.Context().Done() inside a
// producer's Refresh), and runs termination callbacks in registration
// order. Safe to call more than once; only the first call has effect.
func (t *Transaction) terminate() {
	if t.terminated {
		return
	}
	t.terminated = true
	t.cancel()
	callbacks := t.onTermination
	t.onTermination = nil
	for _, cb := range callbacks {
		cb()
	}
}

func (t *Transaction) recordDependency(k AtomKey) {
	t.newDeps[k] = struct{}{}
}
