package atomstore

import (
	"context"
	"testing"
)

func TestTransactionTerminateIsIdempotent(t *testing.T) {
	txn := newTransaction(context.Background(), keyFor("a"))
	calls := 0
	txn.OnTermination(func() { calls++ })

	txn.terminate()
	txn.terminate()

	if calls != 1 {
		t.Fatalf("termination callbacks must run exactly once, ran %d times", calls)
	}
	if !txn.IsTerminated() {
		t.Fatalf("IsTerminated should report true after terminate")
	}
	select {
	case <-txn.Context().Done():
	default:
		t.Fatalf("terminate must cancel the transaction's context")
	}
}

func TestTransactionOnTerminationAfterTheFactRunsImmediately(t *testing.T) {
	txn := newTransaction(context.Background(), keyFor("a"))
	txn.terminate()

	ran := false
	txn.OnTermination(func() { ran = true })
	if !ran {
		t.Fatalf("registering a callback on an already-terminated transaction should run it immediately")
	}
}

func TestTransactionRecordDependency(t *testing.T) {
	txn := newTransaction(context.Background(), keyFor("a"))
	b := keyFor("b")
	txn.recordDependency(b)
	if _, ok := txn.newDeps[b]; !ok {
		t.Fatalf("recordDependency should add to newDeps")
	}
}
