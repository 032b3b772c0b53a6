package atomstore

import "testing"

func TestAtomKeyString(t *testing.T) {
	counter := NewState("counter", 0)
	id := counter.identity()
	unscoped := AtomKey{identity: id}
	if got := unscoped.String(); got == "" {
		t.Fatalf("String() returned empty for unscoped key")
	}
	if unscoped.IsScoped() {
		t.Fatalf("zero-value ScopeKey should not be scoped")
	}

	scoped := AtomKey{identity: id, scopeKey: newScopeKey()}
	if !scoped.IsScoped() {
		t.Fatalf("non-zero ScopeKey should be scoped")
	}
	if scoped.String() == unscoped.String() {
		t.Fatalf("scoped and unscoped keys should render differently")
	}
}

func TestAtomIdentityDistinguishesTypes(t *testing.T) {
	intAtom := NewState("shared", 0)
	strAtom := NewState("shared", "")

	if intAtom.identity() == strAtom.identity() {
		t.Fatalf("atoms with the same Key but different T must have distinct identities")
	}
}

func TestAtomDefaultsKeyToSelf(t *testing.T) {
	a := &Atom[int]{Producer: &valueProducer[int]{v: 1}}
	b := &Atom[int]{Producer: &valueProducer[int]{v: 1}}
	if a.identity() == b.identity() {
		t.Fatalf("two distinct atoms with no Key must not share an identity")
	}
	if a.identity() != a.identity() {
		t.Fatalf("the same atom must be stable across calls")
	}
}
