package atomstore

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// ScopeKey is the unique token identifying one scope instance. The zero
// value denotes "no scope" (the root store).
type ScopeKey string

// newScopeKey mints a fresh, collision-resistant scope identity.
func newScopeKey() ScopeKey {
	return ScopeKey(uuid.New().String())
}

// SubscriberKey is the unique token identifying one Subscriber.
type SubscriberKey string

func newSubscriberKey() SubscriberKey {
	return SubscriberKey(uuid.New().String())
}

// atomIdentity is an atom's identity ignoring scope: its declared type
// and key value. Overrides are indexed on this, since an override is
// installed against an atom's identity before scope resolution ever
// runs.
type atomIdentity struct {
	typeTag  reflect.Type
	keyValue any
}

// AtomKey is the sole map key used throughout the store: an atom's
// identity plus the scope it was resolved under, if any.
type AtomKey struct {
	identity atomIdentity
	scopeKey ScopeKey
}

// IsScoped reports whether this key carries a scope component.
func (k AtomKey) IsScoped() bool {
	return k.scopeKey != ""
}

// TypeTag returns the reflect.Type the atom was declared with.
func (k AtomKey) TypeTag() reflect.Type {
	return k.identity.typeTag
}

// String renders a short, stable label, used by diagnostics and the
// DOT/tree printers.
func (k AtomKey) String() string {
	if k.IsScoped() {
		return fmt.Sprintf("%s(%v)@%s", shortTypeName(k.identity.typeTag), k.identity.keyValue, k.scopeKey)
	}
	return fmt.Sprintf("%s(%v)", shortTypeName(k.identity.typeTag), k.identity.keyValue)
}

func shortTypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

func identityOf(typeTag reflect.Type, keyValue any) atomIdentity {
	return atomIdentity{typeTag: typeTag, keyValue: keyValue}
}
