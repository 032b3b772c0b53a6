package atomstore

import "reflect"

// Override is a substitute producer installed at scope-registration
// time. IsScoped overrides force the atom to be re-keyed into the
// scope that installed them, even if the atom itself declares no
// ScopeID.
type Override struct {
	Produce  func(atom AnyAtom) (any, error)
	IsScoped bool
}

// OverrideTable indexes overrides twice — by concrete atom identity
// and by atom type — each split further into a scoped and an unscoped
// half, so a caller can replace one specific atom or every atom of a
// given type, at either scope.
type OverrideTable struct {
	concreteScoped   map[atomIdentity]Override
	concreteUnscoped map[atomIdentity]Override
	typeScoped       map[reflect.Type]Override
	typeUnscoped     map[reflect.Type]Override
}

func newOverrideTable() *OverrideTable {
	return &OverrideTable{
		concreteScoped:   make(map[atomIdentity]Override),
		concreteUnscoped: make(map[atomIdentity]Override),
		typeScoped:       make(map[reflect.Type]Override),
		typeUnscoped:     make(map[reflect.Type]Override),
	}
}

func (o *OverrideTable) setConcrete(id atomIdentity, ov Override) {
	if ov.IsScoped {
		o.concreteScoped[id] = ov
	} else {
		o.concreteUnscoped[id] = ov
	}
}

func (o *OverrideTable) setType(t reflect.Type, ov Override) {
	if ov.IsScoped {
		o.typeScoped[t] = ov
	} else {
		o.typeUnscoped[t] = ov
	}
}

// lookup applies override precedence: concrete-key overrides beat
// type-key overrides; within each, scoped beats unscoped.
func (o *OverrideTable) lookup(id atomIdentity) (Override, bool) {
	if ov, ok := o.concreteScoped[id]; ok {
		return ov, true
	}
	if ov, ok := o.concreteUnscoped[id]; ok {
		return ov, true
	}
	if ov, ok := o.typeScoped[id.typeTag]; ok {
		return ov, true
	}
	if ov, ok := o.typeUnscoped[id.typeTag]; ok {
		return ov, true
	}
	return Override{}, false
}

// OverrideOption configures an OverrideTable when building a scope or
// the root store.
type OverrideOption func(*OverrideTable)

// OverrideValue installs a constant-value override for one atom.
func OverrideValue[T any](atom *Atom[T], value T) OverrideOption {
	return func(t *OverrideTable) {
		t.setConcrete(atom.identity(), Override{
			Produce: func(AnyAtom) (any, error) { return value, nil },
		})
	}
}

// OverrideScopedValue installs a scoped override: the atom is re-keyed
// into the installing scope even without its own ScopeID.
func OverrideScopedValue[T any](atom *Atom[T], value T) OverrideOption {
	return func(t *OverrideTable) {
		t.setConcrete(atom.identity(), Override{
			Produce:  func(AnyAtom) (any, error) { return value, nil },
			IsScoped: true,
		})
	}
}

// OverrideProducer installs a substitute producer for one atom.
func OverrideProducer[T any](atom *Atom[T], produce func(AnyAtom) (T, error)) OverrideOption {
	return func(t *OverrideTable) {
		t.setConcrete(atom.identity(), Override{
			Produce: func(a AnyAtom) (any, error) { return produce(a) },
		})
	}
}

// OverrideType installs an override for every atom of type T, keyed by
// T's reflect.Type rather than any one atom's identity.
func OverrideType[T any](produce func(AnyAtom) (T, error)) OverrideOption {
	return func(t *OverrideTable) {
		t.setType(reflect.TypeOf((*T)(nil)).Elem(), Override{
			Produce: func(a AnyAtom) (any, error) { return produce(a) },
		})
	}
}

// OverrideScopedType is OverrideType's scoped counterpart.
func OverrideScopedType[T any](produce func(AnyAtom) (T, error)) OverrideOption {
	return func(t *OverrideTable) {
		t.setType(reflect.TypeOf((*T)(nil)).Elem(), Override{
			Produce:  func(a AnyAtom) (any, error) { return produce(a) },
			IsScoped: true,
		})
	}
}
