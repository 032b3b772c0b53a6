package atomstore

import "testing"

func TestOverrideTableLookupPrecedence(t *testing.T) {
	counter := NewState("counter", 0)
	id := counter.identity()

	table := newOverrideTable()
	table.setType(id.typeTag, Override{Produce: func(AnyAtom) (any, error) { return 1, nil }})
	if _, ok := table.lookup(id); !ok {
		t.Fatalf("expected the unscoped type override to be found")
	}

	table.setType(id.typeTag, Override{Produce: func(AnyAtom) (any, error) { return 2, nil }, IsScoped: true})
	ov, ok := table.lookup(id)
	if !ok {
		t.Fatalf("expected a type override to be found")
	}
	v, _ := ov.Produce(counter)
	if v != 2 {
		t.Fatalf("scoped type override should win over the unscoped one, got %v", v)
	}

	table.setConcrete(id, Override{Produce: func(AnyAtom) (any, error) { return 3, nil }})
	ov, _ = table.lookup(id)
	v, _ = ov.Produce(counter)
	if v != 3 {
		t.Fatalf("unscoped concrete override should win over any type override, got %v", v)
	}

	table.setConcrete(id, Override{Produce: func(AnyAtom) (any, error) { return 4, nil }, IsScoped: true})
	ov, _ = table.lookup(id)
	v, _ = ov.Produce(counter)
	if v != 4 {
		t.Fatalf("scoped concrete override should win over everything else, got %v", v)
	}
}

func TestOverrideValueHelper(t *testing.T) {
	counter := NewState("counter", 0)
	table := newOverrideTable()
	OverrideValue(counter, 77)(table)

	ov, ok := table.lookup(counter.identity())
	if !ok {
		t.Fatalf("expected OverrideValue to install a concrete override")
	}
	if ov.IsScoped {
		t.Fatalf("OverrideValue must not be scoped")
	}
	v, err := ov.Produce(counter)
	if err != nil || v != 77 {
		t.Fatalf("want (77,nil), got (%v,%v)", v, err)
	}
}

func TestOverrideScopedValueHelper(t *testing.T) {
	counter := NewState("counter", 0)
	table := newOverrideTable()
	OverrideScopedValue(counter, 1)(table)

	ov, ok := table.lookup(counter.identity())
	if !ok || !ov.IsScoped {
		t.Fatalf("expected a scoped concrete override")
	}
}
