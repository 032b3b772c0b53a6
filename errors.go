package atomstore

import (
	"errors"
	"fmt"
	"log/slog"
)

// errRefreshUnsupported is returned by BaseProducer.Refresh for
// flavors that never support asynchronous recomputation.
var errRefreshUnsupported = errors.New("atomstore: this atom does not support refresh")

// ResolveError wraps a producer failure with the key that was being
// resolved.
type ResolveError struct {
	Key   AtomKey
	Cause error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("atomstore: resolving %s: %v", e.Key, e.Cause)
}

func (e *ResolveError) Unwrap() error { return e.Cause }

// A type-recovery cast failure is not returned to the caller: it is
// logged as a diagnostic and the entry is treated as "absent," so the
// next access recreates it. An override whose value has the wrong type
// is not logged here; Atom.produceOverridden reports it as an error, so
// that resolution fails with a ResolveError. logger defaults to
// slog.Default(), routing kernel diagnostics through log/slog rather
// than a bespoke logging type.

func (s *StoreContext) logCollision(k AtomKey) {
	s.logger().Warn("atomstore: key collision across atom types, dropping entry",
		"key", k.String(),
		"type", k.TypeTag().String(),
	)
}

func (s *StoreContext) logger() *slog.Logger {
	if s.k.logger != nil {
		return s.k.logger
	}
	return slog.Default()
}
