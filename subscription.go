package atomstore

// Subscription is the back-channel a consumer installs on an atom: a
// plain update callback, invoked with no arguments whenever the
// watched atom's cached value changes.
type Subscription struct {
	Update func()
}

// Subscriber owns the set of atom keys it is currently subscribed to.
// Dispose unsubscribes from all of them in one call.
type Subscriber struct {
	key   SubscriberKey
	store *StoreContext
	keys  map[AtomKey]struct{}
}

// NewSubscriber creates a Subscriber bound to one StoreContext.
func NewSubscriber(store *StoreContext) *Subscriber {
	return &Subscriber{
		key:   newSubscriberKey(),
		store: store,
		keys:  make(map[AtomKey]struct{}),
	}
}

func (s *Subscriber) trackKey(k AtomKey) {
	s.keys[k] = struct{}{}
}

func (s *Subscriber) untrackKey(k AtomKey) {
	delete(s.keys, k)
}

// Dispose removes this subscriber from every atom it is subscribed to,
// releasing any cache that becomes unreachable as a result.
func (s *Subscriber) Dispose() {
	keys := make([]AtomKey, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	for _, k := range keys {
		s.store.unwatchKey(k, s)
	}
}
