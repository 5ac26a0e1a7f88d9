package eventbus

import "sync"

// Handler processes one event. Handlers for a given subscription are
// serialised: a handler completes before the next event on the same
// subscription begins, per the ordering guarantee in spec.md §5.
type Handler func(Event)

// Bus is a single-producer-per-kind, multi-consumer queue. Publish blocks
// until the event has been delivered to every subscriber of its Kind so
// per-driver emission order is preserved.
type Bus struct {
	mu   sync.Mutex
	subs map[Kind][]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Kind][]Handler)}
}

// Subscribe registers handler to run, in registration order, for every
// event of kind.
func (b *Bus) Subscribe(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], handler)
}

// Publish delivers ev to every subscriber of ev.Kind, in order, on the
// calling goroutine. Drivers call this from their own poll loop goroutine,
// so publish order across two different drivers is not guaranteed — only
// per-driver emission order is.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.subs[ev.Kind]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
