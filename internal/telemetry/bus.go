package telemetry

import (
	"sync"
	"sync/atomic"
)

const DefaultBuffer = 256

// Bus fans events out to any number of subscribers. A subscriber whose buffer
// is full misses the event; the publisher never waits.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription is a single consumer of a Bus. Events arrive on C until Close
// is called.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	session string
	bus     *Bus
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a consumer. An empty sessionID receives events of all
// sessions. buffer <= 0 uses DefaultBuffer.
func (b *Bus) Subscribe(sessionID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, session: sessionID, bus: b}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.session != "" && s.session != e.SessionID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}
