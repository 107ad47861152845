package session

import (
	"sync"
	"sync/atomic"

	"github.com/agusx1211/grotto/internal/debug"
	"github.com/agusx1211/grotto/internal/eventq"
	"github.com/agusx1211/grotto/internal/metrics"
)

// SubscriberBuffer is how many undelivered messages a subscriber may hold
// before the oldest are dropped.
const SubscriberBuffer = 256

// broadcaster fans encoded messages out to subscribers. Publish never
// blocks: a full subscriber loses its oldest message instead.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscription is one subscriber's view of a session's notifications.
type Subscription struct {
	// C delivers encoded wire messages in publish order. It is closed when
	// the subscription or its session is closed.
	C <-chan []byte

	ch     chan []byte
	b      *broadcaster
	lagged atomic.Uint64
	once   sync.Once
}

// Lagged returns how many messages were dropped for this subscriber.
func (s *Subscription) Lagged() uint64 {
	return s.lagged.Load()
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.remove(s)
}

func (b *broadcaster) subscribe() *Subscription {
	ch := make(chan []byte, SubscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, b: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}
	b.subs[sub] = struct{}{}
	metrics.AddSubscriber()
	return sub
}

func (b *broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	metrics.RemoveSubscriber()
	sub.once.Do(func() { close(sub.ch) })
}

// publish delivers msg to every subscriber and returns how many there were.
func (b *broadcaster) publish(msg []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	for sub := range b.subs {
		if n := eventq.OfferDropOldest(sub.ch, msg); n > 0 {
			total := sub.lagged.Add(uint64(n))
			metrics.RecordDropped(n)
			debug.LogKV("session", "subscriber lagged", "dropped", n, "total", total)
		}
	}
	return len(b.subs)
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// close ends every subscription. Later subscribers get a closed channel.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		metrics.RemoveSubscriber()
		sub.once.Do(func() { close(sub.ch) })
	}
}
