// Package bus implements the in-process event bus: a single sequence
// allocator plus bounded per-subscriber queues with drop-oldest overflow.
package bus

import (
	"log/slog"
	"sync"

	"github.com/zankora/agw/internal/domain"
)

// DefaultQueueSize is the per-subscriber buffer. A subscriber further than
// this many events behind starts losing its oldest buffered events.
const DefaultQueueSize = 1000

// Subscription is one subscriber's bounded queue. Events arrives in seq
// order; reading too slowly drops the oldest buffered events, never blocks
// the publisher.
type Subscription struct {
	ch   chan domain.Event
	done chan struct{}
	once sync.Once
}

// Events returns the receive channel. It is never closed; select against
// Done to detect cancellation.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// Done is closed when the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// Bus fans events out to subscribers and mints the process-wide sequence.
type Bus struct {
	mu        sync.Mutex
	seq       int64
	subs      map[*Subscription]struct{}
	queueSize int
	dropped   int64
}

// New returns a Bus with the given per-subscriber queue size; size <= 0
// uses DefaultQueueSize.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
	}
}

// NextSeq allocates the next sequence number. Callers stamp the event with
// it before persisting and publishing, so the audit log and the bus agree
// on order.
func (b *Bus) NextSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	return b.seq
}

// Seed advances the sequence allocator to at least seq. Called once on
// startup with the highest persisted sequence so new events continue the
// audit order across restarts.
func (b *Bus) Seed(seq int64) {
	b.mu.Lock()
	if seq > b.seq {
		b.seq = seq
	}
	b.mu.Unlock()
}

// Subscribe registers a new subscriber. The caller must Unsubscribe when
// done or the queue leaks.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		ch:   make(chan domain.Event, b.queueSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and cancels its Done channel.
// Idempotent.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.close()
}

// Publish delivers ev to every live subscriber without blocking. A full
// queue drops its oldest event to make room, so each subscriber sees a
// contiguous-or-gapped but always in-order view.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			select {
			case old := <-sub.ch:
				b.dropped++
				slog.Debug("bus subscriber lagging, dropped event",
					"dropped_seq", old.Seq, "dropped_type", old.Type)
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// Dropped reports the total events dropped across all subscribers.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
