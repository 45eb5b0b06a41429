package core

// broadcaster.go fans job events out to push subscribers.
//
// Delivery is best-effort: a subscriber whose buffer is full misses progress
// events. Every event carries the full counters, so a later event or a poll
// recovers anything missed. Terminal events are delivered even to a full
// subscriber by dropping its oldest buffered event, after which the job's
// subscriber channels are closed.

import (
	"sync"

	"github.com/JonMunkholm/stockimport/internal/job"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 16

// Broadcaster publishes job events to per-job subscribers.
type Broadcaster struct {
	buffer int

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
	last map[string]job.Event
}

type subscription struct {
	ch     chan job.Event
	closed bool
}

// NewBroadcaster creates a broadcaster with the given subscriber buffer size.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		buffer: buffer,
		subs:   make(map[string]map[*subscription]struct{}),
		last:   make(map[string]job.Event),
	}
}

// Subscribe returns a channel of events for jobID and a function that ends
// the subscription. The latest published event for the job, if any, is
// replayed first. If that event is terminal the channel is closed right
// after it.
func (b *Broadcaster) Subscribe(jobID string) (<-chan job.Event, func()) {
	sub := &subscription{ch: make(chan job.Event, b.buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if ev, ok := b.last[jobID]; ok {
		sub.ch <- ev
		if ev.Type.Terminal() {
			sub.closed = true
			close(sub.ch)
			return sub.ch, func() {}
		}
	}

	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[*subscription]struct{})
	}
	b.subs[jobID][sub] = struct{}{}

	return sub.ch, func() { b.unsubscribe(jobID, sub) }
}

// Publish sends ev to every subscriber of jobID.
func (b *Broadcaster) Publish(jobID string, ev job.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last[jobID] = ev

	for sub := range b.subs[jobID] {
		if ev.Type.Terminal() {
			deliverTerminal(sub, ev)
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}

	if ev.Type.Terminal() {
		delete(b.subs, jobID)
	}
}

// PublishJob publishes the event describing j's snapshot. It matches the
// JobRegistry change hook signature.
func (b *Broadcaster) PublishJob(j job.ImportJob) {
	b.Publish(j.ID, job.EventFor(j))
}

// Forget drops the retained last event for jobID. Called when the registry
// collects the job.
func (b *Broadcaster) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.last, jobID)
}

// SubscriberCount returns the number of open subscriptions for jobID.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

func (b *Broadcaster) unsubscribe(jobID string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[jobID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, jobID)
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// deliverTerminal sends ev, evicting the oldest buffered event if needed,
// then closes the channel.
func deliverTerminal(sub *subscription, ev job.Event) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- ev:
	default:
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
	sub.closed = true
	close(sub.ch)
}
