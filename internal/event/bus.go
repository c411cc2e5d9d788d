package event

import (
	"sync"
	"time"
)

// Kind identifies a notification.
type Kind string

const (
	// HiddenServiceReady carries the published onion address.
	HiddenServiceReady Kind = "hidden_service_ready"
	// HiddenServiceFailed carries the error message of a failed startup.
	HiddenServiceFailed Kind = "hidden_service_failed"
	// UpstreamReady signals that the upstream web service passed readiness polling.
	UpstreamReady Kind = "upstream_ready"
	// UpstreamFailed carries the readiness error.
	UpstreamFailed Kind = "upstream_failed"
)

// subscriberBuffer is the channel capacity of each subscription.
const subscriberBuffer = 8

// Event is one notification.
type Event struct {
	Kind Kind
	// Payload is the onion address for ready events and the error message
	// for failure events.
	Payload string
	Time    time.Time
}

// Bus fans events out to subscribers. The zero value is ready to use.
type Bus struct {
	mu          sync.Mutex
	subscribers []chan Event
	delivered   map[Kind]bool
	closed      bool
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving events published from now on.
// The channel is closed by Close.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers an event of kind to every subscriber without blocking.
// It reports false when an event of the same kind was already published or
// the bus is closed. Subscribers with a full buffer miss the event.
func (b *Bus) Publish(kind Kind, payload string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.delivered[kind] {
		return false
	}
	if b.delivered == nil {
		b.delivered = make(map[Kind]bool)
	}
	b.delivered[kind] = true

	ev := Event{Kind: kind, Payload: payload, Time: time.Now()}
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	return true
}

// Close closes every subscription. Further publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
