// Package events implements the orchestration engine's single
// multi-producer, multi-subscriber broadcast of structured state-change
// events. Publication never blocks a dispatcher: each subscriber owns a
// bounded buffer and slow subscribers have their oldest events dropped
// rather than stalling the publisher.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/metrics"
)

// Kind enumerates the structured event taxonomy.
type Kind string

const (
	KindInstanceSpawned    Kind = "instance-spawned"
	KindInstanceTerminated Kind = "instance-terminated"
	KindTaskSubmitted      Kind = "task-submitted"
	KindTaskReady          Kind = "task-ready"
	KindTaskStarted        Kind = "task-started"
	KindTaskCompleted      Kind = "task-completed"
	KindTaskCancelled      Kind = "task-cancelled"
	KindWorkflowCompleted  Kind = "workflow-completed"

	// kindEventsDropped is not part of the public taxonomy; it is
	// synthesized per-subscriber when that subscriber's buffer overflows.
	kindEventsDropped Kind = "events-dropped"
)

// Event is a single published occurrence.
type Event struct {
	Kind      Kind                   `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// DefaultBufferSize is the default per-subscriber delivery buffer depth.
const DefaultBufferSize = 256

// subscriber owns one bounded delivery channel.
type subscriber struct {
	id      string
	ch      chan Event
	dropped int
}

// Bus fans published events out to every live subscriber.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	bufferSize  int
}

// New constructs an empty Bus. bufferSize <= 0 uses DefaultBufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscriber and returns its ID and receive channel.
// The caller must eventually call Unsubscribe with the returned ID.
func (b *Bus) Subscribe() (string, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	sub := &subscriber{id: id, ch: make(chan Event, b.bufferSize)}
	b.subscribers[id] = sub
	metrics.SetWSSubscribers(float64(len(b.subscribers)))
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
	metrics.SetWSSubscribers(float64(len(b.subscribers)))
}

// Publish broadcasts an event to every subscriber, never blocking. A
// subscriber whose buffer is full has its oldest buffered event dropped to
// make room, matching the drop-oldest overflow policy. A synthetic
// events-dropped notice is then sent only if a slot is still free after the
// new event is queued; when the buffer is full again, no notice is sent for
// that overflow.
func (b *Bus) Publish(kind Kind, data map[string]interface{}) {
	evt := Event{Kind: kind, Timestamp: time.Now().UTC(), Data: data}

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		deliver(s, evt)
	}
}

// deliver sends evt to a single subscriber, draining one stale event and
// retrying if the buffer is full, then sending a dropped-events notice if a
// slot is free.
func deliver(s *subscriber, evt Event) {
	select {
	case s.ch <- evt:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped++
	default:
	}

	select {
	case s.ch <- evt:
	default:
		logger.WithComponent("events").Warn().
			Str("subscriber_id", s.id).
			Msg("subscriber buffer still full after drain, dropping event")
		return
	}

	notice := Event{
		Kind:      kindEventsDropped,
		Timestamp: time.Now().UTC(),
		Data:      map[string]interface{}{"count": s.dropped},
	}
	select {
	case s.ch <- notice:
	default:
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
