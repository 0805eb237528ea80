// Package eventbus provides an in-process publish/subscribe channel that
// decouples the HTTP layer from UI reactions such as logout navigation,
// toast display, and the server-down screen. Delivery is synchronous and
// in subscription order; subscribers are expected to be idempotent to
// repeated identical events.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic names a channel on the bus.
type Topic string

const (
	// TopicSessionInvalidated signals that the current session is no
	// longer valid and the user must be logged out.
	TopicSessionInvalidated Topic = "session.invalidated"

	// TopicServerDown signals a 502/503 from the backend. Carries no
	// payload beyond the event itself.
	TopicServerDown Topic = "server.down"

	// TopicToastError requests a transient error toast.
	TopicToastError Topic = "toast.error"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a single occurrence published on the bus. Fields beyond ID,
// Topic and Timestamp are populated per topic.
type Event struct {
	ID        string    `json:"id"`
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity,omitempty"`

	// Message is the user-facing text for session.invalidated and
	// toast.error events.
	Message string `json:"message,omitempty"`

	// ShouldLogout is set on session.invalidated events.
	ShouldLogout bool `json:"should_logout,omitempty"`

	// Status carries the originating HTTP status when known.
	Status int `json:"status,omitempty"`

	// URL is the originating request URL for toast.error events.
	URL string `json:"url,omitempty"`
}

// SessionInvalidated builds a session.invalidated event.
func SessionInvalidated(message string, status int, shouldLogout bool) Event {
	return Event{
		Topic:        TopicSessionInvalidated,
		Severity:     SeverityError,
		Message:      message,
		Status:       status,
		ShouldLogout: shouldLogout,
	}
}

// ServerDown builds a server.down event.
func ServerDown() Event {
	return Event{Topic: TopicServerDown, Severity: SeverityError}
}

// ToastError builds a toast.error event.
func ToastError(message, url string) Event {
	return Event{
		Topic:    TopicToastError,
		Severity: SeverityError,
		Message:  message,
		URL:      url,
	}
}

// Handler processes a published event.
type Handler func(Event)

type handlerEntry struct {
	id      int64
	topic   Topic
	all     bool
	handler Handler
}

// Bus is a synchronous multi-subscriber event bus with a bounded ring
// buffer of recent events for diagnostics.
type Bus struct {
	mu       sync.Mutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

// DefaultBufferSize is the number of recent events retained.
const DefaultBufferSize = 100

// New creates a bus retaining up to size recent events.
func New(size int) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Bus{
		events: make([]Event, size),
		size:   size,
	}
}

// Publish delivers the event to all matching subscribers synchronously, in
// subscription order, and records it in the ring buffer. Handlers run
// outside the bus lock so they may publish or subscribe reentrantly.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	b.events[b.head] = event
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}

	handlers := make([]handlerEntry, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		if h.all || h.topic == event.Topic {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for a single topic and returns an
// unsubscribe function.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	return b.subscribe(handlerEntry{topic: topic, handler: handler})
}

// SubscribeAll registers a handler for every topic.
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.subscribe(handlerEntry{all: true, handler: handler})
}

func (b *Bus) subscribe(entry handlerEntry) func() {
	b.mu.Lock()
	entry.id = b.nextID
	b.nextID++
	b.handlers = append(b.handlers, entry)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == entry.id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n recent events, newest first.
func (b *Bus) Recent(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (b.head - 1 - i + b.size) % b.size
		result[i] = b.events[idx]
	}
	return result
}

// Count returns the number of retained events.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Clear discards all retained events. Subscriptions are unaffected.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make([]Event, b.size)
	b.head = 0
	b.count = 0
}
