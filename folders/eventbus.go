package folders

import (
	"sync"
	"time"
)

// Event types published on the bus.
const (
	EventPreloadLevel = "preload.level"
	EventPreloadDone  = "preload.done"
	EventCacheCleared = "cache.cleared"
)

// Event is a cache administration update broadcast to SSE clients.
type Event struct {
	Type          string    `json:"type"`
	Time          time.Time `json:"time"`
	Level         int       `json:"level,omitempty"`
	ParentsListed int       `json:"parentsListed,omitempty"`
	FoldersLoaded int       `json:"foldersLoaded,omitempty"`
	Failures      int       `json:"failures,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// EventBus broadcasts Events to all subscribers. A nil *EventBus drops
// every event.
type EventBus struct {
	mu      sync.RWMutex
	clients map[chan Event]struct{}
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		clients: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a new client and returns its event channel.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish sends an event to all connected clients.
// Slow clients are skipped (non-blocking send).
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = nowFunc()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			// slow client, drop event
		}
	}
}
