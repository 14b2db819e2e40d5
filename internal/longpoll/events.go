package longpoll

import (
	"sync"
	"time"
)

type EventKind string

const (
	EventRegistered   EventKind = "registered"
	EventUnregistered EventKind = "unregistered"
	EventStarted      EventKind = "started"
	EventStopped      EventKind = "stopped"
	EventClosed       EventKind = "closed"
)

// LifecycleEvent reports a registry-level change to one session, or to the
// whole Application for EventClosed.
type LifecycleEvent struct {
	Kind  EventKind `json:"kind"`
	Bot   string    `json:"bot,omitempty"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

const subscriberBuffer = 64

// eventHub fans events out to subscribers. Slow subscribers lose events
// rather than blocking the registry.
type eventHub struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan LifecycleEvent
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan LifecycleEvent)}
}

func (h *eventHub) subscribe() (<-chan LifecycleEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan LifecycleEvent, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

func (h *eventHub) publish(ev LifecycleEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// close ends every subscription; later subscribers get a closed channel.
func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
