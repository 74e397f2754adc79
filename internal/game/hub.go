package game

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	SUBSCRIBER_QUEUE_SIZE = 64
	ENQUEUE_TIMEOUT       = 250 * time.Millisecond
)

// Subscriber is one client's ephemeral delivery channel. Events arrives
// on Events until the hub drops the subscriber, at which point the
// channel is closed.
type Subscriber struct {
	ID     string
	UserID string
	Events chan Event

	// mu serializes every send and the close. closed is only written with
	// mu held, so no sender can race the close.
	mu     sync.Mutex
	closed bool
}

// send enqueues one event: non-blocking first, then waiting at most
// timeout. On timeout the subscriber is stalled; the sender holds mu
// exclusively at that point, so it closes the channel itself and reports
// false. Sends to an already closed subscriber are dropped.
func (s *Subscriber) send(ev Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	select {
	case s.Events <- ev:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.Events <- ev:
		return true
	case <-timer.C:
		s.closed = true
		close(s.Events)
		return false
	}
}

func (s *Subscriber) closeEvents() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.Events)
	}
	s.mu.Unlock()
}

// Hub fans every broadcast out to all subscribers. A slow subscriber only
// ever costs the broadcast one bounded enqueue timeout, after which it is
// dropped; it never blocks delivery to anyone else or round progression.
type Hub struct {
	mu             sync.RWMutex
	subs           map[string]*Subscriber
	enqueueTimeout time.Duration
	onFirst        func() // invoked when the subscriber set goes 0 -> 1
}

func NewHub() *Hub {
	return &Hub{
		subs:           make(map[string]*Subscriber),
		enqueueTimeout: ENQUEUE_TIMEOUT,
	}
}

// OnFirstSubscriber registers the resume hook the manager uses to start a
// round lazily. Must be set before the server starts accepting clients.
func (h *Hub) OnFirstSubscriber(fn func()) {
	h.mu.Lock()
	h.onFirst = fn
	h.mu.Unlock()
}

func (h *Hub) Subscribe(userID string) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		UserID: userID,
		Events: make(chan Event, SUBSCRIBER_QUEUE_SIZE),
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	first := len(h.subs) == 1
	hook := h.onFirst
	h.mu.Unlock()

	log.Printf("[HUB] Subscriber connected: %s (total: %d)", userID, h.Count())

	if first && hook != nil {
		hook()
	}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub.ID)
	h.mu.Unlock()

	sub.closeEvents()
	log.Printf("[HUB] Subscriber disconnected: %s (total: %d)", sub.UserID, h.Count())
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast enqueues the event to every subscriber. Each enqueue first
// tries a non-blocking send, then waits at most the enqueue timeout; on
// timeout the subscriber's queue is considered stalled and it is dropped.
// Broadcasts run concurrently; per-subscriber serialization lives in
// Subscriber.send.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if !sub.send(ev, h.enqueueTimeout) {
			log.Printf("[HUB] Dropping stalled subscriber: %s", sub.UserID)
			h.Unsubscribe(sub)
		}
	}
}
