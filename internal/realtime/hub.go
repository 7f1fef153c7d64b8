// Package realtime fans verification updates out to every observer watching
// an event. Delivery is best-effort and nothing is replayed: an observer that
// connects after a publish never sees it.
package realtime

import (
	"context"
	"errors"
	"sync"

	"verifmatos/internal/logger"
)

// ErrBacklog is returned by Publish when the dispatch queue is full.
var ErrBacklog = errors.New("realtime: dispatch queue full")

const queueSize = 256

// Publisher sends a payload to every observer of an event.
type Publisher interface {
	Publish(ctx context.Context, eventID int, payload []byte) error
}

// Relay forwards payloads to other instances. Every instance, the sender
// included, receives them back and dispatches them locally.
type Relay interface {
	Publish(ctx context.Context, eventID int, payload []byte) error
}

// Message is one payload addressed to the observers of an event.
type Message struct {
	EventID int
	Data    []byte
}

// Hub maintains the observers of each event and dispatches messages to them
// from a single goroutine.
type Hub struct {
	mu     sync.RWMutex
	events map[int]map[*Client]struct{}

	queue chan Message
	relay Relay
	log   *logger.Logger
}

// NewHub creates a hub. Run must be started for messages to be delivered.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Hub{
		events: make(map[int]map[*Client]struct{}),
		queue:  make(chan Message, queueSize),
		log:    log,
	}
}

// SetRelay routes publishes through r instead of the local queue.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Run dispatches queued messages until ctx is cancelled, then disconnects
// every observer.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Realtime hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info("Realtime hub stopped")
			return
		case msg := <-h.queue:
			h.deliver(msg)
		}
	}
}

// Subscribe registers c for its event. Registering the same client twice
// has no effect.
func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.events[c.eventID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.events[c.eventID] = clients
	}
	if _, dup := clients[c]; dup {
		return
	}
	clients[c] = struct{}{}
	h.log.Debug("Observer subscribed", "event_id", c.eventID, "client", c.ID, "observers", len(clients))
}

// Unsubscribe removes c and closes its send queue. Unknown or already
// removed clients are ignored.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	clients, ok := h.events[c.eventID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.events, c.eventID)
	}
	c.closeSend()
	h.log.Debug("Observer unsubscribed", "event_id", c.eventID, "client", c.ID, "observers", len(clients))
}

// Publish queues payload for the observers of eventID without waiting for
// delivery. With a relay configured the payload goes through it first.
func (h *Hub) Publish(ctx context.Context, eventID int, payload []byte) error {
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()

	if relay != nil {
		err := relay.Publish(ctx, eventID, payload)
		if err == nil {
			return nil
		}
		h.log.Warn("Relay publish failed, delivering locally", "event_id", eventID, "error", err)
	}
	return h.enqueue(ctx, Message{EventID: eventID, Data: payload})
}

func (h *Hub) enqueue(ctx context.Context, msg Message) error {
	select {
	case h.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBacklog
	}
}

// deliver fans msg out without blocking. Observers whose queue is full are
// dropped.
func (h *Hub) deliver(msg Message) {
	var slow []*Client

	h.mu.RLock()
	for c := range h.events[msg.EventID] {
		select {
		case c.send <- msg.Data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		h.log.Warn("Observer send queue full, disconnecting", "event_id", msg.EventID, "client", c.ID)
		h.removeLocked(c)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.events {
		for c := range clients {
			h.removeLocked(c)
		}
	}
}

// Count returns the number of observers of an event.
func (h *Hub) Count(eventID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.events[eventID])
}

// Total returns the number of connected observers across all events.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.events {
		count += len(clients)
	}
	return count
}
