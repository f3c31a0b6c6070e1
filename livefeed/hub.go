// Package livefeed fans simulation updates out to connected viewers over
// server-sent events and websockets.
package livefeed

import (
	"sync"

	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the per-subscriber queue length. A subscriber that falls
// further behind loses messages.
const DefaultBuffer = 32

// Message is one broadcast event as delivered to a subscriber.
type Message struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Subscription receives every message broadcast after it was created.
type Subscription struct {
	C  <-chan Message
	id uint64
	ch chan Message
}

// Hub is the in-process broadcaster.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	last   *Message
	closed bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Broadcast queues payload for every subscriber without blocking.
func (h *Hub) Broadcast(event string, payload any) {
	msg := Message{
		ID:    ksuid.New().String(),
		Event: event,
		Data:  payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last = &msg

	for id, sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			logrus.Warnf("[LiveFeed] Subscriber %d is behind, dropped %s %s", id, msg.Event, msg.ID)
		}
	}
}

// Subscribe registers a new subscriber. The most recent message, if any, is
// queued first so late joiners see the current state.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ch := make(chan Message, h.buffer)
	sub := &Subscription{C: ch, id: h.nextID, ch: ch}
	if h.closed {
		close(ch)
		return sub
	}
	if h.last != nil {
		ch <- *h.last
	}
	h.subs[sub.id] = sub

	logrus.Debugf("[LiveFeed] Subscriber %d connected (%d total)", sub.id, len(h.subs))
	return sub
}

// Unsubscribe removes sub and closes its channel. Repeated calls are no-ops.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
	logrus.Debugf("[LiveFeed] Subscriber %d disconnected (%d total)", sub.id, len(h.subs))
}

// Len is the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber; later broadcasts are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
