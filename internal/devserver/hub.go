package devserver

import (
	"sync"

	"github.com/google/uuid"
)

// Message is one event queued for a subscriber.
type Message struct {
	Event string
	Data  any
}

const subscriberBuffer = 32

// Hub fans events out to every stream a user has open.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[string]chan Message
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[string]chan Message)}
}

// Subscribe registers a stream for user. The returned func unregisters it
// and closes the channel.
func (h *Hub) Subscribe(user string) (string, <-chan Message, func()) {
	id := uuid.NewString()
	ch := make(chan Message, subscriberBuffer)

	h.mu.Lock()
	if h.subs[user] == nil {
		h.subs[user] = make(map[string]chan Message)
	}
	h.subs[user][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[user], id)
			if len(h.subs[user]) == 0 {
				delete(h.subs, user)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish queues msg for every stream of user. A full subscriber misses it.
func (h *Hub) Publish(user string, msg Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for _, ch := range h.subs[user] {
		select {
		case ch <- msg:
			sent++
		default:
		}
	}
	return sent
}

// Count returns the number of open streams across users.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}
