package ledger

import "sync"

// Hub fans out per-user change signals to stream subscribers. Signals carry
// no payload and coalesce: a subscriber that is busy fetching a snapshot sees
// at most one pending signal, and the next fetch observes every change.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe registers interest in userID. The returned cancel func must be
// called to release the subscription.
func (h *Hub) Subscribe(userID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
		})
	}

	return ch, cancel
}

// Publish signals every subscriber of userID without blocking.
func (h *Hub) Publish(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[userID] {
		signal(ch)
	}
}

// PublishAll signals every subscriber. Used after a notification gap (listener
// reconnect) when individual changes may have been missed.
func (h *Hub) PublishAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, set := range h.subs {
		for ch := range set {
			signal(ch)
		}
	}
}

// Subscribers reports the number of active subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs[userID])
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
