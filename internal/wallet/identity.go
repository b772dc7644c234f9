package wallet

import "sync"

// IdentityTracker is an in-process Identity fed by whoever owns sign-in.
type IdentityTracker struct {
	mu        sync.Mutex
	notifyMu  sync.Mutex
	userID    string
	nextID    int
	listeners map[int]func(string)
}

func NewIdentityTracker(userID string) *IdentityTracker {
	return &IdentityTracker{userID: userID, listeners: make(map[int]func(string))}
}

func (t *IdentityTracker) UserID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.userID, t.userID != ""
}

func (t *IdentityTracker) SignIn(userID string) { t.set(userID) }

func (t *IdentityTracker) SignOut() { t.set("") }

func (t *IdentityTracker) OnChange(fn func(userID string)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// set notifies listeners, in registration order, only when the user changes.
func (t *IdentityTracker) set(userID string) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if t.userID == userID {
		t.mu.Unlock()
		return
	}
	t.userID = userID
	fns := orderedListeners(t.listeners, t.nextID)
	t.mu.Unlock()

	for _, fn := range fns {
		fn(userID)
	}
}

func orderedListeners[T any](m map[int]T, upTo int) []T {
	out := make([]T, 0, len(m))
	for i := 0; i < upTo; i++ {
		if fn, ok := m[i]; ok {
			out = append(out, fn)
		}
	}

	return out
}
