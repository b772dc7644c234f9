// Package connectivity tracks whether the remote ledger is reachable.
package connectivity

import "sync"

// Monitor holds the process-wide online flag. Listeners are called once per
// actual transition, in registration order, on the goroutine calling Set.
// A listener must not call Set.
type Monitor struct {
	mu        sync.Mutex
	notifyMu  sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func(bool)
}

func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online, listeners: make(map[int]func(bool))}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.online
}

// Set records the observed state and reports whether it was a transition.
func (m *Monitor) Set(online bool) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}

	m.online = online

	fns := make([]func(bool), 0, len(m.listeners))
	for i := 0; i < m.nextID; i++ {
		if fn, ok := m.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}

	return true
}

// OnChange registers fn and returns a func that removes it.
func (m *Monitor) OnChange(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}
