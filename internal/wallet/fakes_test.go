package wallet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var errBoom = errors.New("boom")

// memStore is an in-memory LocalStore that copies on every read and write.
type memStore struct {
	mu    sync.Mutex
	data  map[string]LocalSnapshot
	fail  error
	saves int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]LocalSnapshot)}
}

func (m *memStore) setFail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *memStore) get(userID string) LocalSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return cloneSnapshot(m.data[userID])
}

func (m *memStore) Load(_ context.Context, userID string) (LocalSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return LocalSnapshot{}, m.fail
	}

	return cloneSnapshot(m.data[userID]), nil
}

func (m *memStore) Save(_ context.Context, userID string, p Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}

	m.saves++
	snap := m.data[userID]
	if p.Balance != nil {
		snap.Balance = *p.Balance
	}
	if p.Transactions != nil {
		snap.Transactions = slices.Clone(*p.Transactions)
	}
	if p.PendingSync != nil {
		snap.PendingSync = slices.Clone(*p.PendingSync)
	}
	if p.LastSyncAt != nil {
		snap.LastSyncAt = *p.LastSyncAt
	}
	m.data[userID] = snap

	return nil
}

func (m *memStore) EnqueuePending(_ context.Context, userID string, item PendingSyncItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}

	snap := m.data[userID]
	snap.PendingSync = append(slices.Clone(snap.PendingSync), item)
	m.data[userID] = snap

	return nil
}

func (m *memStore) DequeuePending(_ context.Context, userID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}

	snap := m.data[userID]
	snap.PendingSync = slices.DeleteFunc(slices.Clone(snap.PendingSync), func(it PendingSyncItem) bool {
		return it.ID == itemID
	})
	m.data[userID] = snap

	return nil
}

func (m *memStore) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}

	delete(m.data, userID)

	return nil
}

func cloneSnapshot(s LocalSnapshot) LocalSnapshot {
	s.Transactions = slices.Clone(s.Transactions)
	s.PendingSync = slices.Clone(s.PendingSync)
	return s
}

// fakeRemote is an in-memory authoritative ledger.
type fakeRemote struct {
	mu        sync.Mutex
	balances  map[string]int64
	logs      map[string][]Transaction // newest first
	keys      map[string]bool
	commits   []Mutation
	failNext  []error // consumed one per Commit/Append, nil means succeed
	failAll   error
	subErr    error
	silent    bool // no snapshot push after writes
	subs      map[string][]*fakeSub
	seq       int
	pageCalls int
	held      *heldWrite
}

// heldWrite parks one Commit/Append until release is closed.
type heldWrite struct {
	entered chan struct{}
	release chan struct{}
}

// holdNext parks the next Commit/Append. The returned channel closes once it
// is parked; calling release lets it continue.
func (f *fakeRemote) holdNext() (<-chan struct{}, func()) {
	h := &heldWrite{entered: make(chan struct{}), release: make(chan struct{})}
	f.set(func(f *fakeRemote) { f.held = h })

	return h.entered, func() { close(h.release) }
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		balances: make(map[string]int64),
		logs:     make(map[string][]Transaction),
		keys:     make(map[string]bool),
		subs:     make(map[string][]*fakeSub),
	}
}

func (f *fakeRemote) set(fn func(f *fakeRemote)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeRemote) balance(userID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.balances[userID]
}

func (f *fakeRemote) committed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]int64, 0, len(f.commits))
	for _, m := range f.commits {
		out = append(out, m.Amount)
	}

	return out
}

// seed adds n remote transactions of amount 1, oldest first.
func (f *fakeRemote) seed(userID string, balance int64, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.balances[userID] = balance
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		f.seq++
		tx := Transaction{
			ID:          fmt.Sprintf("r-%04d", f.seq),
			Type:        TxEarn,
			Amount:      1,
			Description: fmt.Sprintf("seed %d", i),
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}
		f.logs[userID] = append([]Transaction{tx}, f.logs[userID]...)
	}
}

func (f *fakeRemote) write(userID, key string, m Mutation, moveBalance bool) (CommitResult, error) {
	f.mu.Lock()

	if h := f.held; h != nil {
		f.held = nil
		f.mu.Unlock()
		close(h.entered)
		<-h.release
		f.mu.Lock()
	}

	var injected error
	if len(f.failNext) > 0 {
		injected = f.failNext[0]
		f.failNext = f.failNext[1:]
	}
	if injected == nil {
		injected = f.failAll
	}
	if injected != nil {
		f.mu.Unlock()
		return CommitResult{}, injected
	}

	if f.keys[userID+"/"+key] {
		f.mu.Unlock()
		return CommitResult{}, ErrAlreadyCommitted
	}

	if moveBalance {
		if f.balances[userID]+m.Amount < 0 {
			f.mu.Unlock()
			return CommitResult{}, fmt.Errorf("%w: insufficient funds", ErrRemoteRejected)
		}
		f.balances[userID] += m.Amount
	}

	f.seq++
	tx := Transaction{
		ID:          fmt.Sprintf("r-%04d", f.seq),
		Type:        m.Type,
		Amount:      m.Amount,
		Description: m.Description,
		Timestamp:   time.Now(),
		GameID:      m.Extras.GameID(),
		ReferralID:  m.Extras.ReferralID(),
	}
	f.logs[userID] = append([]Transaction{tx}, f.logs[userID]...)
	f.keys[userID+"/"+key] = true
	f.commits = append(f.commits, m)

	res := CommitResult{Balance: f.balances[userID], Transaction: tx}
	f.mu.Unlock()

	f.publish(userID)

	return res, nil
}

func (f *fakeRemote) Commit(_ context.Context, userID, key string, m Mutation) (CommitResult, error) {
	return f.write(userID, key, m, true)
}

func (f *fakeRemote) Append(_ context.Context, userID, key string, m Mutation) (CommitResult, error) {
	return f.write(userID, key, m, false)
}

func (f *fakeRemote) Page(_ context.Context, userID string, limit int, before string) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pageCalls++

	return f.pageLocked(userID, limit, before), nil
}

func (f *fakeRemote) pageLocked(userID string, limit int, before string) Page {
	log := f.logs[userID]

	start := 0
	if before != "" {
		start = len(log)
		for i, tx := range log {
			if tx.ID == before {
				start = i + 1
				break
			}
		}
	}

	end := min(start+limit, len(log))
	out := slices.Clone(log[start:end])

	p := Page{Transactions: out, HasMore: len(out) == limit}
	if len(out) > 0 {
		p.NextCursor = out[len(out)-1].ID
	}

	return p
}

func (f *fakeRemote) Snapshot(_ context.Context, userID string, limit int) (RemoteSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return RemoteSnapshot{Balance: f.balances[userID], Page: f.pageLocked(userID, limit, "")}, nil
}

func (f *fakeRemote) Subscribe(_ context.Context, userID string, limit int) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subErr != nil {
		return nil, f.subErr
	}

	sub := &fakeSub{remote: f, userID: userID, limit: limit, ch: make(chan SnapshotEvent, 32)}
	f.subs[userID] = append(f.subs[userID], sub)

	sub.ch <- SnapshotEvent{Snapshot: RemoteSnapshot{Balance: f.balances[userID], Page: f.pageLocked(userID, limit, "")}}

	return sub, nil
}

// publish pushes the current state to every subscriber of userID.
func (f *fakeRemote) publish(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.silent {
		return
	}

	for _, sub := range f.subs[userID] {
		snap := RemoteSnapshot{Balance: f.balances[userID], Page: f.pageLocked(userID, sub.limit, "")}
		select {
		case sub.ch <- SnapshotEvent{Snapshot: snap}:
		default:
		}
	}
}

// push delivers an arbitrary snapshot to the subscribers of userID.
func (f *fakeRemote) push(userID string, ev SnapshotEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs[userID] {
		sub.ch <- ev
	}
}

func (f *fakeRemote) subscribers(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.subs[userID])
}

type fakeSub struct {
	remote *fakeRemote
	userID string
	limit  int
	ch     chan SnapshotEvent
	once   sync.Once
}

func (s *fakeSub) Events() <-chan SnapshotEvent { return s.ch }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		s.remote.mu.Lock()
		defer s.remote.mu.Unlock()

		s.remote.subs[s.userID] = slices.DeleteFunc(s.remote.subs[s.userID], func(o *fakeSub) bool { return o == s })
	})

	return nil
}

// staticNet is a Connectivity that never fires, for tests that drive drains
// by hand.
type staticNet struct {
	online atomic.Bool
}

func (n *staticNet) IsOnline() bool { return n.online.Load() }

func (n *staticNet) OnChange(func(bool)) func() { return func() {} }
