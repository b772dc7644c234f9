package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fastprodman/pointsync/internal/infra/logging"
	"github.com/google/uuid"
)

// Deps are the collaborators of an Engine.
type Deps struct {
	Store    LocalStore
	Remote   RemoteLedger
	Network  Connectivity
	Identity Identity
	Logger   *slog.Logger
}

// session is the in-memory state of the signed-in user. Guarded by Engine.mu.
type session struct {
	userID     string
	balance    int64
	txs        []Transaction
	pending    []PendingSyncItem
	lastSyncAt time.Time
	cursor     Cursor
	dropped    int
	advisory   string
	durable    bool

	// committing is set while a direct (non-queued) remote commit is in
	// flight, draining while a drain pass runs. At most one is set, which
	// keeps remote application order equal to local order.
	committing     bool
	draining       bool
	drainRequested bool
	loadingMore    bool
}

// Engine owns the balance and transaction state of the signed-in user. It
// applies mutations optimistically, persists them, and delivers them to the
// remote ledger at least once.
type Engine struct {
	cfg      Config
	store    LocalStore
	remote   RemoteLedger
	network  Connectivity
	identity Identity
	logger   *slog.Logger
	rec      *Reconciler
	now      func() time.Time

	mu   sync.Mutex
	sess *session

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()
	wg     sync.WaitGroup
	kicks  atomic.Int32
}

func New(cfg Config, deps Deps) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		store:    deps.Store,
		remote:   deps.Remote,
		network:  deps.Network,
		identity: deps.Identity,
		logger:   logging.OrDefault(deps.Logger).With("component", "sync_engine"),
		now:      time.Now,
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.rec = NewReconciler(e.remote, e.cfg.PageSize, e.ApplyRemote, logging.OrDefault(deps.Logger).With("component", "reconciler"))

	return e
}

// Start loads the current user's state and begins reacting to identity and
// connectivity transitions.
func (e *Engine) Start(ctx context.Context) {
	e.unsubs = append(e.unsubs,
		e.identity.OnChange(func(userID string) { e.switchUser(e.ctx, userID) }),
		e.network.OnChange(e.onConnectivity),
	)

	userID, _ := e.identity.UserID()
	e.switchUser(ctx, userID)
}

// Close stops listeners, the subscription and background drains.
func (e *Engine) Close() {
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil

	e.cancel()
	e.rec.Stop()
	e.wg.Wait()
}

func (e *Engine) ReconcilerState() ReconcilerState {
	return e.rec.State()
}

// Mutate applies a signed balance change. It fails only for a missing user,
// an invalid mutation or a negative resulting balance; remote and storage
// failures are reported through Result.Status and Result.Advisory.
func (e *Engine) Mutate(ctx context.Context, m Mutation) (Result, error) {
	m, err := m.normalize()
	if err != nil {
		return Result{}, err
	}

	pctx := context.WithoutCancel(ctx)

	e.mu.Lock()

	s := e.sess
	if s == nil {
		e.mu.Unlock()
		return Result{}, ErrNotAuthenticated
	}

	newBalance := s.balance + m.Amount
	if newBalance < 0 {
		e.mu.Unlock()
		return Result{}, fmt.Errorf("%w: balance %d, amount %d", ErrInsufficientBalance, s.balance, m.Amount)
	}

	now := e.now()
	tx := Transaction{
		ID:          LocalIDPrefix + uuid.NewString(),
		Type:        m.Type,
		Amount:      m.Amount,
		Description: m.Description,
		Timestamp:   now,
		GameID:      m.Extras.GameID(),
		ReferralID:  m.Extras.ReferralID(),
	}

	s.balance = newBalance
	s.txs = append([]Transaction{tx}, s.txs...)
	e.capLocked(s)
	e.persistLocked(pctx, s, Patch{}.WithBalance(s.balance).WithTransactions(e.bounded(s.txs)))

	item := PendingSyncItem{
		ID:         SyncIDPrefix + uuid.NewString(),
		Kind:       KindBalanceUpdate,
		Payload:    m,
		EnqueuedAt: now,
	}

	online := e.network.IsOnline()
	busy := len(s.pending) > 0 || s.committing || s.draining

	if !online || busy {
		status := StatusPendingOffline
		if online {
			status = StatusPendingRetry
		}

		e.enqueueLocked(pctx, s, item)
		res := Result{Status: status, Balance: s.balance, Transaction: tx, Advisory: s.advisory}
		e.mu.Unlock()

		if online {
			e.kickDrain()
		}

		return res, nil
	}

	s.committing = true
	e.mu.Unlock()

	err = e.commitItem(pctx, s.userID, item)

	e.mu.Lock()

	s.committing = false
	kick := s.drainRequested
	s.drainRequested = false

	res := Result{Status: StatusCommitted, Transaction: tx}
	if err != nil {
		e.logger.Info("remote commit failed, queued for retry", "user_id", s.userID, "item_id", item.ID, "error", err)
		e.requeueFrontLocked(pctx, s, item)
		res.Status = StatusPendingRetry
	} else {
		s.advisory = ""
	}

	res.Balance = s.balance
	res.Advisory = s.advisory
	e.mu.Unlock()

	if kick {
		e.kickDrain()
	}

	return res, nil
}

// Snapshot returns a copy of the current state. Without a user it returns a
// zero View with only IsOnline set.
func (e *Engine) Snapshot() View {
	online := e.network.IsOnline()

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sess
	if s == nil {
		return View{IsOnline: online}
	}

	return View{
		UserID:       s.userID,
		Balance:      s.balance,
		Transactions: append([]Transaction(nil), s.txs...),
		IsOnline:     online,
		PendingCount: len(s.pending),
		DroppedCount: s.dropped,
		HasMore:      s.cursor.HasMore() && len(s.txs) < e.cfg.MaxLoadedTransactions,
		LastSyncAt:   s.lastSyncAt,
		Advisory:     s.advisory,
		Durable:      s.durable,
		Syncing:      s.committing || s.draining || e.kicks.Load() > 0,
	}
}

// Logout ends the session. Durable state is erased only when nothing is left
// to sync, so queued mutations survive until they can be replayed.
func (e *Engine) Logout(ctx context.Context) error {
	e.mu.Lock()

	s := e.sess
	if s == nil {
		e.mu.Unlock()
		return ErrNotAuthenticated
	}

	e.sess = nil
	kept := len(s.pending)

	var err error
	switch {
	case kept == 0 && s.durable:
		err = e.store.Clear(ctx, s.userID)
		if err != nil {
			err = fmt.Errorf("clear local state: %w", err)
		}
	case kept > 0 && !s.durable:
		e.logger.Warn("pending items lost with memory-only session", "user_id", s.userID, "pending", kept)
	}
	e.mu.Unlock()

	e.rec.Update(e.ctx, "", false)

	e.logger.Info("session ended", "user_id", s.userID, "pending_kept", kept)

	return err
}

func (e *Engine) switchUser(ctx context.Context, userID string) {
	e.mu.Lock()

	if cur := e.sess; cur != nil && cur.userID == userID {
		e.mu.Unlock()
		return
	}

	e.sess = nil

	if userID != "" {
		s := &session{userID: userID, durable: true}

		snap, err := e.store.Load(ctx, userID)
		if err != nil {
			s.durable = false
			e.logger.Warn("local store unavailable, session is memory-only", "user_id", userID, "error", err)
		}

		s.balance = snap.Balance
		s.txs = snap.Transactions
		s.pending = snap.PendingSync
		s.lastSyncAt = snap.LastSyncAt
		if len(s.pending) > 0 {
			s.advisory = AdvisorySavedLocally
		}

		e.sess = s
	}

	queued := e.sess != nil && len(e.sess.pending) > 0
	e.mu.Unlock()

	online := e.network.IsOnline()
	e.rec.Update(e.ctx, userID, online)

	if queued && online {
		e.kickDrain()
	}
}

func (e *Engine) onConnectivity(online bool) {
	userID := ""
	queued := false

	e.mu.Lock()
	if e.sess != nil {
		userID = e.sess.userID
		queued = len(e.sess.pending) > 0
	}
	e.mu.Unlock()

	e.logger.Info("connectivity changed", "online", online)

	e.rec.Update(e.ctx, userID, online)

	if online && queued {
		e.kickDrain()
	}
}

func (e *Engine) kickDrain() {
	e.wg.Add(1)
	e.kicks.Add(1)

	go func() {
		defer e.wg.Done()
		defer e.kicks.Add(-1)

		err := e.SyncPendingNow(e.ctx)
		if err != nil && !errors.Is(err, ErrNotAuthenticated) && !errors.Is(err, context.Canceled) {
			e.logger.Warn("background drain failed", "error", err)
		}
	}()
}

// persistLocked writes p for the session. The first store failure turns the
// session memory-only.
func (e *Engine) persistLocked(ctx context.Context, s *session, p Patch) {
	if !s.durable {
		return
	}

	err := e.store.Save(ctx, s.userID, p)
	if err != nil {
		e.degradeLocked(s, err)
	}
}

func (e *Engine) enqueueLocked(ctx context.Context, s *session, item PendingSyncItem) {
	s.pending = append(s.pending, item)
	s.advisory = AdvisorySavedLocally

	if !s.durable {
		return
	}

	err := e.store.EnqueuePending(ctx, s.userID, item)
	if err != nil {
		e.degradeLocked(s, err)
	}
}

// requeueFrontLocked puts a failed direct commit back at the head of the
// queue. Everything queued while it was in flight was enqueued after it.
func (e *Engine) requeueFrontLocked(ctx context.Context, s *session, item PendingSyncItem) {
	s.pending = append([]PendingSyncItem{item}, s.pending...)
	s.advisory = AdvisorySavedLocally

	e.persistLocked(ctx, s, Patch{}.WithPendingSync(append([]PendingSyncItem(nil), s.pending...)))
}

// capLocked trims the in-memory list to MaxLoadedTransactions. The cursor
// moves back to the oldest kept remote entry so LoadMore refetches the rest.
func (e *Engine) capLocked(s *session) {
	limit := e.cfg.MaxLoadedTransactions
	if len(s.txs) <= limit {
		return
	}

	s.txs = s.txs[:limit:limit]

	before := ""
	for i := len(s.txs) - 1; i >= 0; i-- {
		if !strings.HasPrefix(s.txs[i].ID, LocalIDPrefix) {
			before = s.txs[i].ID
			break
		}
	}
	s.cursor.Rewind(before)
}

func (e *Engine) degradeLocked(s *session, err error) {
	s.durable = false
	e.logger.Warn("local store write failed, session is memory-only", "user_id", s.userID, "error", err)
}

func (e *Engine) bounded(txs []Transaction) []Transaction {
	if len(txs) > e.cfg.MaxCachedTransactions {
		txs = txs[:e.cfg.MaxCachedTransactions]
	}

	return append([]Transaction(nil), txs...)
}
