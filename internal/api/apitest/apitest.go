// Package apitest runs the ledger HTTP API over an in-memory ledger for
// client tests.
package apitest

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fastprodman/pointsync/internal/api"
	"github.com/fastprodman/pointsync/internal/repos/transactions"
	"github.com/fastprodman/pointsync/internal/services/ledger"
	"github.com/google/uuid"
)

// Ledger is an in-memory api.LedgerService that publishes every write to its
// hub.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]int64
	records  map[string][]transactions.Record // newest first
	keys     map[string]bool
	hub      *ledger.Hub
}

var _ api.LedgerService = (*Ledger)(nil)

func NewLedger(hub *ledger.Hub) *Ledger {
	return &Ledger{
		balances: make(map[string]int64),
		records:  make(map[string][]transactions.Record),
		keys:     make(map[string]bool),
		hub:      hub,
	}
}

// NewServer serves api.NewRouter over a fresh Ledger until the test ends.
func NewServer(t *testing.T) (*httptest.Server, *Ledger) {
	t.Helper()

	hub := ledger.NewHub()
	l := NewLedger(hub)

	srv := httptest.NewServer(api.NewRouter(l, hub, nil))
	t.Cleanup(srv.Close)

	return srv, l
}

func (l *Ledger) Balance(userID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.balances[userID]
}

// Records returns the user's log, newest first.
func (l *Ledger) Records(userID string) []transactions.Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]transactions.Record(nil), l.records[userID]...)
}

func (l *Ledger) Commit(_ context.Context, userID string, m ledger.Mutation) (ledger.Result, error) {
	return l.write(userID, m, true)
}

func (l *Ledger) Append(_ context.Context, userID string, m ledger.Mutation) (ledger.Result, error) {
	return l.write(userID, m, false)
}

func (l *Ledger) Page(_ context.Context, userID string, limit int, before string) (ledger.Page, error) {
	if limit <= 0 {
		limit = ledger.DefaultPageSize
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.records[userID]
	start := 0
	if before != "" {
		start = len(recs)
		for i, rec := range recs {
			if rec.ID.String() == before {
				start = i + 1
				break
			}
		}
	}

	end := min(start+limit, len(recs))
	out := append([]transactions.Record(nil), recs[start:end]...)

	page := ledger.Page{Records: out, HasMore: len(out) == limit}
	if len(out) > 0 {
		page.NextCursor = out[len(out)-1].ID.String()
	}

	return page, nil
}

func (l *Ledger) Snapshot(ctx context.Context, userID string, limit int) (ledger.Snapshot, error) {
	page, err := l.Page(ctx, userID, limit, "")
	if err != nil {
		return ledger.Snapshot{}, err
	}

	return ledger.Snapshot{UserID: userID, Balance: l.Balance(userID), Page: page}, nil
}

func (l *Ledger) write(userID string, m ledger.Mutation, moveBalance bool) (ledger.Result, error) {
	if !m.Type.Valid() {
		return ledger.Result{}, ledger.ErrInvalidMutation
	}

	l.mu.Lock()

	key := userID + "/" + m.IdempotencyKey
	if m.IdempotencyKey != "" && l.keys[key] {
		l.mu.Unlock()
		return ledger.Result{}, ledger.ErrDuplicateTransaction
	}

	if moveBalance {
		if l.balances[userID]+m.Amount < 0 {
			l.mu.Unlock()
			return ledger.Result{}, ledger.ErrInsufficientFunds
		}
		l.balances[userID] += m.Amount
	}

	rec := transactions.Record{
		ID:             uuid.Must(uuid.NewV7()),
		UserID:         userID,
		Type:           string(m.Type),
		Amount:         m.Amount,
		Description:    m.Description,
		GameID:         m.GameID,
		ReferralID:     m.ReferralID,
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	l.records[userID] = append([]transactions.Record{rec}, l.records[userID]...)
	if m.IdempotencyKey != "" {
		l.keys[key] = true
	}

	res := ledger.Result{Balance: l.balances[userID], Record: rec}
	l.mu.Unlock()

	l.hub.Publish(userID)

	return res, nil
}
