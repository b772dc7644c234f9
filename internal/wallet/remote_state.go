package wallet

import (
	"context"
	"fmt"
)

// ApplyRemote replaces the balance and head page with an authoritative
// snapshot and persists them. Snapshots for a user other than the current one
// are ignored. Pages loaded with LoadMore are dropped and the cursor restarts
// after the new head page.
func (e *Engine) ApplyRemote(userID string, snap RemoteSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sess
	if s == nil || s.userID != userID {
		return
	}

	s.balance = snap.Balance
	s.txs = append([]Transaction(nil), snap.Transactions...)
	s.cursor.Reset(snap.Page, e.cfg.PageSize)
	s.lastSyncAt = e.now()

	e.persistLocked(context.WithoutCancel(e.ctx), s, Patch{}.
		WithBalance(s.balance).
		WithTransactions(e.bounded(s.txs)).
		WithLastSyncAt(s.lastSyncAt))
}

// Refresh fetches a fresh snapshot and applies it like a subscription
// delivery.
func (e *Engine) Refresh(ctx context.Context) error {
	userID, ok := e.currentUser()
	if !ok {
		return ErrNotAuthenticated
	}

	snap, err := e.remote.Snapshot(ctx, userID, e.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	e.ApplyRemote(userID, snap)

	return nil
}

// LoadMore appends the next older page after the current list and returns
// it. It returns nothing when no cursor is held, the last page was short, the
// list already holds MaxLoadedTransactions, or another LoadMore is running.
func (e *Engine) LoadMore(ctx context.Context) ([]Transaction, error) {
	e.mu.Lock()

	s := e.sess
	if s == nil {
		e.mu.Unlock()
		return nil, ErrNotAuthenticated
	}

	before, ok := s.cursor.Next()
	size := min(e.cfg.PageSize, e.cfg.MaxLoadedTransactions-len(s.txs))
	if !ok || s.loadingMore || size <= 0 {
		e.mu.Unlock()
		return nil, nil
	}

	s.loadingMore = true
	gen := s.cursor.gen
	userID := s.userID
	e.mu.Unlock()

	page, err := e.remote.Page(ctx, userID, size, before)

	e.mu.Lock()
	defer e.mu.Unlock()

	s.loadingMore = false

	if err != nil {
		return nil, fmt.Errorf("load more: %w", err)
	}

	// A snapshot landed meanwhile; the page no longer follows the list.
	if e.sess != s || s.cursor.gen != gen {
		return nil, nil
	}

	s.txs = append(s.txs, page.Transactions...)
	s.cursor.Advance(page, size)
	e.capLocked(s)

	e.persistLocked(context.WithoutCancel(ctx), s, Patch{}.WithTransactions(e.bounded(s.txs)))

	return append([]Transaction(nil), page.Transactions...), nil
}

func (e *Engine) currentUser() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil {
		return "", false
	}

	return e.sess.userID, true
}
