package wallet

import (
	"context"
	"errors"
	"fmt"
)

// SyncPendingNow replays the pending queue in enqueue order while online.
// A failing item is skipped for this pass and dropped once its retry count
// exceeds Config.MaxRetries. A call made while a pass runs schedules one more
// pass in the running call.
func (e *Engine) SyncPendingNow(ctx context.Context) error {
	e.mu.Lock()

	s := e.sess
	if s == nil {
		e.mu.Unlock()
		return ErrNotAuthenticated
	}

	if s.draining || s.committing {
		s.drainRequested = true
		e.mu.Unlock()

		return nil
	}

	s.draining = true
	e.mu.Unlock()

	for {
		e.drain(ctx, s)

		// Requests made during the pass run another one.
		e.mu.Lock()
		again := s.drainRequested && ctx.Err() == nil && len(s.pending) > 0
		s.drainRequested = false
		if !again {
			s.draining = false
			e.mu.Unlock()

			break
		}
		e.mu.Unlock()
	}

	return ctx.Err()
}

func (e *Engine) drain(ctx context.Context, s *session) {
	pctx := context.WithoutCancel(ctx)
	idx := 0

	for ctx.Err() == nil && e.network.IsOnline() {
		e.mu.Lock()
		if idx >= len(s.pending) {
			e.mu.Unlock()
			return
		}
		item := s.pending[idx]
		e.mu.Unlock()

		err := e.commitItem(ctx, s.userID, item)
		if err != nil && ctx.Err() != nil {
			// Interrupted, not failed: the attempt does not count.
			return
		}

		e.mu.Lock()

		// Only drain removes items, so idx still points at item.
		if err == nil {
			s.pending = append(s.pending[:idx:idx], s.pending[idx+1:]...)
			e.dequeueLocked(pctx, s, item.ID)
			e.logger.Debug("pending item synced", "user_id", s.userID, "item_id", item.ID)
		} else {
			item.RetryCount++

			if item.RetryCount > e.cfg.MaxRetries {
				s.pending = append(s.pending[:idx:idx], s.pending[idx+1:]...)
				s.dropped++
				e.dequeueLocked(pctx, s, item.ID)
				e.logger.Warn("pending item dropped after retries",
					"user_id", s.userID,
					"item_id", item.ID,
					"amount", item.Payload.Amount,
					"retry_count", item.RetryCount,
					"error", err,
				)
			} else {
				s.pending[idx] = item
				e.persistLocked(pctx, s, Patch{}.WithPendingSync(append([]PendingSyncItem(nil), s.pending...)))
				e.logger.Info("pending item replay failed",
					"user_id", s.userID, "item_id", item.ID, "retry_count", item.RetryCount, "error", err)
				idx++
			}
		}

		if len(s.pending) == 0 {
			s.advisory = ""
		}

		e.mu.Unlock()
	}
}

func (e *Engine) dequeueLocked(ctx context.Context, s *session, itemID string) {
	if !s.durable {
		return
	}

	err := e.store.DequeuePending(ctx, s.userID, itemID)
	if err != nil {
		e.degradeLocked(s, err)
	}
}

// commitItem delivers one item. A replay the remote already applied counts
// as delivered.
func (e *Engine) commitItem(ctx context.Context, userID string, item PendingSyncItem) error {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CommitTimeout)
	defer cancel()

	var err error

	switch item.Kind {
	case KindBalanceUpdate:
		_, err = e.remote.Commit(cctx, userID, item.ID, item.Payload)
	case KindTransactionAdd:
		_, err = e.remote.Append(cctx, userID, item.ID, item.Payload)
	default:
		return fmt.Errorf("%w: unknown pending kind %q", ErrInvalidMutation, item.Kind)
	}

	if err != nil && !errors.Is(err, ErrAlreadyCommitted) {
		return fmt.Errorf("commit %s: %w", item.ID, err)
	}

	return nil
}
