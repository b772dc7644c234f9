package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/pointsync/internal/infra/pgutils"
	"github.com/fastprodman/pointsync/internal/repos/ledgers"
	pgledgers "github.com/fastprodman/pointsync/internal/repos/ledgers/postgres"
	"github.com/fastprodman/pointsync/internal/repos/transactions"
	pgtransactions "github.com/fastprodman/pointsync/internal/repos/transactions/postgres"
	"github.com/google/uuid"
)

// ChangesChannel is the Postgres NOTIFY channel carrying the user id of every
// ledger that changed.
const ChangesChannel = "ledger_changes"

type LedgerService struct {
	db      *sql.DB
	ledgers ledgers.Ledgers
	txns    transactions.Transactions
}

func New(dbx *sql.DB) *LedgerService {
	return &LedgerService{
		db:      dbx,
		ledgers: pgledgers.New(dbx),
		txns:    pgtransactions.New(dbx),
	}
}

// Commit runs the atomic conditional update in a single DB transaction:
//
// 1) Create the ledger on first use.
// 2) Lock the ledger row (FOR UPDATE).
// 3) Short-circuit a replayed idempotency key.
// 4) Apply the delta, rejecting a negative result.
// 5) Append the transaction record.
// 6) Queue a change notification (delivered on commit).
//
// A replay returns the original record together with ErrDuplicateTransaction.
func (s *LedgerService) Commit(ctx context.Context, userID string, m Mutation) (Result, error) {
	err := m.validate()
	if err != nil {
		return Result{}, err
	}

	var res Result

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// 1) Ensure ledger exists
		err := s.ledgers.Ensure(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("ensure ledger: %w", err)
		}

		// 2) Lock ledger row
		balance, err := s.ledgers.LockAndGetBalance(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock and get balance: %w", err)
		}

		// 3) Replay check
		if m.IdempotencyKey != "" {
			existing, err := s.txns.FindByKey(ctx, tx, userID, m.IdempotencyKey)
			if err == nil {
				res = Result{Balance: balance, Record: existing}
				return ErrDuplicateTransaction
			}
			if !errors.Is(err, transactions.ErrTransactionNotFound) {
				return fmt.Errorf("find by key: %w", err)
			}
		}

		// 4) Apply the effect; pre-check against the locked balance
		if balance+m.Amount < 0 {
			return fmt.Errorf("pre-check delta: %w", ErrInsufficientFunds)
		}

		newBalance, err := s.ledgers.ApplyDelta(ctx, tx, userID, m.Amount)
		if err != nil {
			if errors.Is(err, ledgers.ErrInsufficientFunds) {
				return fmt.Errorf("apply delta: %w", ErrInsufficientFunds)
			}

			return fmt.Errorf("apply delta: %w", err)
		}

		// 5) Insert transaction record
		rec, err := s.txns.Insert(ctx, tx, m.record(userID))
		if err != nil {
			return insertErr(err)
		}

		// 6) Notify subscribers once committed
		err = notifyChange(ctx, tx, userID)
		if err != nil {
			return err
		}

		res = Result{Balance: newBalance, Record: rec}

		return nil
	})
	if err != nil {
		return res, fmt.Errorf("commit mutation: %w", err)
	}

	return res, nil
}

// Append writes a transaction record without touching the balance.
func (s *LedgerService) Append(ctx context.Context, userID string, m Mutation) (Result, error) {
	err := m.validate()
	if err != nil {
		return Result{}, err
	}

	var res Result

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := s.ledgers.Ensure(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("ensure ledger: %w", err)
		}

		balance, err := s.ledgers.LockAndGetBalance(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock and get balance: %w", err)
		}

		rec, err := s.txns.Insert(ctx, tx, m.record(userID))
		if err != nil {
			return insertErr(err)
		}

		err = notifyChange(ctx, tx, userID)
		if err != nil {
			return err
		}

		res = Result{Balance: balance, Record: rec}

		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("append transaction: %w", err)
	}

	return res, nil
}

// Page returns up to limit records older than the before cursor (newest
// first). An empty cursor starts from the newest record.
func (s *LedgerService) Page(ctx context.Context, userID string, limit int, before string) (Page, error) {
	if before != "" {
		_, err := uuid.Parse(before)
		if err != nil {
			return Page{}, fmt.Errorf("%w: %q", ErrInvalidCursor, before)
		}
	}

	limit = clampLimit(limit)

	recs, err := s.txns.ListRecent(ctx, userID, limit, before)
	if err != nil {
		return Page{}, fmt.Errorf("list transactions: %w", err)
	}

	page := Page{Records: recs, HasMore: len(recs) == limit}
	if len(recs) > 0 {
		page.NextCursor = recs[len(recs)-1].ID.String()
	}

	return page, nil
}

// Snapshot returns the balance with the newest page of transactions. A user
// without a ledger yet has a zero balance and an empty page.
func (s *LedgerService) Snapshot(ctx context.Context, userID string, limit int) (Snapshot, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil && !errors.Is(err, ledgers.ErrLedgerNotFound) {
		return Snapshot{}, err
	}

	page, err := s.Page(ctx, userID, limit, "")
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}

	return Snapshot{UserID: userID, Balance: balance, Page: page}, nil
}

// GetBalance returns the user's balance (no locks).
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	balance, err := s.ledgers.GetBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}

	return balance, nil
}

func notifyChange(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChangesChannel, userID)
	if err != nil {
		return fmt.Errorf("notify change: %w", err)
	}

	return nil
}

func insertErr(err error) error {
	if errors.Is(err, transactions.ErrDuplicateTransaction) {
		return fmt.Errorf("insert transaction: %w", ErrDuplicateTransaction)
	}

	return fmt.Errorf("insert transaction: %w", err)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}
