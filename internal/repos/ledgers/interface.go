package ledgers

import (
	"context"
	"database/sql"
	"errors"
)

var ErrInsufficientFunds = errors.New("insufficient funds")
var ErrLedgerNotFound = errors.New("ledger not found")

// Ledgers is the authoritative per-user balance table. Mutating methods run
// inside the caller's transaction.
type Ledgers interface {
	Ensure(ctx context.Context, tx *sql.Tx, userID string) error
	GetBalance(ctx context.Context, userID string) (int64, error)
	LockAndGetBalance(ctx context.Context, tx *sql.Tx, userID string) (int64, error)
	ApplyDelta(ctx context.Context, tx *sql.Tx, userID string, delta int64) (int64, error)
}
