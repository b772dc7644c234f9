package transactions

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrDuplicateTransaction = errors.New("duplicate transaction")
var ErrTransactionNotFound = errors.New("transaction not found")

// Record is a row of the append-only transaction log. ID and CreatedAt are
// assigned by the server.
type Record struct {
	ID             uuid.UUID
	UserID         string
	Type           string
	Amount         int64
	Description    string
	GameID         string
	ReferralID     string
	IdempotencyKey string
	CreatedAt      time.Time
}

type Transactions interface {
	Insert(ctx context.Context, tx *sql.Tx, rec Record) (Record, error)
	FindByKey(ctx context.Context, tx *sql.Tx, userID, key string) (Record, error)
	// ListRecent returns up to limit records ordered newest first. A non-empty
	// before restricts the page to records strictly older than that record.
	ListRecent(ctx context.Context, userID string, limit int, before string) ([]Record, error)
}
