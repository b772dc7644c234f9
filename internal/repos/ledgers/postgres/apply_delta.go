package ledgers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/pointsync/internal/repos/ledgers"
)

// ApplyDelta adds a signed delta to the balance and returns the new balance.
// The update is conditional: it matches no row, and returns
// ErrInsufficientFunds, when the result would be negative or the ledger does
// not exist.
func (r *ledgersRepo) ApplyDelta(ctx context.Context, tx *sql.Tx, userID string, delta int64) (int64, error) {
	var balance int64

	err := tx.QueryRowContext(ctx, `
		UPDATE ledgers
		SET balance = balance + $2,
		    updated_at = now()
		WHERE user_id = $1
		  AND balance + $2 >= 0
		RETURNING balance
	`, userID, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ledgers.ErrInsufficientFunds
		}

		return 0, fmt.Errorf("apply delta: %w", err)
	}

	return balance, nil
}
