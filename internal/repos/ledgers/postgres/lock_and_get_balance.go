package ledgers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/pointsync/internal/repos/ledgers"
)

func (r *ledgersRepo) LockAndGetBalance(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	var balance int64

	err := tx.QueryRowContext(ctx, `
		SELECT balance
		FROM ledgers
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ledgers.ErrLedgerNotFound
		}

		return 0, fmt.Errorf("lock/get balance: %w", err)
	}

	return balance, nil
}
