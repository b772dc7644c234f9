package ledgers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/pointsync/internal/repos/ledgers"
)

func (r *ledgersRepo) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64

	err := r.db.QueryRowContext(ctx, `
		SELECT balance
		FROM ledgers
		WHERE user_id = $1
	`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ledgers.ErrLedgerNotFound
		}

		return 0, fmt.Errorf("get balance: %w", err)
	}

	return balance, nil
}
