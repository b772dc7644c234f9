package ledgers

import (
	"context"
	"database/sql"
	"fmt"
)

// Ensure creates a zero-balance ledger for userID unless one exists.
func (r *ledgersRepo) Ensure(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledgers (user_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("ensure ledger: %w", err)
	}

	return nil
}
