package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/pointsync/internal/repos/transactions"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var _ transactions.Transactions = (*transactionsRepo)(nil)

type transactionsRepo struct{ db *sql.DB }

func New(db *sql.DB) *transactionsRepo {
	return &transactionsRepo{db: db}
}

const recordColumns = `id, user_id, type, amount, description,
	COALESCE(game_id, ''), COALESCE(referral_id, ''), COALESCE(idempotency_key, ''), created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (transactions.Record, error) {
	var rec transactions.Record

	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Type, &rec.Amount, &rec.Description,
		&rec.GameID, &rec.ReferralID, &rec.IdempotencyKey, &rec.CreatedAt,
	)

	return rec, err
}

// Insert appends rec. A zero rec.ID is replaced with a time-ordered UUID; the
// timestamp is always assigned by the database.
func (r *transactionsRepo) Insert(ctx context.Context, tx *sql.Tx, rec transactions.Record) (transactions.Record, error) {
	if rec.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return transactions.Record{}, fmt.Errorf("generate id: %w", err)
		}

		rec.ID = id
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, description, game_id, referral_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''))
		RETURNING `+recordColumns,
		rec.ID, rec.UserID, rec.Type, rec.Amount, rec.Description,
		rec.GameID, rec.ReferralID, rec.IdempotencyKey,
	)

	out, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" { // unique_violation
				return transactions.Record{}, transactions.ErrDuplicateTransaction
			}
		}

		return transactions.Record{}, fmt.Errorf("insert transaction: %w", err)
	}

	return out, nil
}

func (r *transactionsRepo) FindByKey(ctx context.Context, tx *sql.Tx, userID, key string) (transactions.Record, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM transactions
		WHERE user_id = $1
		  AND idempotency_key = $2
	`, userID, key)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transactions.Record{}, transactions.ErrTransactionNotFound
		}

		return transactions.Record{}, fmt.Errorf("find by key: %w", err)
	}

	return rec, nil
}

func (r *transactionsRepo) ListRecent(ctx context.Context, userID string, limit int, before string) ([]transactions.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM transactions
		WHERE user_id = $1
		  AND (
		    NULLIF($2, '') IS NULL
		    OR (created_at, id) < (
		      SELECT c.created_at, c.id
		      FROM transactions c
		      WHERE c.user_id = $1
		        AND c.id = NULLIF($2, '')::uuid
		    )
		  )
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, userID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]transactions.Record, 0, limit)

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		out = append(out, rec)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return out, nil
}
