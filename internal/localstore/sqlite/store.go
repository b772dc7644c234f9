// Package sqlite is the durable local ledger store of the wallet client.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fastprodman/pointsync/internal/infra/logging"
	"github.com/fastprodman/pointsync/internal/wallet"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed schema.sql
var schemaSQL string

// Persisted field names.
const (
	fieldBalance      = "balance"
	fieldTransactions = "transactions"
	fieldPendingSync  = "pendingSync"
	fieldLastSyncAt   = "lastSyncAt"
)

// Store implements wallet.LocalStore on a single sqlite file. Rows are keyed
// by user id so sessions of different users never see each other's state.
type Store struct {
	db     *sql.DB
	locks  keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

var _ wallet.LocalStore = (*Store)(nil)

// Open creates or opens the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// Single writer; pragmas below stay bound to the one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		_, err = db.Exec(pragma)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	_, err = db.Exec(schemaSQL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logging.OrDefault(logger).With("component", "local_store"),
		now:    time.Now,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the user's snapshot. Missing rows load as zero values; a row
// that fails to decode makes the whole snapshot load as zero.
func (s *Store) Load(ctx context.Context, userID string) (wallet.LocalSnapshot, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	rows, err := s.readFields(ctx, s.db, userID)
	if err != nil {
		return wallet.LocalSnapshot{}, err
	}

	snap, err := decodeSnapshot(rows)
	if err != nil {
		s.logger.Warn("discarding unreadable local state", "user_id", userID, "error", err)
		return wallet.LocalSnapshot{}, nil
	}

	return snap, nil
}

// Save writes the set fields of p in one transaction.
func (s *Store) Save(ctx context.Context, userID string, p wallet.Patch) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	fields := make(map[string]any, 4)
	if p.Balance != nil {
		fields[fieldBalance] = *p.Balance
	}
	if p.Transactions != nil {
		fields[fieldTransactions] = nonNil(*p.Transactions)
	}
	if p.PendingSync != nil {
		fields[fieldPendingSync] = nonNil(*p.PendingSync)
	}
	if p.LastSyncAt != nil {
		fields[fieldLastSyncAt] = p.LastSyncAt.UnixMilli()
	}

	if len(fields) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.writeFields(ctx, tx, userID, fields)
	})
}

func (s *Store) EnqueuePending(ctx context.Context, userID string, item wallet.PendingSyncItem) error {
	return s.updatePending(ctx, userID, func(items []wallet.PendingSyncItem) []wallet.PendingSyncItem {
		return append(items, item)
	})
}

func (s *Store) DequeuePending(ctx context.Context, userID, itemID string) error {
	return s.updatePending(ctx, userID, func(items []wallet.PendingSyncItem) []wallet.PendingSyncItem {
		return slices.DeleteFunc(items, func(it wallet.PendingSyncItem) bool { return it.ID == itemID })
	})
}

// Clear erases every field of the user.
func (s *Store) Clear(ctx context.Context, userID string) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM ledger_fields WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("clear %s: %w", userID, err)
	}

	return nil
}

// updatePending is the read-modify-write of the pending queue. An unreadable
// queue is replaced rather than failing the write.
func (s *Store) updatePending(ctx context.Context, userID string, fn func([]wallet.PendingSyncItem) []wallet.PendingSyncItem) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var raw string

		err := tx.QueryRowContext(ctx,
			`SELECT value FROM ledger_fields WHERE user_id = ? AND field = ?`,
			userID, fieldPendingSync,
		).Scan(&raw)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read pending: %w", err)
		}

		var items []wallet.PendingSyncItem
		if raw != "" {
			err = json.Unmarshal([]byte(raw), &items)
			if err != nil {
				s.logger.Warn("replacing unreadable pending queue", "user_id", userID, "error", err)
				items = nil
			}
		}

		items = nonNil(fn(items))

		return s.writeFields(ctx, tx, userID, map[string]any{fieldPendingSync: items})
	})
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) readFields(ctx context.Context, q querier, userID string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT field, value FROM ledger_fields WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("read fields: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, 4)
	for rows.Next() {
		var field, value string

		err = rows.Scan(&field, &value)
		if err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}

		out[field] = value
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}

	return out, nil
}

func (s *Store) writeFields(ctx context.Context, tx *sql.Tx, userID string, fields map[string]any) error {
	now := s.now().UnixMilli()

	for field, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", field, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_fields (user_id, field, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, field) DO UPDATE
			SET value = excluded.value, updated_at = excluded.updated_at
		`, userID, field, string(raw), now)
		if err != nil {
			return fmt.Errorf("write %s: %w", field, err)
		}
	}

	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			rbErr := tx.Rollback()
			if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	err = fn(tx)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func decodeSnapshot(rows map[string]string) (wallet.LocalSnapshot, error) {
	var snap wallet.LocalSnapshot

	if raw, ok := rows[fieldBalance]; ok {
		err := json.Unmarshal([]byte(raw), &snap.Balance)
		if err != nil {
			return wallet.LocalSnapshot{}, fmt.Errorf("decode %s: %w", fieldBalance, err)
		}
	}

	if raw, ok := rows[fieldTransactions]; ok {
		err := json.Unmarshal([]byte(raw), &snap.Transactions)
		if err != nil {
			return wallet.LocalSnapshot{}, fmt.Errorf("decode %s: %w", fieldTransactions, err)
		}
	}

	if raw, ok := rows[fieldPendingSync]; ok {
		err := json.Unmarshal([]byte(raw), &snap.PendingSync)
		if err != nil {
			return wallet.LocalSnapshot{}, fmt.Errorf("decode %s: %w", fieldPendingSync, err)
		}
	}

	if raw, ok := rows[fieldLastSyncAt]; ok {
		var ms int64

		err := json.Unmarshal([]byte(raw), &ms)
		if err != nil {
			return wallet.LocalSnapshot{}, fmt.Errorf("decode %s: %w", fieldLastSyncAt, err)
		}
		if ms > 0 {
			snap.LastSyncAt = time.UnixMilli(ms)
		}
	}

	return snap, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}
