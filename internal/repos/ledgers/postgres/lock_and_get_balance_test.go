package ledgers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fastprodman/pointsync/internal/infra/pgtestutil"
	"github.com/fastprodman/pointsync/internal/repos/ledgers"
)

func TestLedgers_LockAndGetBalance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seed    int64 // -1 -> no ledger
		userID  string
		want    int64
		wantErr error
	}{
		{name: "returns_locked_balance", seed: 500, userID: "locked", want: 500},
		{name: "missing_ledger", seed: -1, userID: "ghost", wantErr: ledgers.ErrLedgerNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, cleanup := pgtestutil.NewTestDB(t)
			defer cleanup()

			if tt.seed >= 0 {
				pgtestutil.SeedLedger(t, db, tt.userID, tt.seed)
			}

			repo := New(db)

			ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
			defer cancel()

			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				t.Fatalf("begin tx: %v", err)
			}
			defer tx.Rollback()

			got, err := repo.LockAndGetBalance(ctx, tx, tt.userID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("lock and get: %v", err)
			}
			if got != tt.want {
				t.Fatalf("balance: want %d, got %d", tt.want, got)
			}
		})
	}
}
