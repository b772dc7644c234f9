package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fastprodman/pointsync/internal/infra/pgtestutil"
)

func TestLedgerService_Commit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		seed        int64 // -1 -> no ledger
		mutations   []Mutation
		wantErr     error // for the last mutation
		wantBalance int64
		wantRecords int
	}{
		{
			name:        "creates_ledger_on_first_use",
			seed:        -1,
			mutations:   []Mutation{{Amount: 50, Description: "Task reward", Type: TxEarn}},
			wantBalance: 50,
			wantRecords: 1,
		},
		{
			name: "spend_within_balance",
			seed: 100,
			mutations: []Mutation{
				{Amount: 10, Description: "a", Type: TxEarn},
				{Amount: -5, Description: "b", Type: TxSpend},
			},
			wantBalance: 105,
			wantRecords: 2,
		},
		{
			name:        "insufficient_balance_no_side_effect",
			seed:        100,
			mutations:   []Mutation{{Amount: -150, Description: "Unlock item", Type: TxSpend}},
			wantErr:     ErrInsufficientFunds,
			wantBalance: 100,
			wantRecords: 0,
		},
		{
			name: "idempotency_key_replay_is_duplicate",
			seed: 0,
			mutations: []Mutation{
				{Amount: 20, Description: "Referral", Type: TxReferral, ReferralID: "r-1", IdempotencyKey: "sync_a"},
				{Amount: 20, Description: "Referral", Type: TxReferral, ReferralID: "r-1", IdempotencyKey: "sync_a"},
			},
			wantErr:     ErrDuplicateTransaction,
			wantBalance: 20,
			wantRecords: 1,
		},
		{
			name:        "unknown_type_rejected",
			seed:        0,
			mutations:   []Mutation{{Amount: 1, Type: "gift"}},
			wantErr:     ErrInvalidMutation,
			wantBalance: 0,
			wantRecords: 0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, cleanup := pgtestutil.NewTestDB(t)
			defer cleanup()

			if tt.seed >= 0 {
				pgtestutil.SeedLedger(t, db, "u", tt.seed)
			}

			svc := New(db)

			ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
			defer cancel()

			var err error
			for _, m := range tt.mutations {
				_, err = svc.Commit(ctx, "u", m)
			}

			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}

			snap, err := svc.Snapshot(ctx, "u", 20)
			if err != nil {
				t.Fatalf("snapshot: %v", err)
			}
			if snap.Balance != tt.wantBalance {
				t.Fatalf("balance: want %d, got %d", tt.wantBalance, snap.Balance)
			}
			if len(snap.Records) != tt.wantRecords {
				t.Fatalf("records: want %d, got %d", tt.wantRecords, len(snap.Records))
			}
		})
	}
}

func TestLedgerService_Commit_ReplayReturnsOriginal(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	svc := New(db)
	ctx := context.Background()

	m := Mutation{Amount: 5, Description: "Daily login", Type: TxBonus, IdempotencyKey: "sync_login"}

	first, err := svc.Commit(ctx, "u", m)
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}

	second, err := svc.Commit(ctx, "u", m)
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("want duplicate, got %v", err)
	}
	if second.Record.ID != first.Record.ID {
		t.Fatalf("replay should return original record: %s vs %s", second.Record.ID, first.Record.ID)
	}
	if second.Balance != 5 {
		t.Fatalf("replay balance: want 5, got %d", second.Balance)
	}
}

func TestLedgerService_Append_LeavesBalance(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	pgtestutil.SeedLedger(t, db, "u", 70)
	svc := New(db)
	ctx := context.Background()

	res, err := svc.Append(ctx, "u", Mutation{Amount: 30, Description: "Game win", Type: TxEarn, GameID: "g1"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if res.Balance != 70 {
		t.Fatalf("append must not touch balance: got %d", res.Balance)
	}
	if res.Record.GameID != "g1" {
		t.Fatalf("game id lost: %+v", res.Record)
	}

	bal, err := svc.GetBalance(ctx, "u")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal != 70 {
		t.Fatalf("balance changed: %d", bal)
	}
}

func TestLedgerService_Page(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	svc := New(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Commit(ctx, "u", Mutation{Amount: 1, Type: TxEarn})
		if err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	head, err := svc.Page(ctx, "u", 3, "")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if len(head.Records) != 3 || !head.HasMore || head.NextCursor != head.Records[2].ID.String() {
		t.Fatalf("unexpected head: %+v", head)
	}

	tail, err := svc.Page(ctx, "u", 3, head.NextCursor)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail.Records) != 2 || tail.HasMore {
		t.Fatalf("unexpected tail: %+v", tail)
	}
	if !tail.Records[0].CreatedAt.Before(head.Records[2].CreatedAt) &&
		!tail.Records[0].CreatedAt.Equal(head.Records[2].CreatedAt) {
		t.Fatalf("tail not older than head")
	}

	_, err = svc.Page(ctx, "u", 3, "not-a-uuid")
	if !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("want ErrInvalidCursor, got %v", err)
	}
}

func TestLedgerService_Snapshot_UnknownUser(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	snap, err := New(db).Snapshot(context.Background(), "nobody", 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Balance != 0 || len(snap.Records) != 0 || snap.HasMore {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	cases := map[int]int{-1: DefaultPageSize, 0: DefaultPageSize, 7: 7, MaxPageSize + 1: MaxPageSize}
	for in, want := range cases {
		if got := clampLimit(in); got != want {
			t.Fatalf("clampLimit(%d): want %d, got %d", in, want, got)
		}
	}
}
