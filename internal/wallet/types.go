package wallet

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type TxType string

const (
	TxEarn     TxType = "earn"
	TxSpend    TxType = "spend"
	TxReferral TxType = "referral"
	TxBonus    TxType = "bonus"
)

func (t TxType) Valid() bool {
	switch t {
	case TxEarn, TxSpend, TxReferral, TxBonus:
		return true
	default:
		return false
	}
}

// DefaultType is the type used when a mutation does not name one.
func DefaultType(amount int64) TxType {
	if amount > 0 {
		return TxEarn
	}

	return TxSpend
}

// ExtraKind tags the reference carried by Extras.
type ExtraKind string

const (
	ExtraNone     ExtraKind = ""
	ExtraGame     ExtraKind = "game"
	ExtraReferral ExtraKind = "referral"
)

// Extras optionally ties a mutation to the game or referral that produced it.
// At most one reference is carried.
type Extras struct {
	Kind ExtraKind `json:"kind,omitempty"`
	Ref  string    `json:"ref,omitempty"`
}

func GameRef(gameID string) Extras { return Extras{Kind: ExtraGame, Ref: gameID} }

func ReferralRef(referralID string) Extras { return Extras{Kind: ExtraReferral, Ref: referralID} }

func (e Extras) GameID() string {
	if e.Kind == ExtraGame {
		return e.Ref
	}

	return ""
}

func (e Extras) ReferralID() string {
	if e.Kind == ExtraReferral {
		return e.Ref
	}

	return ""
}

const (
	LocalIDPrefix = "local_"
	SyncIDPrefix  = "sync_"
)

// Transaction is an immutable ledger entry. Entries created on this device
// carry a LocalIDPrefix id until a remote snapshot supersedes them.
type Transaction struct {
	ID          string    `json:"id"`
	Type        TxType    `json:"type"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	GameID      string    `json:"gameId,omitempty"`
	ReferralID  string    `json:"referralId,omitempty"`
}

func (t Transaction) IsLocal() bool {
	return strings.HasPrefix(t.ID, LocalIDPrefix)
}

// Mutation is a signed balance change. An empty Type defaults to
// DefaultType(Amount).
type Mutation struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Type        TxType `json:"type"`
	Extras      Extras `json:"extras"`
}

func (m Mutation) normalize() (Mutation, error) {
	if m.Type == "" {
		m.Type = DefaultType(m.Amount)
	}

	if !m.Type.Valid() {
		return m, fmt.Errorf("%w: unknown type %q", ErrInvalidMutation, m.Type)
	}

	switch m.Extras.Kind {
	case ExtraNone, ExtraGame, ExtraReferral:
	default:
		return m, fmt.Errorf("%w: unknown extras kind %q", ErrInvalidMutation, m.Extras.Kind)
	}

	return m, nil
}

type PendingKind string

const (
	// KindBalanceUpdate replays through the atomic conditional update.
	KindBalanceUpdate PendingKind = "balance_update"
	// KindTransactionAdd replays through the plain transaction append.
	KindTransactionAdd PendingKind = "transaction_add"
)

// PendingSyncItem is a mutation that still has to reach the remote ledger.
// ID doubles as the idempotency key of every replay.
type PendingSyncItem struct {
	ID         string      `json:"id"`
	Kind       PendingKind `json:"kind"`
	Payload    Mutation    `json:"payload"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
	RetryCount int         `json:"retryCount"`
}

// LocalSnapshot is the persisted state of one user.
type LocalSnapshot struct {
	Balance      int64
	Transactions []Transaction // newest first
	PendingSync  []PendingSyncItem
	LastSyncAt   time.Time
}

// Patch selects the fields LocalStore.Save writes. Nil fields are left as is.
type Patch struct {
	Balance      *int64
	Transactions *[]Transaction
	PendingSync  *[]PendingSyncItem
	LastSyncAt   *time.Time
}

func (p Patch) WithBalance(b int64) Patch {
	p.Balance = &b
	return p
}

func (p Patch) WithTransactions(txs []Transaction) Patch {
	p.Transactions = &txs
	return p
}

func (p Patch) WithPendingSync(items []PendingSyncItem) Patch {
	p.PendingSync = &items
	return p
}

func (p Patch) WithLastSyncAt(t time.Time) Patch {
	p.LastSyncAt = &t
	return p
}

// Status reports how far a mutation got.
type Status string

const (
	StatusCommitted      Status = "committed"
	StatusPendingOffline Status = "pendingOffline"
	StatusPendingRetry   Status = "pendingRetry"
)

// AdvisorySavedLocally is shown whenever a mutation is queued.
const AdvisorySavedLocally = "Changes saved locally. Will sync when connection is restored."

// Result is the outcome of Engine.Mutate. Queued mutations succeed locally and
// carry an advisory.
type Result struct {
	Status      Status
	Balance     int64
	Transaction Transaction
	Advisory    string
}

// View is a point-in-time copy of the engine state.
type View struct {
	UserID       string
	Balance      int64
	Transactions []Transaction
	IsOnline     bool
	PendingCount int
	// DroppedCount counts pending items discarded after exhausting retries
	// during this session.
	DroppedCount int
	HasMore      bool
	LastSyncAt   time.Time
	Advisory     string
	// Durable is false once the local store failed and the session went
	// memory-only.
	Durable bool
	// Syncing is set while a remote commit or a drain pass is scheduled or
	// running.
	Syncing bool
}

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrInvalidMutation     = errors.New("invalid mutation")

	// ErrRemoteRejected is returned by RemoteLedger implementations when the
	// remote refused a request (4xx).
	ErrRemoteRejected = errors.New("remote rejected")
	// ErrAlreadyCommitted is returned by RemoteLedger implementations when an
	// idempotency key was already applied. The engine treats it as success.
	ErrAlreadyCommitted = errors.New("already committed")
)
