package ledger

import (
	"errors"
	"fmt"

	"github.com/fastprodman/pointsync/internal/repos/transactions"
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

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Mutation is a signed balance change requested by a client. IdempotencyKey
// is optional; when set, a second commit with the same key is reported as
// ErrDuplicateTransaction and has no effect.
type Mutation struct {
	Amount         int64
	Description    string
	Type           TxType
	GameID         string
	ReferralID     string
	IdempotencyKey string
}

func (m Mutation) validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMutation, m.Type)
	}

	if m.GameID != "" && m.ReferralID != "" {
		return fmt.Errorf("%w: gameId and referralId are exclusive", ErrInvalidMutation)
	}

	return nil
}

func (m Mutation) record(userID string) transactions.Record {
	return transactions.Record{
		UserID:         userID,
		Type:           string(m.Type),
		Amount:         m.Amount,
		Description:    m.Description,
		GameID:         m.GameID,
		ReferralID:     m.ReferralID,
		IdempotencyKey: m.IdempotencyKey,
	}
}

// Result is the outcome of a committed mutation.
type Result struct {
	Balance int64
	Record  transactions.Record
}

// Page is a slice of the transaction log, newest first.
type Page struct {
	Records    []transactions.Record
	NextCursor string
	HasMore    bool
}

// Snapshot is the full authoritative state of one ledger.
type Snapshot struct {
	UserID  string
	Balance int64
	Page
}

var (
	ErrInvalidMutation      = errors.New("invalid mutation")
	ErrInvalidCursor        = errors.New("invalid cursor")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)
