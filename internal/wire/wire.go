// Package wire holds the JSON shapes exchanged between the ledger service and
// its clients.
package wire

import "time"

// Transaction is a ledger entry as served by the remote ledger. Timestamps are
// RFC 3339 (ISO-8601) with the server's clock.
type Transaction struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	GameID      string    `json:"gameId,omitempty"`
	ReferralID  string    `json:"referralId,omitempty"`
}

// MutationRequest asks for a balance change (mutations endpoint) or a plain
// log append (transactions endpoint). IdempotencyKey makes replays safe.
type MutationRequest struct {
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	Type           string `json:"type"`
	GameID         string `json:"gameId,omitempty"`
	ReferralID     string `json:"referralId,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// MutationResponse reports the committed entry and the resulting balance.
type MutationResponse struct {
	Balance     int64       `json:"balance"`
	Transaction Transaction `json:"transaction"`
}

// Page is a slice of the transaction log, newest first.
type Page struct {
	Transactions []Transaction `json:"transactions"`
	// NextCursor is the id of the oldest entry in this page; empty when the
	// page is empty.
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// Snapshot is the full authoritative state pushed on the stream endpoint.
type Snapshot struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
	Page
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Error strings shared by server and client for mapping 409 responses.
const (
	ErrMsgInsufficientFunds = "insufficient funds"
	ErrMsgDuplicate         = "duplicate transaction"
	ErrMsgLedgerNotFound    = "ledger not found"
)
