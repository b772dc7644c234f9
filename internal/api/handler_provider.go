package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fastprodman/pointsync/internal/repos/ledgers"
	"github.com/fastprodman/pointsync/internal/repos/transactions"
	"github.com/fastprodman/pointsync/internal/services/ledger"
	"github.com/fastprodman/pointsync/internal/wire"
	"github.com/go-chi/chi/v5"
)

const maxUserIDLen = 128

// LedgerService is the slice of ledger.LedgerService the HTTP layer needs.
type LedgerService interface {
	Commit(ctx context.Context, userID string, m ledger.Mutation) (ledger.Result, error)
	Append(ctx context.Context, userID string, m ledger.Mutation) (ledger.Result, error)
	Page(ctx context.Context, userID string, limit int, before string) (ledger.Page, error)
	Snapshot(ctx context.Context, userID string, limit int) (ledger.Snapshot, error)
}

// HandlerProvider wraps a LedgerService and exposes HTTP handlers.
type HandlerProvider struct {
	svc    LedgerService
	hub    Subscriber
	logger *slog.Logger

	// origins are the websocket origin patterns accepted by the stream.
	origins []string
}

// NewHandler returns a new Handler provider.
func NewHandler(svc LedgerService, hub Subscriber, origins []string) *HandlerProvider {
	return &HandlerProvider{
		svc:     svc,
		hub:     hub,
		logger:  slog.Default().With("component", "api"),
		origins: origins,
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.ErrorResponse{Error: msg})
}

// parseUserIDFromPath reads `{userId}` from chi routes like:
//
//	GET  /ledgers/{userId}
//	POST /ledgers/{userId}/mutations
//
// chi matches on the escaped path, so the param is unescaped here.
func parseUserIDFromPath(r *http.Request) (string, error) {
	id, err := url.PathUnescape(chi.URLParam(r, "userId"))
	if err != nil {
		return "", fmt.Errorf("invalid userId: %w", err)
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("missing userId")
	}
	if len(id) > maxUserIDLen {
		return "", fmt.Errorf("invalid userId: longer than %d", maxUserIDLen)
	}

	return id, nil
}

// parseLimit reads ?limit=N. Missing means 0, which the service treats as
// its default page size.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}

	return n, nil
}

func decodeMutation(w http.ResponseWriter, r *http.Request) (ledger.Mutation, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB cap
	defer r.Body.Close()

	var req wire.MutationRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(&req)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ledger.Mutation{}, fmt.Errorf("empty body")
		}

		return ledger.Mutation{}, fmt.Errorf("invalid JSON")
	}

	return ledger.Mutation{
		Amount:         req.Amount,
		Description:    req.Description,
		Type:           ledger.TxType(strings.ToLower(strings.TrimSpace(req.Type))),
		GameID:         req.GameID,
		ReferralID:     req.ReferralID,
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

func toWireTransaction(rec transactions.Record) wire.Transaction {
	return wire.Transaction{
		ID:          rec.ID.String(),
		Type:        rec.Type,
		Amount:      rec.Amount,
		Description: rec.Description,
		Timestamp:   rec.CreatedAt.UTC(),
		GameID:      rec.GameID,
		ReferralID:  rec.ReferralID,
	}
}

func toWirePage(p ledger.Page) wire.Page {
	out := wire.Page{
		Transactions: make([]wire.Transaction, 0, len(p.Records)),
		NextCursor:   p.NextCursor,
		HasMore:      p.HasMore,
	}
	for _, rec := range p.Records {
		out.Transactions = append(out.Transactions, toWireTransaction(rec))
	}

	return out
}

func toWireSnapshot(s ledger.Snapshot) wire.Snapshot {
	return wire.Snapshot{UserID: s.UserID, Balance: s.Balance, Page: toWirePage(s.Page)}
}

// writeServiceError maps domain errors onto status codes.
func (h *HandlerProvider) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidMutation), errors.Is(err, ledger.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, wire.ErrMsgInsufficientFunds)
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		writeError(w, http.StatusConflict, wire.ErrMsgDuplicate)
	case errors.Is(err, ledgers.ErrLedgerNotFound):
		writeError(w, http.StatusNotFound, wire.ErrMsgLedgerNotFound)
	default:
		h.logger.Error("ledger request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// --- Handlers ---

// GetSnapshotHandler handles GET /ledgers/{userId}?limit=N
func (h *HandlerProvider) GetSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.svc.Snapshot(r.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWireSnapshot(snap))
}

// CommitMutationHandler handles POST /ledgers/{userId}/mutations
func (h *HandlerProvider) CommitMutationHandler(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, h.svc.Commit)
}

// AppendTransactionHandler handles POST /ledgers/{userId}/transactions
func (h *HandlerProvider) AppendTransactionHandler(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, h.svc.Append)
}

type writeFunc func(ctx context.Context, userID string, m ledger.Mutation) (ledger.Result, error)

func (h *HandlerProvider) handleWrite(w http.ResponseWriter, r *http.Request, fn writeFunc) {
	userID, err := parseUserIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	m, err := decodeMutation(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := fn(r.Context(), userID, m)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, wire.MutationResponse{
		Balance:     res.Balance,
		Transaction: toWireTransaction(res.Record),
	})
}

// ListTransactionsHandler handles GET /ledgers/{userId}/transactions?limit=N&before=ID
func (h *HandlerProvider) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.svc.Page(r.Context(), userID, limit, r.URL.Query().Get("before"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWirePage(page))
}
