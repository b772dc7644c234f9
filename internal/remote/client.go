// Package remote talks to the ledger service over HTTP and WebSocket.
package remote

import (
	"bytes"
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
	"time"

	"github.com/fastprodman/pointsync/internal/infra/logging"
	"github.com/fastprodman/pointsync/internal/wallet"
	"github.com/fastprodman/pointsync/internal/wire"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxErrorBody          = 4 << 10
)

// ErrUnavailable wraps transport failures and 5xx responses.
var ErrUnavailable = errors.New("remote ledger unavailable")

// Client implements wallet.RemoteLedger against the ledger service API.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

var _ wallet.RemoteLedger = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the transport. The client must not set Timeout;
// WebSocket dials refuse such clients. Use WithRequestTimeout instead.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the service rooted at baseURL (http or https).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base:    u,
		http:    &http.Client{},
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger).With("component", "remote_ledger")

	return c, nil
}

func (c *Client) Commit(ctx context.Context, userID, key string, m wallet.Mutation) (wallet.CommitResult, error) {
	return c.write(ctx, userID, "mutations", key, m)
}

func (c *Client) Append(ctx context.Context, userID, key string, m wallet.Mutation) (wallet.CommitResult, error) {
	return c.write(ctx, userID, "transactions", key, m)
}

func (c *Client) Page(ctx context.Context, userID string, limit int, before string) (wallet.Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != "" {
		q.Set("before", before)
	}

	var out wire.Page

	err := c.do(ctx, http.MethodGet, c.ledgerURL(userID, "transactions", q), nil, &out)
	if err != nil {
		return wallet.Page{}, fmt.Errorf("page %s: %w", userID, err)
	}

	return fromWirePage(out), nil
}

func (c *Client) Snapshot(ctx context.Context, userID string, limit int) (wallet.RemoteSnapshot, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var out wire.Snapshot

	err := c.do(ctx, http.MethodGet, c.ledgerURL(userID, "", q), nil, &out)
	if err != nil {
		return wallet.RemoteSnapshot{}, fmt.Errorf("snapshot %s: %w", userID, err)
	}

	return fromWireSnapshot(out), nil
}

func (c *Client) write(ctx context.Context, userID, endpoint, key string, m wallet.Mutation) (wallet.CommitResult, error) {
	req := wire.MutationRequest{
		Amount:         m.Amount,
		Description:    m.Description,
		Type:           string(m.Type),
		GameID:         m.Extras.GameID(),
		ReferralID:     m.Extras.ReferralID(),
		IdempotencyKey: key,
	}

	var out wire.MutationResponse

	err := c.do(ctx, http.MethodPost, c.ledgerURL(userID, endpoint, nil), req, &out)
	if err != nil {
		return wallet.CommitResult{}, fmt.Errorf("%s %s: %w", endpoint, key, err)
	}

	return wallet.CommitResult{
		Balance:     out.Balance,
		Transaction: fromWireTransaction(out.Transaction),
	}, nil
}

// ledgerURL builds /ledgers/{userID}[/endpoint]?q on the base URL.
func (c *Client) ledgerURL(userID, endpoint string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/ledgers/" + url.PathEscape(userID)
	u.RawPath = c.base.EscapedPath() + "/ledgers/" + url.PathEscape(userID)
	if endpoint != "" {
		u.Path += "/" + endpoint
		u.RawPath += "/" + endpoint
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// statusError maps a non-200 response. A duplicate idempotency key is
// ErrAlreadyCommitted, other 4xx are ErrRemoteRejected, 5xx ErrUnavailable.
func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var er wire.ErrorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		msg = er.Error
	}

	switch {
	case resp.StatusCode == http.StatusConflict && msg == wire.ErrMsgDuplicate:
		return wallet.ErrAlreadyCommitted
	case resp.StatusCode == http.StatusConflict && msg == wire.ErrMsgInsufficientFunds:
		return fmt.Errorf("%w: %w", wallet.ErrRemoteRejected, wallet.ErrInsufficientBalance)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d: %s", wallet.ErrRemoteRejected, resp.StatusCode, msg)
	default:
		c.logger.Debug("remote error response", "status", resp.StatusCode, "body", msg)
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, msg)
	}
}

func fromWireTransaction(t wire.Transaction) wallet.Transaction {
	return wallet.Transaction{
		ID:          t.ID,
		Type:        wallet.TxType(t.Type),
		Amount:      t.Amount,
		Description: t.Description,
		Timestamp:   t.Timestamp,
		GameID:      t.GameID,
		ReferralID:  t.ReferralID,
	}
}

func fromWirePage(p wire.Page) wallet.Page {
	txs := make([]wallet.Transaction, 0, len(p.Transactions))
	for _, t := range p.Transactions {
		txs = append(txs, fromWireTransaction(t))
	}

	return wallet.Page{Transactions: txs, NextCursor: p.NextCursor, HasMore: p.HasMore}
}

func fromWireSnapshot(s wire.Snapshot) wallet.RemoteSnapshot {
	return wallet.RemoteSnapshot{Balance: s.Balance, Page: fromWirePage(s.Page)}
}
