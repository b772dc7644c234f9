package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/pointsync/internal/infra/logging"
	"github.com/jackc/pgx/v5"
)

// Notifier relays Postgres NOTIFY events on ChangesChannel into a Hub. It
// holds one dedicated connection outside the database/sql pool.
type Notifier struct {
	dsn            string
	hub            *Hub
	logger         *slog.Logger
	reconnectDelay time.Duration
}

func NewNotifier(dsn string, hub *Hub, logger *slog.Logger) *Notifier {
	return &Notifier{
		dsn:            dsn,
		hub:            hub,
		logger:         logging.OrDefault(logger).With("component", "ledger_notifier"),
		reconnectDelay: time.Second,
	}
}

// Run listens until ctx is canceled, reconnecting after connection loss.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		err := n.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}

		n.logger.Warn("notification listener dropped", "error", err, "retry_in", n.reconnectDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(n.reconnectDelay):
		}
	}
}

func (n *Notifier) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, n.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = conn.Close(cctx)
	}()

	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChangesChannel}.Sanitize())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	n.logger.Info("listening for ledger changes", "channel", ChangesChannel)

	// Changes made while disconnected were never delivered.
	n.hub.PublishAll()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return fmt.Errorf("wait for notification: %w", err)
		}

		n.hub.Publish(notification.Payload)
	}
}
