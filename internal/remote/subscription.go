package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/fastprodman/pointsync/internal/wallet"
	"github.com/fastprodman/pointsync/internal/wire"
)

// Subscribe opens the snapshot stream of userID. The server pushes a full
// snapshot on connect and after every change.
func (c *Client) Subscribe(ctx context.Context, userID string, limit int) (wallet.Subscription, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	target, err := streamURL(c.ledgerURL(userID, "stream", q))
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)

	conn, _, err := websocket.Dial(sctx, target, &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: dial stream: %w", ErrUnavailable, err)
	}

	sub := &subscription{
		conn:   conn,
		cancel: cancel,
		events: make(chan wallet.SnapshotEvent, 1),
		done:   make(chan struct{}),
	}

	go sub.readLoop(sctx)

	return sub, nil
}

type subscription struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	events chan wallet.SnapshotEvent
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan wallet.SnapshotEvent {
	return s.events
}

// Close ends the stream and waits for the reader to exit. Events is closed
// afterwards.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})

	return nil
}

func (s *subscription) readLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	defer s.conn.CloseNow()

	for {
		var snap wire.Snapshot

		err := wsjson.Read(ctx, s.conn, &snap)
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				return
			}

			s.send(ctx, wallet.SnapshotEvent{Err: fmt.Errorf("read stream: %w", err)})

			return
		}

		if !s.send(ctx, wallet.SnapshotEvent{Snapshot: fromWireSnapshot(snap)}) {
			return
		}
	}
}

func (s *subscription) send(ctx context.Context, ev wallet.SnapshotEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func isClosed(err error) bool {
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		errors.Is(err, net.ErrClosed)
}

func streamURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	return u.String(), nil
}
