package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const streamWriteTimeout = 5 * time.Second

// Subscriber delivers coalesced change signals per user.
type Subscriber interface {
	Subscribe(userID string) (<-chan struct{}, func())
}

// StreamHandler handles GET /ledgers/{userId}/stream?limit=N
//
// The connection receives a full snapshot right after the upgrade and another
// one after every change to the ledger. Client messages are ignored.
func (h *HandlerProvider) StreamHandler(w http.ResponseWriter, r *http.Request) {
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

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer conn.CloseNow()

	// Subscribe before the first read so no change slips between them.
	changes, cancel := h.hub.Subscribe(userID)
	defer cancel()

	ctx := conn.CloseRead(r.Context())

	logger := h.logger.With("user_id", userID)
	logger.Debug("stream opened")

	for {
		err = h.pushSnapshot(ctx, conn, userID, limit)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("stream push failed", "error", err)
				_ = conn.Close(websocket.StatusInternalError, "snapshot unavailable")
			}

			return
		}

		select {
		case <-ctx.Done():
			logger.Debug("stream closed")
			return
		case <-changes:
		}
	}
}

func (h *HandlerProvider) pushSnapshot(ctx context.Context, conn *websocket.Conn, userID string, limit int) error {
	snap, err := h.svc.Snapshot(ctx, userID, limit)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()

	return wsjson.Write(wctx, conn, toWireSnapshot(snap))
}
