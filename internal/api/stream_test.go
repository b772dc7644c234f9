package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/fastprodman/pointsync/internal/wire"
)

func TestStreamHandler_PushesSnapshots(t *testing.T) {
	t.Parallel()

	srv, svc, hub := newTestServer(t)
	svc.balances["u1"] = 100

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ledgers/u1/stream?limit=5"

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snap wire.Snapshot
	if err := wsjson.Read(ctx, conn, &snap); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if snap.UserID != "u1" || snap.Balance != 100 || len(snap.Transactions) != 0 {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}

	// Wait for the handler to register before committing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("u1") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	code, raw := postJSON(t, srv.URL+"/ledgers/u1/mutations", `{"amount":-40,"type":"spend","description":"Unlock item"}`)
	if code != http.StatusOK {
		t.Fatalf("commit: %d (%s)", code, raw)
	}

	if err := wsjson.Read(ctx, conn, &snap); err != nil {
		t.Fatalf("read after change: %v", err)
	}
	if snap.Balance != 60 || len(snap.Transactions) != 1 || snap.Transactions[0].Amount != -40 {
		t.Fatalf("unexpected pushed snapshot: %+v", snap)
	}
}

func TestStreamHandler_ReleasesSubscription(t *testing.T) {
	t.Parallel()

	srv, _, hub := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ledgers/u2/stream"

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var snap wire.Snapshot
	if err := wsjson.Read(ctx, conn, &snap); err != nil {
		t.Fatalf("read initial: %v", err)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("u2") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription not released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
