package api

import (
	"fmt"
	"net/http"
	"time"
)

// NewServer creates and returns a configured *http.Server for the ledger API.
// Only header reads are bounded here: stream connections are long-lived and
// bound their own writes.
func NewServer(port uint16, svc LedgerService, hub Subscriber, origins []string) *http.Server {
	mux := NewRouter(svc, hub, origins)

	addr := fmt.Sprintf(":%d", port)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
