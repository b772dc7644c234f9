package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs a chi router with all ledger endpoints registered.
func NewRouter(svc LedgerService, hub Subscriber, origins []string) http.Handler {
	h := NewHandler(svc, hub, origins)
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/ledgers/{userId}", func(r chi.Router) {
		r.Get("/", h.GetSnapshotHandler)
		r.Post("/mutations", h.CommitMutationHandler)
		r.Post("/transactions", h.AppendTransactionHandler)
		r.Get("/transactions", h.ListTransactionsHandler)
		r.Get("/stream", h.StreamHandler)
	})

	return r
}
