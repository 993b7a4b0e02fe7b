package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/railguard/internal/ledger"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// trigger, if non-nil, is exposed as POST /runs.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(runs ledger.Store, trigger RunFunc, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(runs, trigger)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Run history.
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/{id}", h.GetRun)
	if trigger != nil {
		r.Post("/runs", h.TriggerRun)
	}

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
