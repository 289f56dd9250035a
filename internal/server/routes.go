package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ahmethakanbesel/quotekeeper/internal/job"
	"github.com/ahmethakanbesel/quotekeeper/internal/quote"
)

// Services are the collaborators the HTTP API exposes.
type Services struct {
	Quotes    *quote.Service
	Scheduler *job.Scheduler
	Runs      *job.Service
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(svc Services) http.Handler {
	h := &handler{
		quotes:    svc.Quotes,
		scheduler: svc.Scheduler,
		runs:      svc.Runs,
	}

	r := chi.NewRouter()
	r.Use(recovery, requestID, logging)

	r.Get("/health", h.health)
	if svc.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", svc.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/instruments", h.listInstruments)
		r.Get("/quotes/{entity}", h.getLatest)
		r.Get("/quotes/{entity}/history", h.getHistory)
		r.Post("/quotes/{entity}/resolve", h.resolve)

		r.Get("/scheduler", h.schedulerStatus)
		r.Post("/scheduler/{job}/run", h.runJob)
		r.Get("/runs", h.listRuns)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
