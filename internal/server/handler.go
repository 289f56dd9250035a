package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ahmethakanbesel/quotekeeper/internal/apperror"
	"github.com/ahmethakanbesel/quotekeeper/internal/extract"
	"github.com/ahmethakanbesel/quotekeeper/internal/job"
	"github.com/ahmethakanbesel/quotekeeper/internal/quote"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper"
)

type handler struct {
	quotes    *quote.Service
	scheduler *job.Scheduler
	runs      *job.Service
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listInstruments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.quotes.Instruments())
}

func entityParam(r *http.Request) string {
	return strings.ToUpper(chi.URLParam(r, "entity"))
}

func (h *handler) getLatest(w http.ResponseWriter, r *http.Request) {
	q, err := h.quotes.GetLatest(r.Context(), entityParam(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	req := quote.GetHistoryRequest{
		EntityKey: entityParam(r),
		From:      r.URL.Query().Get("from"),
		To:        r.URL.Query().Get("to"),
		Format:    r.URL.Query().Get("format"),
	}
	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	quotes, err := h.quotes.GetHistory(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}

	if req.Format == "csv" {
		writeCSV(w, req.EntityKey, quotes)
		return
	}
	writeJSON(w, http.StatusOK, quote.GetHistoryResponse{EntityKey: req.EntityKey, Quotes: quotes})
}

type attemptView struct {
	Strategy   string `json:"strategy"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

type resolveResponse struct {
	Quote      *quote.Quote  `json:"quote"`
	AnsweredBy string        `json:"answeredBy"`
	Attempts   []attemptView `json:"attempts"`
}

func (h *handler) resolve(w http.ResponseWriter, r *http.Request) {
	res, err := h.quotes.Resolve(r.Context(), entityParam(r))
	if err != nil {
		fail(w, r, err)
		return
	}

	out := resolveResponse{Quote: res.Quote, AnsweredBy: res.AnsweredBy()}
	for _, a := range res.Attempts {
		v := attemptView{Strategy: a.Strategy, DurationMS: a.Duration.Milliseconds()}
		if a.Err != nil {
			v.Error = a.Err.Error()
		}
		out.Attempts = append(out.Attempts, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *handler) runJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")
	if err := h.scheduler.RunNow(name); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "started"})
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	req := job.ListRunsRequest{Job: r.URL.Query().Get("job")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// fail writes err with the status its classification maps to.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperror.From(err)
	if ae == nil {
		ae = classify(err)
	}
	if ae.Code() == apperror.Internal || ae.Code() == apperror.Unavailable {
		slog.Error("request failed", "path", r.URL.Path, "error", err) //nolint:gosec // structured logging
	}
	writeError(w, ae.HTTPStatus(), ae.Message())
}

func classify(err error) *apperror.AppError {
	switch {
	case errors.Is(err, quote.ErrUnknownInstrument),
		errors.Is(err, scraper.ErrUnknownEntity),
		errors.Is(err, quote.ErrNoData),
		errors.Is(err, job.ErrUnknownJob):
		return apperror.Wrap(apperror.NotFound, err.Error(), err)
	case errors.Is(err, job.ErrAlreadyRunning):
		return apperror.Wrap(apperror.Conflict, err.Error(), err)
	case scraper.IsAllSourcesFailed(err), errors.Is(err, extract.ErrOutOfRange):
		return apperror.Wrap(apperror.Unavailable, err.Error(), err)
	default:
		return apperror.Wrap(apperror.Internal, "internal server error", err)
	}
}
