package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/railguard/internal/apperr"
	"github.com/starford/railguard/internal/ledger"
	"github.com/starford/railguard/internal/pipeline"
)

// RunFunc starts one pipeline run over the served project.
type RunFunc func(ctx context.Context) (*pipeline.Result, error)

// Handler holds API route handlers.
type Handler struct {
	runs    ledger.Store
	trigger RunFunc
}

// NewHandler creates a new Handler.
func NewHandler(runs ledger.Store, trigger RunFunc) *Handler {
	return &Handler{runs: runs, trigger: trigger}
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List pipeline runs, newest first
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	RunListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	runs, total, err := h.runs.ListRuns(r.Context(), limit, offset)
	if err != nil {
		slog.Error("list runs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: total})
}

// GetRun handles GET /api/runs/{id}.
//
//	@Summary		Get one run with its classes and writes
//	@Tags			runs
//	@Produce		json
//	@Param			id	path		string	true	"Run ID"
//	@Success		200	{object}	RunDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get run failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// TriggerRun handles POST /api/runs.
//
//	@Summary		Run the pipeline now
//	@Tags			runs
//	@Produce		json
//	@Success		201	{object}	RunResult
//	@Failure		422	{object}	RunResult
//	@Security		BearerAuth
//	@Router			/runs [post]
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	res, err := h.trigger(r.Context())
	if res == nil {
		msg := "run did not start"
		if err != nil {
			msg = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, errorBody(msg))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
