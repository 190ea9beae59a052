// Package http exposes the operator surface of the sync engine: reindex
// control and the dead-letter queue, plus health and metrics endpoints.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/internal/repository"
	"github.com/utafrali/searchsync/internal/service"
	"github.com/utafrali/searchsync/pkg/httputil"
	"github.com/utafrali/searchsync/pkg/pagination"
)

// AdminHandler handles operator requests for reindex jobs and dead letters.
type AdminHandler struct {
	reindex     *service.ReindexService
	deadLetters *service.DeadLetterService
	logger      *slog.Logger
}

// NewAdminHandler creates a new admin HTTP handler.
func NewAdminHandler(reindex *service.ReindexService, deadLetters *service.DeadLetterService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		reindex:     reindex,
		deadLetters: deadLetters,
		logger:      logger,
	}
}

// --- Response DTOs ---

// ReindexJobResponse is the JSON shape of a reindex job on the admin API.
type ReindexJobResponse struct {
	JobID       string    `json:"job_id"`
	Alias       string    `json:"alias"`
	SourceIndex string    `json:"source_index"`
	TargetIndex string    `json:"target_index"`
	State       string    `json:"state"`
	FailedFrom  string    `json:"failed_from,omitempty"`
	Checkpoint  string    `json:"checkpoint,omitempty"`
	DocsCopied  int64     `json:"docs_copied"`
	DocsSynced  int64     `json:"docs_synced"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toReindexJobResponse(j *domain.ReindexJob) ReindexJobResponse {
	return ReindexJobResponse{
		JobID:       j.ID,
		Alias:       j.Alias,
		SourceIndex: j.SourceIndex,
		TargetIndex: j.TargetIndex,
		State:       string(j.State),
		FailedFrom:  string(j.FailedFrom),
		Checkpoint:  j.Checkpoint,
		DocsCopied:  j.DocsCopied,
		DocsSynced:  j.DocsSynced,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// --- Reindex Handlers ---

// StartReindex handles POST /api/v1/admin/reindex
func (h *AdminHandler) StartReindex(w http.ResponseWriter, r *http.Request) {
	job, err := h.reindex.Start(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: toReindexJobResponse(job)})
}

// GetReindexJob handles GET /api/v1/admin/reindex/{id}
func (h *AdminHandler) GetReindexJob(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	job, err := h.reindex.Status(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toReindexJobResponse(job)})
}

// ListReindexJobs handles GET /api/v1/admin/reindex
func (h *AdminHandler) ListReindexJobs(w http.ResponseWriter, r *http.Request) {
	p := pagination.FromRequest(r)

	jobs, total, err := h.reindex.List(r.Context(), p.Page, p.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	out := make([]ReindexJobResponse, len(jobs))
	for i := range jobs {
		out[i] = toReindexJobResponse(&jobs[i])
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(out, total, p.Page, p.PerPage))
}

// ResumeReindexJob handles POST /api/v1/admin/reindex/{id}/resume
func (h *AdminHandler) ResumeReindexJob(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	job, err := h.reindex.Resume(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: toReindexJobResponse(job)})
}

// AbandonReindexJob handles POST /api/v1/admin/reindex/{id}/abandon
func (h *AdminHandler) AbandonReindexJob(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	job, err := h.reindex.Abandon(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toReindexJobResponse(job)})
}

// --- Dead-Letter Handlers ---

// ListDeadLetters handles GET /api/v1/admin/dead-letters
func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	p := pagination.FromRequest(r)
	filter := repository.DeadLetterFilter{Page: p.Page, PerPage: p.PerPage}

	if v := r.URL.Query().Get("topic"); v != "" {
		filter.Topic = &v
	}
	if v := r.URL.Query().Get("error_class"); v != "" {
		switch domain.ErrorClass(v) {
		case domain.ErrorClassPermanent, domain.ErrorClassTransient, domain.ErrorClassConflict:
			filter.ErrorClass = &v
		default:
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{
					Code:    "INVALID_PARAMETER",
					Message: "error_class must be one of: permanent, transient, conflict",
				},
			})
			return
		}
	}
	if v := r.URL.Query().Get("replayed"); v != "" {
		switch v {
		case "true":
			yes := true
			filter.Replayed = &yes
		case "false":
			no := false
			filter.Replayed = &no
		default:
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "replayed must be true or false"},
			})
			return
		}
	}

	events, total, err := h.deadLetters.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(events, total, p.Page, p.PerPage))
}

// CountDeadLetters handles GET /api/v1/admin/dead-letters/count
func (h *AdminHandler) CountDeadLetters(w http.ResponseWriter, r *http.Request) {
	count, err := h.deadLetters.Count(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]int64{"count": count}})
}

// ReplayDeadLetter handles POST /api/v1/admin/dead-letters/{eventId}/replay
//
// The event id is not required to be a UUID: envelopes that failed to
// parse are stored under a topic:partition:offset identity, and replaying
// one of those must reach the service to earn its proper error.
func (h *AdminHandler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	if err := h.deadLetters.Replay(r.Context(), eventID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"event_id": eventID, "status": "replayed"},
	})
}
