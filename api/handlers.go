package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/engine"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

type enqueueRequest struct {
	TenantID  string          `json:"tenant_id"`
	Type      job.Type        `json:"type"`
	Input     json.RawMessage `json:"input"`
	Priority  *int            `json:"priority,omitempty"`
	DedupKey  string          `json:"dedup_key,omitempty"`
	NotBefore *time.Time      `json:"not_before,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	var opts []engine.EnqueueOption
	if req.Priority != nil {
		opts = append(opts, engine.WithPriority(*req.Priority))
	}
	if req.DedupKey != "" {
		opts = append(opts, engine.WithDedupKey(req.DedupKey))
	}
	if req.NotBefore != nil {
		opts = append(opts, engine.WithNotBefore(*req.NotBefore))
	}

	j, err := s.engine.EnqueueRaw(r.Context(), req.TenantID, req.Type, req.Input, opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathJobID(w, r)
	if !ok {
		return
	}
	j, err := s.engine.GetJob(r.Context(), chi.URLParam(r, "tenantID"), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := job.ListOpts{
		Type:   job.Type(q.Get("type")),
		Status: job.Status(q.Get("status")),
		Limit:  queryInt(q.Get("limit"), 50),
		Offset: queryInt(q.Get("offset"), 0),
	}

	jobs, err := s.engine.ListJobs(r.Context(), chi.URLParam(r, "tenantID"), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathJobID(w, r)
	if !ok {
		return
	}
	if err := s.engine.Cancel(r.Context(), chi.URLParam(r, "tenantID"), jobID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathJobID(w, r)
	if !ok {
		return
	}
	if err := s.engine.Retry(r.Context(), chi.URLParam(r, "tenantID"), jobID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.engine.Counts(r.Context(), chi.URLParam(r, "tenantID"), job.CountOpts{
		Type: job.Type(r.URL.Query().Get("type")),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.engine.DLQ().List(r.Context(), dlq.ListOpts{
		TenantID: q.Get("tenant_id"),
		JobType:  job.Type(q.Get("type")),
		Limit:    queryInt(q.Get("limit"), 50),
		Offset:   queryInt(q.Get("offset"), 0),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleRequeueDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	j, err := s.engine.DLQ().Requeue(r.Context(), entryID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) pathJobID(w http.ResponseWriter, r *http.Request) (id.JobID, bool) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return id.Nil, false
	}
	return jobID, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, conveyor.ErrTenantRequired),
		errors.Is(err, conveyor.ErrUnknownJobType):
		status = http.StatusBadRequest
	case errors.Is(err, conveyor.ErrJobNotFound),
		errors.Is(err, conveyor.ErrDLQNotFound):
		status = http.StatusNotFound
	case errors.Is(err, conveyor.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, conveyor.ErrTenantThrottled):
		status = http.StatusTooManyRequests
	default:
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
