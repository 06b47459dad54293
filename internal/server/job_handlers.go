package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/queue"
)

type enqueueRequest struct {
	AsOfDate    string   `json:"as_of_date"`
	MetricCodes []string `json:"metric_codes"`
}

type enqueueResponse struct {
	JobID  string `json:"job_id,omitempty"`
	Queued bool   `json:"queued"`
}

// correlationID returns the caller's X-Correlation-ID or a fresh one.
func correlationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// handleRecomputeProject enqueues a manual recompute. With metric codes it is
// partial, otherwise full.
func (s *Server) handleRecomputeProject(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	kind := domain.KindProjectRecomputeAll
	if len(req.MetricCodes) > 0 {
		kind = domain.KindProjectRecompute
	}
	s.enqueue(w, r, kind, domain.JobPayload{
		TenantID:    chi.URLParam(r, "tenantID"),
		ProjectID:   chi.URLParam(r, "projectID"),
		AsOfDate:    req.AsOfDate,
		MetricCodes: req.MetricCodes,
	})
}

// handleRollup enqueues a manual rollup of the aggregate named by param.
func (s *Server) handleRollup(kind domain.JobKind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}

		p := domain.JobPayload{TenantID: chi.URLParam(r, "tenantID"), AsOfDate: req.AsOfDate}
		if kind == domain.KindPortfolioRollup {
			p.PortfolioID = chi.URLParam(r, param)
		} else {
			p.ProgramID = chi.URLParam(r, param)
		}
		s.enqueue(w, r, kind, p)
	}
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, kind domain.JobKind, p domain.JobPayload) {
	p.Reason = domain.ReasonManual
	p.CorrelationID = correlationID(r)

	id, err := s.jobs.Enqueue(r.Context(), kind, p)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	// An empty id means the broker was unavailable; the sweep catches up.
	s.writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: id, Queued: id != ""})
}

// handleJobStatus reports whether a recompute is pending for a project.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenant, project := q.Get("tenant"), q.Get("project")
	if tenant == "" || project == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("tenant and project are required"))
		return
	}
	date := q.Get("date")
	if date == "" {
		date = domain.FormatDate(s.now())
	}

	status, err := s.jobs.GetJobStatus(r.Context(), tenant, project, date)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleQueueStats returns record counts for every queue.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	out := make(map[domain.QueueName]queue.Stats, len(domain.AllQueues))
	for _, name := range domain.AllQueues {
		stats, err := s.store.Stats(r.Context(), name)
		if err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		out[name] = stats
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleFailedJobs lists retained failed jobs of one queue, newest first.
func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	name := domain.QueueName(r.URL.Query().Get("queue"))
	if name == "" {
		name = domain.QueueRecompute
	}
	valid := false
	for _, q := range domain.AllQueues {
		valid = valid || q == name
	}
	if !valid {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown queue %q", name))
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	jobs, err := s.store.Failed(r.Context(), name, limit)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}
