package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/events"
)

type emitRequest struct {
	Event         string         `json:"event"`
	Payload       events.Payload `json:"payload"`
	CorrelationID string         `json:"correlation_id"`
}

// handleEmitEvent maps a domain event onto recompute and rollup jobs.
func (s *Server) handleEmitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Event == "" || req.Payload.TenantID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("event and payload.tenant_id are required"))
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = correlationID(r)
	}

	emitted, err := s.events.Emit(r.Context(), req.Event, req.Payload, req.CorrelationID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, emitted)
}

type snapshotResponse struct {
	ScopeType     domain.ScopeType `json:"scope_type"`
	ScopeID       string           `json:"scope_id"`
	AsOfDate      string           `json:"as_of_date"`
	MetricCode    string           `json:"metric_code"`
	Value         float64          `json:"value"`
	ValueDetail   json.RawMessage  `json:"value_detail,omitempty"`
	InputHash     string           `json:"input_hash"`
	EngineVersion string           `json:"engine_version"`
	ComputedAt    string           `json:"computed_at"`
}

// handleListSnapshots returns the snapshots of one scope and date.
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scopeType := domain.ScopeType(q.Get("scope_type"))
	switch scopeType {
	case domain.ScopeProject, domain.ScopePortfolio, domain.ScopeProgram:
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid scope_type %q", scopeType))
		return
	}
	scopeID := q.Get("scope_id")
	if scopeID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("scope_id is required"))
		return
	}
	date := q.Get("date")
	if date == "" {
		date = domain.FormatDate(s.now())
	}

	snaps, err := s.snapshots.ListSnapshots(r.Context(), chi.URLParam(r, "tenantID"), scopeType, scopeID, date)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]snapshotResponse, len(snaps))
	for i, snap := range snaps {
		out[i] = snapshotResponse{
			ScopeType:     snap.ScopeType,
			ScopeID:       snap.ScopeID,
			AsOfDate:      snap.AsOfDate,
			MetricCode:    snap.MetricCode,
			Value:         snap.Value,
			ValueDetail:   snap.ValueDetail,
			InputHash:     snap.InputHash,
			EngineVersion: snap.EngineVersion,
			ComputedAt:    snap.ComputedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleListFlags returns the effective value of every flag.
func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.flags.Snapshot())
}

// handleSetFlag overrides one flag until the flags file is next reloaded.
func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	known := false
	for _, f := range domain.AllFlags {
		known = known || f == name
	}
	if !known {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown flag %q", name))
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("body must be {\"enabled\": bool}"))
		return
	}

	s.flags.Set(name, *req.Enabled)
	s.log.Info().Str("flag", name).Bool("enabled", *req.Enabled).Msg("Flag overridden")
	s.writeJSON(w, http.StatusOK, map[string]bool{name: *req.Enabled})
}
