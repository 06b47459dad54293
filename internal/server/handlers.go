package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/rollup/internal/domain"
)

// handleHealth reports whether the database and job store are usable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if s.database != nil {
		if err := s.database.HealthCheck(r.Context()); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if s.store != nil {
		if _, err := s.store.Stats(r.Context(), domain.QueueRecompute); err != nil {
			checks["queue"] = err.Error()
			healthy = false
		} else {
			checks["queue"] = "ok"
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "rollup",
		"checks":  checks,
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error body. Invalid payloads map to 400.
func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if errors.Is(err, domain.ErrInvalidPayload) {
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, out interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
