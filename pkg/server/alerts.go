package server

import (
	"net/http"
	"time"
)

// handleListAlerts returns alerts for a microgrid, optionally filtered by a
// "since" RFC3339 query parameter. Without the filter the last 24 hours are
// returned.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	since := s.now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = t
	}
	alerts, err := s.repo.AlertsSince(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, alerts, http.StatusOK)
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.AcknowledgeAlert(r.Context(), r.PathValue("id"), s.now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct {
		Acknowledged bool `json:"acknowledged"`
	}{Acknowledged: true}, http.StatusOK)
}
