package server

import (
	"encoding/json"
	"net/http"

	"github.com/suryadrishti/suryadrishti/pkg/devices"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.repo.LoadConfig(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, cfg, http.StatusOK)
}

// handlePutConfig replaces the system configuration. The path's microgrid ID
// is authoritative; the body may omit it.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg types.SystemConfiguration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cfg.MicrogridID = r.PathValue("id")
	if err := cfg.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.repo.SaveConfig(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, cfg, http.StatusOK)
}

func (s *Server) handleGetDevices(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	fleet, err := s.repo.LoadDevices(r.Context(), r.PathValue("id"), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, fleet, http.StatusOK)
}

func (s *Server) handlePutDevices(w http.ResponseWriter, r *http.Request) {
	var fleet []types.Device
	if err := json.NewDecoder(r.Body).Decode(&fleet); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := devices.ValidateFleet(fleet); err != nil {
		writeError(w, err)
		return
	}
	if err := s.repo.SaveDevices(r.Context(), r.PathValue("id"), fleet); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, fleet, http.StatusOK)
}
