package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/suryadrishti/suryadrishti/pkg/alerts"
	"github.com/suryadrishti/suryadrishti/pkg/engine"
	"github.com/suryadrishti/suryadrishti/pkg/forecast"
	"github.com/suryadrishti/suryadrishti/pkg/log"
	"github.com/suryadrishti/suryadrishti/pkg/metrics"
	"github.com/suryadrishti/suryadrishti/pkg/storage"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// RunScheduleRequest is the optional body of a schedule run. Zero values fall
// back to server defaults.
type RunScheduleRequest struct {
	HorizonHours  int   `json:"horizon_hours,omitempty"`
	GridAvailable *bool `json:"grid_available,omitempty"`
	AllowStale    *bool `json:"allow_stale,omitempty"`
}

// RunScheduleResponse carries the persisted schedule together with the
// forecast verdict and the alerts raised by the run.
type RunScheduleResponse struct {
	Schedule   types.Schedule          `json:"schedule"`
	Validation types.ValidationVerdict `json:"validation"`
	Alerts     []types.Alert           `json:"alerts"`
}

// handleRunSchedule executes the full cycle for one microgrid: fetch inputs,
// adapt and validate the forecast, run the engine, derive metrics and alerts,
// and persist the results. The whole cycle holds the per-microgrid lock so
// the SOC read and the schedule written from it stay consistent.
func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	microgridID := r.PathValue("id")

	var req RunScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	horizon := req.HorizonHours
	if horizon == 0 {
		horizon = s.horizonHours
	}
	if horizon < 1 || horizon > 48 {
		writeJSONError(w, "horizon_hours must be within 1-48", http.StatusBadRequest)
		return
	}
	gridAvailable := true
	if req.GridAvailable != nil {
		gridAvailable = *req.GridAvailable
	}
	allowStale := s.allowStale
	if req.AllowStale != nil {
		allowStale = *req.AllowStale
	}

	var resp RunScheduleResponse
	err := s.repo.WithLock(ctx, microgridID, func(ctx context.Context) error {
		var err error
		resp, err = s.runSchedule(ctx, microgridID, horizon, gridAvailable, allowStale)
		return err
	})
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "schedule run failed",
			slog.String("microgridID", microgridID), slog.Any("error", err))
		writeError(w, err)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

func (s *Server) runSchedule(ctx context.Context, microgridID string, horizon int, gridAvailable, allowStale bool) (RunScheduleResponse, error) {
	var resp RunScheduleResponse

	cfg, err := s.repo.LoadConfig(ctx, microgridID)
	if err != nil {
		return resp, err
	}
	fleet, err := s.repo.LoadDevices(ctx, microgridID, true)
	if err != nil {
		return resp, err
	}

	now := s.now()
	initialSOC := (cfg.BatteryMinSOC + cfg.BatteryMaxSOC) / 2
	reading, err := s.repo.LoadLatestSOC(ctx, microgridID)
	switch {
	case errors.Is(err, storage.ErrReadingNotFound):
		log.Ctx(ctx).WarnContext(ctx, "no sensor reading, assuming midpoint SOC",
			slog.String("microgridID", microgridID))
	case err != nil:
		return resp, err
	default:
		initialSOC = reading.SOC
		if initialSOC < cfg.BatteryMinSOC {
			initialSOC = cfg.BatteryMinSOC
		}
		if initialSOC > cfg.BatteryMaxSOC {
			initialSOC = cfg.BatteryMaxSOC
		}
	}

	raw, stale, err := s.forecasts.FetchAllowStale(ctx, microgridID, cfg.Location, horizon, allowStale)
	if err != nil {
		return resp, err
	}
	series, err := forecast.Adapt(raw, cfg.Location, now, horizon, cfg.CapacityKW, forecast.DefaultLossFactors)
	if err != nil {
		return resp, err
	}
	series.Stale = stale

	// The validator is advisory: an implausible forecast becomes an alert,
	// not a refusal to schedule.
	verdict, err := forecast.Validate(series, cfg.Location, cfg.CapacityKW)
	if err != nil {
		return resp, err
	}

	result, err := s.engine.Run(ctx, engine.Request{
		MicrogridID:   microgridID,
		Date:          now,
		Series:        series,
		Devices:       fleet,
		Config:        cfg,
		InitialSOC:    initialSOC,
		GridAvailable: gridAvailable,
	})
	if err != nil {
		return resp, err
	}

	m, auditWarnings := metrics.Compute(result.Schedule.Buckets, series, cfg)
	result.Schedule.Metrics = m
	result.Schedule.Warnings = append(result.Schedule.Warnings, auditWarnings...)
	result.Schedule.CreatedAt = now

	raised := alerts.Evaluate(alerts.Input{
		MicrogridID: microgridID,
		Series:      series,
		Result:      result,
		Verdict:     verdict,
		Config:      cfg,
		Now:         now,
	})

	if err := s.repo.SaveSchedule(ctx, result.Schedule); err != nil {
		return resp, err
	}
	// alerts follow the schedule so readers never observe alerts for a
	// schedule that was not stored
	if err := s.repo.AppendAlerts(ctx, raised); err != nil {
		return resp, err
	}

	log.Ctx(ctx).InfoContext(ctx, "schedule run complete",
		slog.String("microgridID", microgridID),
		slog.String("date", result.Schedule.Date),
		slog.Int("buckets", len(result.Schedule.Buckets)),
		slog.Int("alerts", len(raised)),
		slog.Bool("stale", stale),
		slog.Bool("infeasible", result.Infeasible),
	)

	resp.Schedule = result.Schedule
	resp.Validation = verdict
	resp.Alerts = raised
	return resp, nil
}

func (s *Server) handleLatestSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := s.repo.LatestSchedule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, schedule, http.StatusOK)
}
