// Package server exposes the dispatch service over HTTP: schedule runs,
// schedule and alert reads, and configuration management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"

	"github.com/suryadrishti/suryadrishti/pkg/engine"
	"github.com/suryadrishti/suryadrishti/pkg/forecast"
	"github.com/suryadrishti/suryadrishti/pkg/log"
	"github.com/suryadrishti/suryadrishti/pkg/storage"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// Server handles the HTTP API for the SuryaDrishti dispatch service. It
// orchestrates the forecast source, the engine and the repository.
type Server struct {
	repo      storage.Repository
	forecasts *forecast.CachingSource
	engine    *engine.Engine

	listenAddr   string
	httpServer   *http.Server
	serverName   string
	horizonHours int
	allowStale   bool

	// now is replaced in tests for deterministic schedules
	now func() time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(repo storage.Repository, forecasts *forecast.CachingSource) *Server {
	srv := &Server{
		repo:       repo,
		forecasts:  forecasts,
		engine:     engine.New(),
		serverName: "suryadrishti",
		now:        time.Now,
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	horizonHours := lflag.Int("schedule-horizon-hours", 24, "Default scheduling horizon in hours (1-48)")
	allowStale := lflag.Bool("allow-stale-forecast", true, "Run schedules on a cached forecast when the upstream is down")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.horizonHours = *horizonHours
		srv.allowStale = *allowStale
		if srv.horizonHours < 1 || srv.horizonHours > 48 {
			log.Ctx(context.Background()).Error("schedule-horizon-hours must be within 1-48")
			os.Exit(1)
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/microgrids/{id}/schedule/run", s.handleRunSchedule)
	apiMux.HandleFunc("GET /api/microgrids/{id}/schedule/latest", s.handleLatestSchedule)
	apiMux.HandleFunc("GET /api/microgrids/{id}/alerts", s.handleListAlerts)
	apiMux.HandleFunc("POST /api/alerts/{id}/acknowledge", s.handleAcknowledgeAlert)
	apiMux.HandleFunc("GET /api/microgrids/{id}/config", s.handleGetConfig)
	apiMux.HandleFunc("PUT /api/microgrids/{id}/config", s.handlePutConfig)
	apiMux.HandleFunc("GET /api/microgrids/{id}/devices", s.handleGetDevices)
	apiMux.HandleFunc("PUT /api/microgrids/{id}/devices", s.handlePutDevices)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiMux)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(mux))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// writeError maps error kinds and storage sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrConfigNotFound),
		errors.Is(err, storage.ErrScheduleNotFound),
		errors.Is(err, storage.ErrReadingNotFound),
		errors.Is(err, storage.ErrAlertNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	switch types.KindOf(err) {
	case types.ErrConfigurationInvalid:
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case types.ErrMalformedForecast, types.ErrUnusableForecast:
		writeJSONError(w, err.Error(), http.StatusBadGateway)
	case types.ErrUpstreamUnavailable:
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
	case types.ErrPersistenceConflict:
		writeJSONError(w, err.Error(), http.StatusConflict)
	default:
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
