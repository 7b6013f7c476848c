package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleActiveRuns returns the live queued/running snapshot.
func (s *Server) handleActiveRuns(w http.ResponseWriter, r *http.Request) {
	snap, err := s.dash.ActiveRuns(r.Context())
	if err != nil {
		s.logger.Error("api: active runs", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to compute active runs")

		return
	}

	s.respondJSON(w, http.StatusOK, snap)
}

// handlePassRate returns the windowed pass rate. The service clamps days
// to its 1-365 bounds.
func (s *Server) handlePassRate(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	rate, err := s.dash.PassRate(r.Context(), days)
	if err != nil {
		s.logger.Error("api: pass rate", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to compute pass rate")

		return
	}

	s.respondJSON(w, http.StatusOK, rate)
}

// handleExecutions returns run volume per environment.
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	execs, err := s.dash.Executions(r.Context(), days)
	if err != nil {
		s.logger.Error("api: executions", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to compute executions")

		return
	}

	s.respondJSON(w, http.StatusOK, execs)
}

// handleFlakyTests returns the flakiness report.
func (s *Server) handleFlakyTests(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	minExecutions, err := queryInt(r, "minExecutions", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	flaky, err := s.dash.FlakyTests(r.Context(), days, minExecutions)
	if err != nil {
		s.logger.Error("api: flaky tests", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to compute flaky tests")

		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"flakyTests": flaky})
}

// handleEnvironmentHealth returns per-environment health.
func (s *Server) handleEnvironmentHealth(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	health, err := s.dash.EnvironmentHealth(r.Context(), days)
	if err != nil {
		s.logger.Error("api: environment health", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to compute environment health")

		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"environments": health})
}

// handleTestStats returns one test's aggregated history.
func (s *Server) handleTestStats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	stats, err := s.dash.TestStats(r.Context(), chi.URLParam(r, "testKey"), days)
	if err != nil {
		s.logger.Error("api: test stats", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to compute test stats")

		return
	}

	s.respondJSON(w, http.StatusOK, stats)
}
