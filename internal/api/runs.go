package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// createRunRequest is the POST /api/runs body.
type createRunRequest struct {
	TestKeys     []string       `json:"testKeys"`
	Environment  string         `json:"environment"`
	UserEmail    string         `json:"userEmail"`
	RunOverrides map[string]any `json:"runOverrides"`
}

// handleCreateRun validates access, resolves the requested keys against the
// active catalog, and enqueues a manual run. Unknown or inactive keys are
// logged and dropped; a request where nothing resolves is rejected before
// any row is written.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")

		return
	}

	if len(req.TestKeys) == 0 || req.Environment == "" || req.UserEmail == "" {
		s.respondError(w, http.StatusBadRequest, "testKeys, environment, and userEmail are required")

		return
	}

	if !s.envs.Known(req.Environment) {
		s.respondError(w, http.StatusBadRequest,
			fmt.Sprintf("Unknown environment %s", req.Environment))

		return
	}

	if !s.users.Allowed(req.UserEmail, req.Environment) {
		s.respondError(w, http.StatusForbidden,
			fmt.Sprintf("User %s does not have access to environment %s", req.UserEmail, req.Environment))

		return
	}

	seen := make(map[string]bool, len(req.TestKeys))
	pairs := make([]store.RunTestPair, 0, len(req.TestKeys))

	for _, key := range req.TestKeys {
		if seen[key] {
			continue
		}
		seen[key] = true

		def, err := s.store.GetTestByKey(r.Context(), key)
		if err != nil {
			s.logger.Error("api: resolving test key", slog.String("test_key", key), slog.Any("error", err))
			s.respondError(w, http.StatusInternalServerError, "Failed to resolve tests")

			return
		}

		if def == nil || !def.Active {
			s.logger.Warn("dropping unknown test key from run request",
				slog.String("test_key", key),
				slog.String("requested_by", req.UserEmail),
			)

			continue
		}

		pairs = append(pairs, store.RunTestPair{TestID: def.ID, TestKey: def.TestKey})
	}

	if len(pairs) == 0 {
		s.respondError(w, http.StatusBadRequest, "No valid tests to run")

		return
	}

	run, err := s.store.CreateRun(r.Context(), store.NewRun{
		TriggerType:      store.TriggerManual,
		Environment:      req.Environment,
		TriggeredByEmail: req.UserEmail,
		RunOverrides:     req.RunOverrides,
		Tests:            pairs,
	})
	if err != nil {
		s.logger.Error("api: creating run", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to create run")

		return
	}

	s.respondJSON(w, http.StatusCreated, newRunView(run, nil))
}

// handleListRuns returns a page of runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{Environment: r.URL.Query().Get("environment")}

	if status := r.URL.Query().Get("status"); status != "" {
		if !store.ValidRunStatus(status) {
			s.respondError(w, http.StatusBadRequest,
				fmt.Sprintf("Unknown status %s", status))

			return
		}

		filter.Status = store.RunStatus(status)
	}

	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	filter.Limit = limit
	filter.Offset = offset

	runs, total, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.logger.Error("api: listing runs", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to list runs")

		return
	}

	views := make([]runView, 0, len(runs))
	for i := range runs {
		views = append(views, newRunView(&runs[i], nil))
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"runs":   views,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// handleGetRun returns one run with its tests.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.logger.Error("api: fetching run", slog.String("run_id", runID), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch run")

		return
	}

	if run == nil {
		s.respondError(w, http.StatusNotFound, "Run not found")

		return
	}

	tests, err := s.store.ListRunTests(r.Context(), runID)
	if err != nil {
		s.logger.Error("api: listing run tests", slog.String("run_id", runID), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch run")

		return
	}

	s.respondJSON(w, http.StatusOK, newRunView(run, tests))
}

// handleCancelRun requests cancellation. The executor observes the flip
// between tests; an already-terminal run is a client error.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.logger.Error("api: fetching run for cancel", slog.String("run_id", runID), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to cancel run")

		return
	}

	if run == nil {
		s.respondError(w, http.StatusNotFound, "Run not found")

		return
	}

	ok, err := s.store.CancelRun(r.Context(), runID)
	if err != nil {
		s.logger.Error("api: cancelling run", slog.String("run_id", runID), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to cancel run")

		return
	}

	if !ok {
		s.respondError(w, http.StatusBadRequest, "Run already finished")

		return
	}

	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
