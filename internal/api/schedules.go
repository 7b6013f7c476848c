package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/akeyanjam/mbss-test/internal/engine"
	"github.com/akeyanjam/mbss-test/internal/store"
)

// scheduleRequest is the create/update body. PUT replaces the whole
// schedule; an omitted enabled flag means enabled.
type scheduleRequest struct {
	Name                string         `json:"name"`
	Cron                string         `json:"cron"`
	Enabled             *bool          `json:"enabled"`
	Environment         string         `json:"environment"`
	Selector            store.Selector `json:"selector"`
	DefaultRunOverrides map[string]any `json:"defaultRunOverrides"`
	UserEmail           string         `json:"userEmail"`
}

// scheduleParams validates the request and converts it to store params.
// A non-zero status reports the failure to return to the client.
func (s *Server) scheduleParams(req scheduleRequest) (store.ScheduleParams, int, string) {
	var params store.ScheduleParams

	if req.Name == "" || req.Cron == "" || req.Environment == "" || req.UserEmail == "" {
		return params, http.StatusBadRequest, "name, cron, environment, and userEmail are required"
	}

	if !s.envs.Known(req.Environment) {
		return params, http.StatusBadRequest, fmt.Sprintf("Unknown environment %s", req.Environment)
	}

	if !s.users.Allowed(req.UserEmail, req.Environment) {
		return params, http.StatusForbidden,
			fmt.Sprintf("User %s does not have access to environment %s", req.UserEmail, req.Environment)
	}

	if _, err := engine.ParseCron(req.Cron); err != nil {
		return params, http.StatusBadRequest, "Invalid cron expression"
	}

	switch req.Selector.Type {
	case store.SelectorFolder:
		if req.Selector.FolderPrefix == "" {
			return params, http.StatusBadRequest, "Selector folderPrefix is required"
		}
	case store.SelectorTags:
		if len(req.Selector.Tags) == 0 {
			return params, http.StatusBadRequest, "Selector tags are required"
		}
	case store.SelectorExplicit:
		if len(req.Selector.TestKeys) == 0 {
			return params, http.StatusBadRequest, "Selector testKeys are required"
		}
	default:
		return params, http.StatusBadRequest,
			fmt.Sprintf("Unknown selector type %q", req.Selector.Type)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	params = store.ScheduleParams{
		Name:                req.Name,
		Cron:                req.Cron,
		Enabled:             enabled,
		Environment:         req.Environment,
		Selector:            req.Selector,
		DefaultRunOverrides: req.DefaultRunOverrides,
		ActorEmail:          req.UserEmail,
	}

	return params, 0, ""
}

// handleListSchedules returns every schedule, enabled or not.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules(r.Context())
	if err != nil {
		s.logger.Error("api: listing schedules", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to list schedules")

		return
	}

	views := make([]scheduleView, 0, len(schedules))
	for i := range schedules {
		views = append(views, newScheduleView(&schedules[i]))
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"schedules": views})
}

// handleCreateSchedule validates and inserts a new schedule.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")

		return
	}

	params, status, message := s.scheduleParams(req)
	if status != 0 {
		s.respondError(w, status, message)

		return
	}

	sched, err := s.store.CreateSchedule(r.Context(), params)
	if err != nil {
		s.logger.Error("api: creating schedule", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to create schedule")

		return
	}

	s.respondJSON(w, http.StatusCreated, newScheduleView(sched))
}

// handleGetSchedule returns one schedule by id.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scheduleID")

	sched, err := s.store.GetSchedule(r.Context(), id)
	if err != nil {
		s.logger.Error("api: fetching schedule", slog.String("schedule_id", id), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch schedule")

		return
	}

	if sched == nil {
		s.respondError(w, http.StatusNotFound, "Schedule not found")

		return
	}

	s.respondJSON(w, http.StatusOK, newScheduleView(sched))
}

// handleUpdateSchedule replaces a schedule's mutable fields.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scheduleID")

	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")

		return
	}

	params, status, message := s.scheduleParams(req)
	if status != 0 {
		s.respondError(w, status, message)

		return
	}

	sched, err := s.store.UpdateSchedule(r.Context(), id, params)
	if err != nil {
		s.logger.Error("api: updating schedule", slog.String("schedule_id", id), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to update schedule")

		return
	}

	if sched == nil {
		s.respondError(w, http.StatusNotFound, "Schedule not found")

		return
	}

	s.respondJSON(w, http.StatusOK, newScheduleView(sched))
}

// handleDeleteSchedule removes a schedule. Past runs keep their rows; the
// foreign key nulls their schedule reference.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scheduleID")

	ok, err := s.store.DeleteSchedule(r.Context(), id)
	if err != nil {
		s.logger.Error("api: deleting schedule", slog.String("schedule_id", id), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to delete schedule")

		return
	}

	if !ok {
		s.respondError(w, http.StatusNotFound, "Schedule not found")

		return
	}

	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
