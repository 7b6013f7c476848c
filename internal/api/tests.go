package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// handleListTests returns the active catalog, optionally narrowed by a
// folder prefix or an any-of tag set.
func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	filter := store.TestFilter{
		FolderPrefix: r.URL.Query().Get("folderPrefix"),
		Tags:         splitCSV(r.URL.Query().Get("tags")),
	}

	defs, err := s.store.ListTests(r.Context(), filter)
	if err != nil {
		s.logger.Error("api: listing tests", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to list tests")

		return
	}

	views := make([]testView, 0, len(defs))
	for i := range defs {
		views = append(views, newTestView(&defs[i]))
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"tests": views,
		"total": len(views),
	})
}

// handleGetTest returns one catalog entry by key, active or not.
func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	testKey := chi.URLParam(r, "testKey")

	def, err := s.store.GetTestByKey(r.Context(), testKey)
	if err != nil {
		s.logger.Error("api: fetching test", slog.String("test_key", testKey), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch test")

		return
	}

	if def == nil {
		s.respondError(w, http.StatusNotFound, "Test not found")

		return
	}

	s.respondJSON(w, http.StatusOK, newTestView(def))
}

// handleListTags returns the distinct tags across the active catalog.
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		s.logger.Error("api: listing tags", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to list tags")

		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// handleListFolders returns the distinct folder paths across the active
// catalog.
func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.store.ListFolderPaths(r.Context())
	if err != nil {
		s.logger.Error("api: listing folders", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to list folders")

		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

// handleUpdateOverrides replaces a test's override constants wholesale.
func (s *Server) handleUpdateOverrides(w http.ResponseWriter, r *http.Request) {
	testKey := chi.URLParam(r, "testKey")

	var overrides store.ConstantSet
	if err := decodeJSON(r, &overrides); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")

		return
	}

	ok, err := s.store.UpdateTestOverrides(r.Context(), testKey, &overrides)
	if err != nil {
		s.logger.Error("api: updating overrides", slog.String("test_key", testKey), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to update overrides")

		return
	}

	if !ok {
		s.respondError(w, http.StatusNotFound, "Test not found")

		return
	}

	def, err := s.store.GetTestByKey(r.Context(), testKey)
	if err != nil || def == nil {
		s.logger.Error("api: reloading test after override update",
			slog.String("test_key", testKey), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch test")

		return
	}

	s.respondJSON(w, http.StatusOK, newTestView(def))
}
