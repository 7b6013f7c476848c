package api

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/akeyanjam/mbss-test/internal/engine"
)

// logPollResponse is the live log polling shape: content holds the bytes
// from the requested offset to the end of the file, offset is the new total
// length the caller sends back next, and finished flags a terminal test.
type logPollResponse struct {
	Content  string `json:"content"`
	Offset   int64  `json:"offset"`
	Finished bool   `json:"finished"`
}

// testDirFor validates the path components and returns the test's artifact
// directory. The second return is false when either component could escape
// the artifact root.
func (s *Server) testDirFor(runID, testKey string) (string, bool) {
	if !safePathComponent(runID) || !safePathComponent(testKey) {
		return "", false
	}

	return engine.ArtifactTestDir(s.artifactRoot, runID, testKey), true
}

// handleTestLog serves incremental console.log reads. A file that does not
// exist yet echoes the caller's offset back unchanged so polling can simply
// continue.
func (s *Server) handleTestLog(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	testKey := chi.URLParam(r, "testKey")

	dir, ok := s.testDirFor(runID, testKey)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "Invalid path")

		return
	}

	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	if offset < 0 {
		offset = 0
	}

	rt, err := s.store.GetRunTest(r.Context(), runID, testKey)
	if err != nil {
		s.logger.Error("api: fetching run test", slog.String("run_id", runID),
			slog.String("test_key", testKey), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch test log")

		return
	}

	if rt == nil {
		s.respondError(w, http.StatusNotFound, "Test not found in run")

		return
	}

	resp := logPollResponse{
		Offset:   int64(offset),
		Finished: rt.Status.Finished(),
	}

	data, err := os.ReadFile(filepath.Join(dir, engine.ConsoleFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.respondJSON(w, http.StatusOK, resp)

			return
		}

		s.logger.Error("api: reading console log", slog.String("run_id", runID),
			slog.String("test_key", testKey), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to read console log")

		return
	}

	size := int64(len(data))
	from := int64(offset)
	if from > size {
		from = size
	}

	resp.Content = string(data[from:])
	resp.Offset = size

	s.respondJSON(w, http.StatusOK, resp)
}

// handleScreenshot serves the driver's live preview frame, if one exists
// right now.
func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.testDirFor(chi.URLParam(r, "runID"), chi.URLParam(r, "testKey"))
	if !ok {
		s.respondError(w, http.StatusBadRequest, "Invalid path")

		return
	}

	data, err := os.ReadFile(filepath.Join(dir, engine.LiveFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.respondError(w, http.StatusNotFound, "No live screenshot")

			return
		}

		s.logger.Error("api: reading live screenshot", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to read screenshot")

		return
	}

	w.Header().Set("Content-Type", "image/jpeg")

	if _, err := w.Write(data); err != nil {
		s.logger.Debug("api: writing screenshot", slog.Any("error", err))
	}
}

// handleArtifact serves one file from a test's artifact directory. The file
// name must be a plain name: anything containing .., /, or \ is rejected.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.testDirFor(chi.URLParam(r, "runID"), chi.URLParam(r, "testKey"))
	if !ok {
		s.respondError(w, http.StatusBadRequest, "Invalid path")

		return
	}

	name := chi.URLParam(r, "file")
	if !safePathComponent(name) {
		s.respondError(w, http.StatusBadRequest, "Invalid file name")

		return
	}

	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.respondError(w, http.StatusNotFound, "Artifact not found")

			return
		}

		s.logger.Error("api: opening artifact", slog.String("file", name), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to open artifact")

		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.logger.Error("api: stat artifact", slog.String("file", name), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "Failed to open artifact")

		return
	}

	if info.IsDir() {
		s.respondError(w, http.StatusNotFound, "Artifact not found")

		return
	}

	http.ServeContent(w, r, name, info.ModTime(), f)
}
