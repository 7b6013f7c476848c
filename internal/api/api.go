// Package api exposes the orchestrator over HTTP: catalog queries, run
// creation and control, live log/screenshot polling, artifact download,
// schedule CRUD, dashboard aggregates, a websocket event stream, and
// prometheus metrics. All JSON, all same-origin with the dashboard SPA;
// errors are {"error": string} with conventional status codes.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akeyanjam/mbss-test/internal/config"
	"github.com/akeyanjam/mbss-test/internal/dashboard"
	"github.com/akeyanjam/mbss-test/internal/store"
)

// Timeouts for the HTTP server itself. Handlers stream at most a video
// artifact, so the write timeout stays generous.
const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// defaultPageSize bounds run listings when the caller gives no limit,
// mirroring the store's own default page size.
const defaultPageSize = 50

// Server carries the dependencies the handlers need. It is inert until
// Run is called; Router can also be mounted directly in tests.
type Server struct {
	store        *store.Store
	dash         *dashboard.Service
	envs         *config.Environments
	users        *config.AccessPolicy
	hub          *Hub
	artifactRoot string
	gatherer     prometheus.Gatherer
	logger       *slog.Logger
}

// NewServer wires the HTTP surface. gatherer is the metrics registry the
// engine components were registered on.
func NewServer(st *store.Store, dash *dashboard.Service, envs *config.Environments,
	users *config.AccessPolicy, hub *Hub, artifactRoot string,
	gatherer prometheus.Gatherer, logger *slog.Logger,
) *Server {
	return &Server{
		store:        st,
		dash:         dash,
		envs:         envs,
		users:        users,
		hub:          hub,
		artifactRoot: artifactRoot,
		gatherer:     gatherer,
		logger:       logger,
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/events", s.handleEvents)

		r.Route("/tests", func(r chi.Router) {
			r.Get("/", s.handleListTests)
			r.Get("/meta/tags", s.handleListTags)
			r.Get("/meta/folders", s.handleListFolders)
			r.Get("/{testKey}", s.handleGetTest)
			r.Put("/{testKey}/overrides", s.handleUpdateOverrides)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleCreateRun)
			r.Get("/", s.handleListRuns)
			r.Get("/{runID}", s.handleGetRun)
			r.Post("/{runID}/cancel", s.handleCancelRun)
			r.Get("/{runID}/tests/{testKey}/logs", s.handleTestLog)
			r.Get("/{runID}/tests/{testKey}/screenshot", s.handleScreenshot)
			r.Get("/{runID}/tests/{testKey}/artifacts/{file}", s.handleArtifact)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleCreateSchedule)
			r.Get("/{scheduleID}", s.handleGetSchedule)
			r.Put("/{scheduleID}", s.handleUpdateSchedule)
			r.Delete("/{scheduleID}", s.handleDeleteSchedule)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/active-runs", s.handleActiveRuns)
			r.Get("/pass-rate", s.handlePassRate)
			r.Get("/executions", s.handleExecutions)
			r.Get("/flaky-tests", s.handleFlakyTests)
			r.Get("/environment-health", s.handleEnvironmentHealth)
			r.Get("/tests/{testKey}/stats", s.handleTestStats)
		})
	})

	return r
}

// Run serves on addr until ctx is cancelled, then drains with a bounded
// shutdown. A closed listener during shutdown is not an error.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("http server listening", slog.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api: shutting down: %w", err)
		}

		<-errCh

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("api: serving: %w", err)
	}
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
