package engine

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// Artifact file names inside a test's artifact directory. The driver may
// drop a video anywhere under the directory; the executor normalizes it to
// VideoFileName at the top level.
const (
	ConsoleFileName = "console.log"
	VideoFileName   = "video.webm"
	LiveFileName    = "live.jpg"
)

// MissingDefinitionMessage is recorded on a run test whose catalog entry
// vanished between run creation and execution.
const MissingDefinitionMessage = "Test definition not found"

// Executor claims one queued run at a time and drives its tests through the
// driver sequentially. It owns the run's artifact directory tree and every
// status transition between running and terminal.
type Executor struct {
	store        *store.Store
	driver       *Driver
	testRoot     string
	artifactRoot string
	logger       *slog.Logger
	metrics      *Metrics
}

// NewExecutor wires an Executor. testRoot is the deploy root the spec paths
// are relative to; artifactRoot is where per-run directories are created.
func NewExecutor(st *store.Store, driver *Driver, testRoot, artifactRoot string,
	logger *slog.Logger, metrics *Metrics,
) *Executor {
	return &Executor{
		store:        st,
		driver:       driver,
		testRoot:     testRoot,
		artifactRoot: artifactRoot,
		logger:       logger,
		metrics:      metrics,
	}
}

// ArtifactRunDir returns the artifact directory for a run.
func ArtifactRunDir(artifactRoot, runID string) string {
	return filepath.Join(artifactRoot, runID)
}

// ArtifactTestDir returns the artifact directory for one test within a run.
func ArtifactTestDir(artifactRoot, runID, testKey string) string {
	return filepath.Join(artifactRoot, runID, testKey)
}

// RunDir returns the artifact directory for a run.
func (e *Executor) RunDir(runID string) string {
	return ArtifactRunDir(e.artifactRoot, runID)
}

// TestDir returns the artifact directory for one test within a run.
func (e *Executor) TestDir(runID, testKey string) string {
	return ArtifactTestDir(e.artifactRoot, runID, testKey)
}

// Execute claims the run and executes it to a terminal state. The claim is
// a conditional status flip, so concurrent dispatches of the same run are
// harmless: exactly one proceeds. A run-level cancel arriving mid-flight is
// observed between tests; the in-progress driver invocation always finishes
// naturally.
func (e *Executor) Execute(ctx context.Context, runID string) {
	claimed, err := e.store.MarkRunRunning(ctx, runID)
	if err != nil {
		e.logger.Error("executor: claiming run", slog.String("run_id", runID), slog.Any("error", err))
		return
	}
	if !claimed {
		return
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil || run == nil {
		e.logger.Error("executor: loading claimed run", slog.String("run_id", runID), slog.Any("error", err))
		return
	}

	e.metrics.RunsStarted.WithLabelValues(string(run.TriggerType)).Inc()
	e.logger.Info("run started",
		slog.String("run_id", runID),
		slog.String("environment", run.Environment),
		slog.String("trigger", string(run.TriggerType)))

	started := time.Now()
	summary, cancelled, execErr := e.executeTests(ctx, run)
	summary.DurationMs = time.Since(started).Milliseconds()

	final := store.RunPassed
	if summary.Failed > 0 || execErr != nil {
		final = store.RunFailed
	}

	// The flip is conditional on the run still being running, so a cancel
	// that won the race keeps its cancelled status; the summary is persisted
	// either way.
	if !cancelled && execErr == nil {
		if _, err := e.store.FinishRun(ctx, runID, final); err != nil {
			e.logger.Error("executor: finishing run", slog.String("run_id", runID), slog.Any("error", err))
		}
	} else if execErr != nil {
		e.logger.Error("executor: run aborted", slog.String("run_id", runID), slog.Any("error", execErr))
		if _, err := e.store.FinishRun(ctx, runID, store.RunFailed); err != nil {
			e.logger.Error("executor: failing aborted run", slog.String("run_id", runID), slog.Any("error", err))
		}
		final = store.RunFailed
	}

	if err := e.store.SetRunSummary(ctx, runID, summary); err != nil {
		e.logger.Error("executor: persisting summary", slog.String("run_id", runID), slog.Any("error", err))
	}

	if cancelled {
		final = store.RunCancelled
	}
	e.metrics.RunsFinished.WithLabelValues(string(final)).Inc()
	e.logger.Info("run finished",
		slog.String("run_id", runID),
		slog.String("status", string(final)),
		slog.Int("passed", summary.Passed),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Int64("duration_ms", summary.DurationMs))
}

// executeTests walks the run's tests in order, returning the tally, whether
// a cancel was observed, and any infrastructure error that aborted the walk.
func (e *Executor) executeTests(ctx context.Context, run *store.Run) (store.RunSummary, bool, error) {
	var summary store.RunSummary

	tests, err := e.store.ListRunTests(ctx, run.ID)
	if err != nil {
		return summary, false, fmt.Errorf("listing run tests: %w", err)
	}
	summary.TotalTests = len(tests)

	if err := os.MkdirAll(e.RunDir(run.ID), 0o755); err != nil {
		return summary, false, fmt.Errorf("creating run artifact dir: %w", err)
	}

	for _, rt := range tests {
		// Cancellation is observed between tests only.
		current, err := e.store.GetRun(ctx, run.ID)
		if err != nil {
			return summary, false, fmt.Errorf("re-reading run: %w", err)
		}
		if current == nil || current.Status == store.RunCancelled {
			skipped, err := e.store.SkipPendingTests(ctx, run.ID)
			if err != nil {
				return summary, true, fmt.Errorf("skipping remaining tests: %w", err)
			}
			summary.Skipped += skipped
			e.logger.Info("run cancelled mid-flight",
				slog.String("run_id", run.ID), slog.Int("tests_skipped", skipped))
			return summary, true, nil
		}

		status := e.executeTest(ctx, run, rt)
		switch status {
		case store.TestPassed:
			summary.Passed++
		case store.TestFailed:
			summary.Failed++
		case store.TestSkipped:
			summary.Skipped++
		}
		e.metrics.TestsFinished.WithLabelValues(string(status)).Inc()
	}

	return summary, false, nil
}

// executeTest runs one test end to end and returns its terminal status.
func (e *Executor) executeTest(ctx context.Context, run *store.Run, rt store.RunTest) store.TestStatus {
	log := e.logger.With(slog.String("run_id", run.ID), slog.String("test_key", rt.TestKey))

	def, err := e.store.GetTestByKey(ctx, rt.TestKey)
	if err != nil {
		log.Error("executor: looking up test definition", slog.Any("error", err))
	}
	if def == nil {
		if _, err := e.store.SkipTest(ctx, rt.ID, MissingDefinitionMessage); err != nil {
			log.Error("executor: skipping orphaned test", slog.Any("error", err))
		}
		log.Warn("test definition vanished, skipping")
		return store.TestSkipped
	}

	testDir := e.TestDir(run.ID, rt.TestKey)
	consolePath := filepath.Join(testDir, ConsoleFileName)
	if err := e.prepareTestDir(testDir, consolePath, rt.TestKey, run.Environment); err != nil {
		log.Error("executor: preparing artifact dir", slog.Any("error", err))
		e.failTest(ctx, log, rt.ID, 0, fmt.Sprintf("cannot prepare artifact directory: %v", err))
		return store.TestFailed
	}

	if _, err := e.store.MarkTestRunning(ctx, rt.ID); err != nil {
		log.Error("executor: marking test running", slog.Any("error", err))
	}

	cfg := EffectiveConfig(run.Environment, def, run.RunOverrides)
	started := time.Now()
	outcome := e.driver.Run(ctx, DriverRequest{
		SpecPath:    filepath.Join(e.testRoot, filepath.FromSlash(def.SpecPath)),
		OutputDir:   testDir,
		ConsolePath: consolePath,
		Config:      cfg,
	})
	durationMs := time.Since(started).Milliseconds()

	artifacts := &store.ArtifactRefs{ConsoleLog: ConsoleFileName}
	if video, err := e.collectVideo(testDir); err != nil {
		log.Warn("executor: collecting video", slog.Any("error", err))
	} else if video {
		artifacts.Video = VideoFileName
	}

	// The live frame is a transient preview, not an artifact.
	if err := os.Remove(filepath.Join(testDir, LiveFileName)); err != nil && !os.IsNotExist(err) {
		log.Warn("executor: removing live frame", slog.Any("error", err))
	}

	status := store.TestPassed
	message := ""
	if !outcome.Passed {
		status = store.TestFailed
		message = outcome.Message
	}
	if _, err := e.store.FinishTest(ctx, rt.ID, status, durationMs, message, artifacts); err != nil {
		log.Error("executor: finishing test", slog.Any("error", err))
	}

	log.Info("test finished",
		slog.String("status", string(status)),
		slog.Int64("duration_ms", durationMs))
	return status
}

// prepareTestDir creates the test's artifact directory and seeds console.log
// with a header line so the log is never empty while the test runs.
func (e *Executor) prepareTestDir(testDir, consolePath, testKey, environment string) error {
	if err := os.MkdirAll(testDir, 0o755); err != nil {
		return err
	}
	header := fmt.Sprintf("[%s] starting %s against %s\n",
		time.Now().UTC().Format(time.RFC3339Nano), testKey, environment)
	return os.WriteFile(consolePath, []byte(header), 0o644)
}

// failTest records a failed terminal state after first flipping the row
// through running, so the transition chain stays legal.
func (e *Executor) failTest(ctx context.Context, log *slog.Logger, id string, durationMs int64, message string) {
	if _, err := e.store.MarkTestRunning(ctx, id); err != nil {
		log.Error("executor: marking test running", slog.Any("error", err))
	}
	if _, err := e.store.FinishTest(ctx, id, store.TestFailed, durationMs, message, nil); err != nil {
		log.Error("executor: failing test", slog.Any("error", err))
	}
}

// collectVideo finds the first video the driver produced anywhere under the
// test directory and moves it to the canonical top-level name. Returns
// whether a video is present.
func (e *Executor) collectVideo(testDir string) (bool, error) {
	canonical := filepath.Join(testDir, VideoFileName)

	var found string
	err := filepath.WalkDir(testDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".webm", ".mp4":
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if found == "" {
		return false, nil
	}
	if found == canonical {
		return true, nil
	}
	if err := os.Rename(found, canonical); err != nil {
		return false, err
	}
	return true, nil
}
