package dashboard

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// testNow is the frozen clock every dashboard test runs against.
var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

// testLogger returns a logger that writes through testing.T.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// newTestService opens a fresh store and a Service frozen at testNow.
func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := store.Open(context.Background(), dbPath, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := NewService(st.DB(), testLogger(t))
	svc.now = func() time.Time { return testNow }

	return svc, st
}

// runRow seeds one runs row with full timestamp control. Zero times become
// NULL columns.
type runRow struct {
	id          string
	environment string
	status      store.RunStatus
	createdAt   time.Time
	startedAt   time.Time
	finishedAt  time.Time
}

func insertRun(t *testing.T, st *store.Store, row runRow) string {
	t.Helper()

	if row.id == "" {
		row.id = uuid.NewString()
	}
	if row.environment == "" {
		row.environment = "QA"
	}
	if row.createdAt.IsZero() {
		if !row.finishedAt.IsZero() {
			row.createdAt = row.finishedAt
		} else {
			row.createdAt = testNow
		}
	}

	_, err := st.DB().ExecContext(context.Background(),
		`INSERT INTO runs (id, status, trigger_type, environment, created_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.id, row.status, store.TriggerManual, row.environment,
		store.ToUnixNano(row.createdAt), nanoOrNil(row.startedAt), nanoOrNil(row.finishedAt))
	require.NoError(t, err)

	return row.id
}

// outcomeRow seeds one run_tests row.
type outcomeRow struct {
	runID      string
	testKey    string
	status     store.TestStatus
	finishedAt time.Time
	durationMs int64
	errMsg     string
}

func insertOutcome(t *testing.T, st *store.Store, row outcomeRow) {
	t.Helper()

	var duration any
	if row.durationMs > 0 {
		duration = row.durationMs
	}

	_, err := st.DB().ExecContext(context.Background(),
		`INSERT INTO run_tests (id, run_id, test_id, test_key, status, duration_ms, error_message, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), row.runID, uuid.NewString(), row.testKey, row.status,
		duration, row.errMsg, nanoOrNil(row.finishedAt))
	require.NoError(t, err)
}

func nanoOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return store.ToUnixNano(t)
}

// daysAgo is a point inside the default window.
func daysAgo(days int) time.Time {
	return testNow.AddDate(0, 0, -days)
}

func TestClampDays(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultWindowDays, ClampDays(0))
	assert.Equal(t, MinWindowDays, ClampDays(-5))
	assert.Equal(t, MaxWindowDays, ClampDays(1000))
	assert.Equal(t, 42, ClampDays(42))
	assert.Equal(t, MinWindowDays, ClampDays(1))
	assert.Equal(t, MaxWindowDays, ClampDays(365))
}

func TestActiveRuns(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	ctx := context.Background()

	insertRun(t, st, runRow{status: store.RunQueued})
	insertRun(t, st, runRow{status: store.RunPassed, finishedAt: daysAgo(1)})

	older := insertRun(t, st, runRow{
		status:    store.RunRunning,
		startedAt: testNow.Add(-10 * time.Minute),
	})
	insertOutcome(t, st, outcomeRow{runID: older, testKey: "a.test", status: store.TestPassed, finishedAt: testNow})
	insertOutcome(t, st, outcomeRow{runID: older, testKey: "b.test", status: store.TestFailed, finishedAt: testNow})
	insertOutcome(t, st, outcomeRow{runID: older, testKey: "c.test", status: store.TestRunning})
	insertOutcome(t, st, outcomeRow{runID: older, testKey: "d.test", status: store.TestPending})

	newer := insertRun(t, st, runRow{
		status:    store.RunRunning,
		startedAt: testNow.Add(-1 * time.Minute),
	})

	got, err := svc.ActiveRuns(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, got.Queued)
	assert.Equal(t, 2, got.Running)
	require.Len(t, got.Runs, 2)

	// Oldest start first.
	assert.Equal(t, older, got.Runs[0].RunID)
	assert.Equal(t, 2, got.Runs[0].Completed)
	assert.Equal(t, 4, got.Runs[0].Total)
	require.NotNil(t, got.Runs[0].StartedAt)

	assert.Equal(t, newer, got.Runs[1].RunID)
	assert.Equal(t, 0, got.Runs[1].Completed)
	assert.Equal(t, 0, got.Runs[1].Total)
}

func TestActiveRuns_EmptyDatabase(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	got, err := svc.ActiveRuns(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, got.Queued)
	assert.Equal(t, 0, got.Running)
	assert.Empty(t, got.Runs)
}
