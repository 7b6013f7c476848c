package dashboard

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// Trend directions for per-test stats.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"

	trendThreshold = 5.0
)

// TestRunSnapshot is one completed execution of a test.
type TestRunSnapshot struct {
	RunID        string    `json:"runId"`
	Environment  string    `json:"environment"`
	Status       string    `json:"status"`
	FinishedAt   time.Time `json:"finishedAt"`
	DurationMs   *int64    `json:"durationMs,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// TestEnvironmentStats is one environment's slice of a test's history.
type TestEnvironmentStats struct {
	Environment string           `json:"environment"`
	Total       int              `json:"total"`
	Passed      int              `json:"passed"`
	Failed      int              `json:"failed"`
	PassRate    float64          `json:"passRate"`
	LastRun     *TestRunSnapshot `json:"lastRun,omitempty"`
}

// TestStats is the full per-test dashboard view.
type TestStats struct {
	TestKey       string                 `json:"testKey"`
	Total         int                    `json:"total"`
	Passed        int                    `json:"passed"`
	Failed        int                    `json:"failed"`
	Skipped       int                    `json:"skipped"`
	PassRate      float64                `json:"passRate"`
	AvgDurationMs int64                  `json:"avgDurationMs"`
	Trend         string                 `json:"trend"`
	Environments  []TestEnvironmentStats `json:"environments"`
	RecentRuns    []TestRunSnapshot      `json:"recentRuns"`
	Days          int                    `json:"days"`
}

// TestStats aggregates one test's executions over the window. The trend
// compares the pass rate against the immediately preceding window: a swing
// beyond five points either way moves the needle.
func (s *Service) TestStats(ctx context.Context, testKey string, days int) (*TestStats, error) {
	days = ClampDays(days)
	cur := s.currentWindow(days)

	out := &TestStats{
		TestKey:      testKey,
		Trend:        TrendStable,
		Environments: []TestEnvironmentStats{},
		RecentRuns:   []TestRunSnapshot{},
		Days:         days,
	}

	var (
		passed, failed, skipped sql.NullInt64
		avgMs                   sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT
			SUM(CASE WHEN rt.status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN rt.status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN rt.status = ? THEN 1 ELSE 0 END),
			AVG(rt.duration_ms)
		 FROM run_tests rt
		 JOIN runs r ON r.id = rt.run_id
		 WHERE rt.test_key = ? AND rt.status IN (?, ?, ?)
		   AND r.finished_at >= ? AND r.finished_at < ?`,
		store.TestPassed, store.TestFailed, store.TestSkipped,
		testKey,
		store.TestPassed, store.TestFailed, store.TestSkipped,
		cur.start, cur.end,
	).Scan(&passed, &failed, &skipped, &avgMs)
	if err != nil {
		return nil, fmt.Errorf("dashboard: aggregating stats for %s: %w", testKey, err)
	}

	out.Passed = int(passed.Int64)
	out.Failed = int(failed.Int64)
	out.Skipped = int(skipped.Int64)
	out.Total = out.Passed + out.Failed + out.Skipped
	out.PassRate = pct(out.Passed, out.Passed+out.Failed)
	if avgMs.Valid {
		out.AvgDurationMs = int64(avgMs.Float64)
	}

	prevPassed, prevFailed, err := s.testOutcomeCounts(ctx, testKey, previousWindow(cur, days))
	if err != nil {
		return nil, err
	}
	out.Trend = trendDirection(out.PassRate, pct(prevPassed, prevPassed+prevFailed))

	envs, err := s.testEnvironmentBreakdown(ctx, testKey, cur)
	if err != nil {
		return nil, err
	}
	out.Environments = envs

	recent, err := s.recentTestRuns(ctx, testKey, cur)
	if err != nil {
		return nil, err
	}
	out.RecentRuns = recent

	return out, nil
}

// trendDirection maps a pass-rate delta to a direction.
func trendDirection(current, previous float64) string {
	delta := current - previous
	switch {
	case delta > trendThreshold:
		return TrendUp
	case delta < -trendThreshold:
		return TrendDown
	default:
		return TrendStable
	}
}

// testOutcomeCounts tallies one test's pass/fail outcomes in w.
func (s *Service) testOutcomeCounts(ctx context.Context, testKey string, w window) (passed, failed int, err error) {
	var p, f sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT
			SUM(CASE WHEN rt.status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN rt.status = ? THEN 1 ELSE 0 END)
		 FROM run_tests rt
		 JOIN runs r ON r.id = rt.run_id
		 WHERE rt.test_key = ? AND rt.status IN (?, ?)
		   AND r.finished_at >= ? AND r.finished_at < ?`,
		store.TestPassed, store.TestFailed,
		testKey, store.TestPassed, store.TestFailed,
		w.start, w.end,
	).Scan(&p, &f)
	if err != nil {
		return 0, 0, fmt.Errorf("dashboard: counting outcomes for %s: %w", testKey, err)
	}

	return int(p.Int64), int(f.Int64), nil
}

// testEnvironmentBreakdown groups one test's completed executions by
// environment, each with its latest execution attached.
func (s *Service) testEnvironmentBreakdown(ctx context.Context, testKey string, w window) ([]TestEnvironmentStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.environment,
			COUNT(*),
			SUM(CASE WHEN rt.status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN rt.status = ? THEN 1 ELSE 0 END)
		 FROM run_tests rt
		 JOIN runs r ON r.id = rt.run_id
		 WHERE rt.test_key = ? AND rt.status IN (?, ?)
		   AND r.finished_at >= ? AND r.finished_at < ?
		 GROUP BY r.environment
		 ORDER BY r.environment`,
		store.TestPassed, store.TestFailed,
		testKey, store.TestPassed, store.TestFailed,
		w.start, w.end)
	if err != nil {
		return nil, fmt.Errorf("dashboard: querying environment breakdown for %s: %w", testKey, err)
	}
	defer rows.Close()

	envs := []TestEnvironmentStats{}
	for rows.Next() {
		var (
			es             TestEnvironmentStats
			passed, failed sql.NullInt64
		)
		if err := rows.Scan(&es.Environment, &es.Total, &passed, &failed); err != nil {
			return nil, fmt.Errorf("dashboard: scanning environment breakdown: %w", err)
		}

		es.Passed = int(passed.Int64)
		es.Failed = int(failed.Int64)
		es.PassRate = pct(es.Passed, es.Passed+es.Failed)

		envs = append(envs, es)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dashboard: iterating environment breakdown: %w", err)
	}

	for i := range envs {
		snaps, err := s.recentTestRunsIn(ctx, testKey, envs[i].Environment, w, 1)
		if err != nil {
			return nil, err
		}
		if len(snaps) > 0 {
			envs[i].LastRun = &snaps[0]
		}
	}

	return envs, nil
}

// recentTestRuns returns the test's last 10 completed executions across all
// environments, newest first.
func (s *Service) recentTestRuns(ctx context.Context, testKey string, w window) ([]TestRunSnapshot, error) {
	return s.recentTestRunsIn(ctx, testKey, "", w, 10)
}

// recentTestRunsIn lists completed executions, optionally filtered to one
// environment.
func (s *Service) recentTestRunsIn(ctx context.Context, testKey, environment string, w window, limit int) ([]TestRunSnapshot, error) {
	query := `SELECT r.id, r.environment, rt.status, rt.finished_at, rt.duration_ms, rt.error_message
		 FROM run_tests rt
		 JOIN runs r ON r.id = rt.run_id
		 WHERE rt.test_key = ? AND rt.status IN (?, ?, ?)
		   AND r.finished_at >= ? AND r.finished_at < ?`
	args := []any{
		testKey, store.TestPassed, store.TestFailed, store.TestSkipped,
		w.start, w.end,
	}

	if environment != "" {
		query += ` AND r.environment = ?`
		args = append(args, environment)
	}

	query += ` ORDER BY rt.finished_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dashboard: querying recent runs for %s: %w", testKey, err)
	}
	defer rows.Close()

	snaps := []TestRunSnapshot{}
	for rows.Next() {
		var (
			snap       TestRunSnapshot
			finishedAt sql.NullInt64
			durationMs sql.NullInt64
		)
		if err := rows.Scan(&snap.RunID, &snap.Environment, &snap.Status,
			&finishedAt, &durationMs, &snap.ErrorMessage); err != nil {
			return nil, fmt.Errorf("dashboard: scanning recent run: %w", err)
		}

		if finishedAt.Valid {
			snap.FinishedAt = store.FromUnixNano(finishedAt.Int64)
		}
		if durationMs.Valid {
			snap.DurationMs = &durationMs.Int64
		}

		snaps = append(snaps, snap)
	}

	return snaps, rows.Err()
}
