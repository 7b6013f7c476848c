package dashboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// Health classification bands.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"

	healthCriticalRate = 70.0
	healthWarningRate  = 90.0
)

// RunSnapshot is a terse reference to a finished run.
type RunSnapshot struct {
	RunID      string    `json:"runId"`
	Status     string    `json:"status"`
	FinishedAt time.Time `json:"finishedAt"`
}

// EnvironmentHealth is one environment's state over the window.
type EnvironmentHealth struct {
	Environment   string       `json:"environment"`
	TotalRuns     int          `json:"totalRuns"`
	PassedRuns    int          `json:"passedRuns"`
	PassRate      float64      `json:"passRate"`
	AvgDurationMs int64        `json:"avgDurationMs"`
	RunsLast24h   int          `json:"runsLast24h"`
	LastRun       *RunSnapshot `json:"lastRun,omitempty"`
	HealthStatus  string       `json:"healthStatus"`
}

// EnvironmentHealth classifies each environment that finished runs inside
// the window. An environment with no finished runs in the window does not
// appear; absence is itself the signal.
func (s *Service) EnvironmentHealth(ctx context.Context, days int) ([]EnvironmentHealth, error) {
	days = ClampDays(days)
	w := s.currentWindow(days)
	dayAgo := store.ToUnixNano(s.now().UTC().Add(-24 * time.Hour))

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.environment,
			COUNT(*),
			SUM(CASE WHEN r.status = ? THEN 1 ELSE 0 END),
			AVG(CASE WHEN r.started_at IS NOT NULL THEN r.finished_at - r.started_at END),
			SUM(CASE WHEN r.finished_at >= ? THEN 1 ELSE 0 END)
		 FROM runs r
		 WHERE r.finished_at >= ? AND r.finished_at < ?
		 GROUP BY r.environment
		 ORDER BY r.environment`,
		store.RunPassed, dayAgo, w.start, w.end)
	if err != nil {
		return nil, fmt.Errorf("dashboard: querying environment health: %w", err)
	}
	defer rows.Close()

	out := []EnvironmentHealth{}
	for rows.Next() {
		var (
			eh     EnvironmentHealth
			passed sql.NullInt64
			avgNs  sql.NullFloat64
			last24 sql.NullInt64
		)
		if err := rows.Scan(&eh.Environment, &eh.TotalRuns, &passed, &avgNs, &last24); err != nil {
			return nil, fmt.Errorf("dashboard: scanning environment health: %w", err)
		}

		eh.PassedRuns = int(passed.Int64)
		eh.RunsLast24h = int(last24.Int64)
		if avgNs.Valid {
			eh.AvgDurationMs = int64(avgNs.Float64 / float64(time.Millisecond))
		}

		eh.PassRate = pct(eh.PassedRuns, eh.TotalRuns)
		eh.HealthStatus = classifyHealth(rawRate(eh.PassedRuns, eh.TotalRuns), eh.RunsLast24h)

		last, err := s.latestFinishedRun(ctx, eh.Environment, w)
		if err != nil {
			return nil, err
		}
		eh.LastRun = last

		out = append(out, eh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dashboard: iterating environment health: %w", err)
	}

	return out, nil
}

// classifyHealth applies the banding rules on the raw pass rate.
func classifyHealth(passRate float64, last24h int) string {
	switch {
	case passRate < healthCriticalRate || last24h == 0:
		return HealthCritical
	case passRate < healthWarningRate || last24h < 2:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// latestFinishedRun returns the environment's most recently finished run in
// the window.
func (s *Service) latestFinishedRun(ctx context.Context, environment string, w window) (*RunSnapshot, error) {
	var (
		snap       RunSnapshot
		finishedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, finished_at
		 FROM runs
		 WHERE environment = ? AND finished_at >= ? AND finished_at < ?
		 ORDER BY finished_at DESC
		 LIMIT 1`,
		environment, w.start, w.end,
	).Scan(&snap.RunID, &snap.Status, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dashboard: querying latest run for %s: %w", environment, err)
	}

	snap.FinishedAt = store.FromUnixNano(finishedAt)

	return &snap, nil
}
