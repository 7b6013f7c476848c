package dashboard

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// PassRate is the completed-execution pass rate over a window, with the
// delta against the immediately preceding window of the same width.
type PassRate struct {
	Percentage float64 `json:"percentage"`
	Passed     int     `json:"passed"`
	Failed     int     `json:"failed"`
	Total      int     `json:"total"`
	Trend      float64 `json:"trend"`
	Days       int     `json:"days"`
}

// PassRate aggregates run_tests with a pass/fail outcome whose runs
// finished inside the window.
func (s *Service) PassRate(ctx context.Context, days int) (*PassRate, error) {
	days = ClampDays(days)
	cur := s.currentWindow(days)

	passed, failed, err := s.outcomeCounts(ctx, cur)
	if err != nil {
		return nil, err
	}

	prevPassed, prevFailed, err := s.outcomeCounts(ctx, previousWindow(cur, days))
	if err != nil {
		return nil, err
	}

	current := pct(passed, passed+failed)
	previous := pct(prevPassed, prevPassed+prevFailed)

	return &PassRate{
		Percentage: current,
		Passed:     passed,
		Failed:     failed,
		Total:      passed + failed,
		Trend:      round1(current - previous),
		Days:       days,
	}, nil
}

// outcomeCounts tallies pass/fail test outcomes for runs finished in w.
func (s *Service) outcomeCounts(ctx context.Context, w window) (passed, failed int, err error) {
	var p, f sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT
			SUM(CASE WHEN rt.status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN rt.status = ? THEN 1 ELSE 0 END)
		 FROM run_tests rt
		 JOIN runs r ON r.id = rt.run_id
		 WHERE rt.status IN (?, ?)
		   AND r.finished_at >= ? AND r.finished_at < ?`,
		store.TestPassed, store.TestFailed,
		store.TestPassed, store.TestFailed,
		w.start, w.end,
	).Scan(&p, &f)
	if err != nil {
		return 0, 0, fmt.Errorf("dashboard: counting outcomes: %w", err)
	}

	return int(p.Int64), int(f.Int64), nil
}

// EnvironmentExecutions is one environment's run volume.
type EnvironmentExecutions struct {
	Environment string `json:"environment"`
	Count       int    `json:"count"`
	Trend       int    `json:"trend"`
}

// Executions is run volume over a window, overall and per environment.
type Executions struct {
	Total        int                     `json:"total"`
	Trend        int                     `json:"trend"`
	Environments []EnvironmentExecutions `json:"environments"`
	Days         int                     `json:"days"`
}

// Executions counts runs created inside the window, grouped by
// environment, with per-group deltas against the preceding window.
func (s *Service) Executions(ctx context.Context, days int) (*Executions, error) {
	days = ClampDays(days)
	cur := s.currentWindow(days)

	current, err := s.runCountsByEnvironment(ctx, cur)
	if err != nil {
		return nil, err
	}

	previous, err := s.runCountsByEnvironment(ctx, previousWindow(cur, days))
	if err != nil {
		return nil, err
	}

	out := &Executions{Environments: []EnvironmentExecutions{}, Days: days}

	for _, env := range sortedKeys(current) {
		count := current[env]
		out.Total += count
		out.Environments = append(out.Environments, EnvironmentExecutions{
			Environment: env,
			Count:       count,
			Trend:       count - previous[env],
		})
	}

	prevTotal := 0
	for _, count := range previous {
		prevTotal += count
	}
	out.Trend = out.Total - prevTotal

	return out, nil
}

// runCountsByEnvironment counts runs created in w per environment.
func (s *Service) runCountsByEnvironment(ctx context.Context, w window) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT environment, COUNT(*)
		 FROM runs
		 WHERE created_at >= ? AND created_at < ?
		 GROUP BY environment`,
		w.start, w.end)
	if err != nil {
		return nil, fmt.Errorf("dashboard: counting runs by environment: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			env   string
			count int
		)
		if err := rows.Scan(&env, &count); err != nil {
			return nil, fmt.Errorf("dashboard: scanning run count: %w", err)
		}
		counts[env] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dashboard: iterating run counts: %w", err)
	}

	return counts, nil
}
