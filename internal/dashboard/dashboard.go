// Package dashboard computes the read models behind the dashboard API:
// active-run progress, pass rates with trends, execution volumes, flaky-test
// detection, environment health, and per-test statistics. Everything is
// derived by SQL over the store's database handle; nothing here mutates
// state.
package dashboard

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// DefaultWindowDays is the rolling window applied when the caller does not
// choose one.
const DefaultWindowDays = 30

// Window bounds accepted from the HTTP layer.
const (
	MinWindowDays = 1
	MaxWindowDays = 365
)

// ClampDays normalizes a caller-supplied window to the supported range,
// mapping zero to the default.
func ClampDays(days int) int {
	switch {
	case days == 0:
		return DefaultWindowDays
	case days < MinWindowDays:
		return MinWindowDays
	case days > MaxWindowDays:
		return MaxWindowDays
	default:
		return days
	}
}

// Service answers dashboard queries.
type Service struct {
	db     *sql.DB
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewService creates a Service over the store's database handle.
func NewService(db *sql.DB, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// window is a half-open interval [start, end) in store nanoseconds.
type window struct {
	start int64
	end   int64
}

// currentWindow returns the trailing window of the given width, and
// previousWindow the immediately preceding one of the same width. Both use
// the same calendar arithmetic so day widths stay consistent across DST and
// month boundaries.
func (s *Service) currentWindow(days int) window {
	end := s.now().UTC()
	return window{start: store.ToUnixNano(end.AddDate(0, 0, -days)), end: store.ToUnixNano(end)}
}

func previousWindow(cur window, days int) window {
	start := store.FromUnixNano(cur.start)
	return window{start: store.ToUnixNano(start.AddDate(0, 0, -days)), end: cur.start}
}

// round1 rounds half-up to one decimal place.
func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// sortedKeys returns m's keys in lexical order for stable output.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// pct returns part/whole as a percentage rounded to one decimal, and 0 for
// an empty whole.
func pct(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round1(float64(part) / float64(whole) * 100)
}

// rawRate returns part/whole×100 unrounded, and 0 for an empty whole.
// Threshold comparisons use the raw value so rounding never reclassifies.
func rawRate(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// ActiveRunProgress is one running run's completion state.
type ActiveRunProgress struct {
	RunID       string     `json:"runId"`
	Environment string     `json:"environment"`
	TriggerType string     `json:"triggerType"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	Completed   int        `json:"completed"`
	Total       int        `json:"total"`
}

// ActiveRuns is the live snapshot pushed to the dashboard.
type ActiveRuns struct {
	Queued  int                 `json:"queued"`
	Running int                 `json:"running"`
	Runs    []ActiveRunProgress `json:"runs"`
}

// ActiveRuns reports queued/running counts and per-running-run progress,
// oldest start first.
func (s *Service) ActiveRuns(ctx context.Context) (*ActiveRuns, error) {
	out := &ActiveRuns{Runs: []ActiveRunProgress{}}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = ?`, store.RunQueued,
	).Scan(&out.Queued); err != nil {
		return nil, fmt.Errorf("dashboard: counting queued runs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.environment, r.trigger_type, r.started_at,
			COUNT(rt.id),
			SUM(CASE WHEN rt.status IN (?, ?, ?) THEN 1 ELSE 0 END)
		 FROM runs r
		 LEFT JOIN run_tests rt ON rt.run_id = r.id
		 WHERE r.status = ?
		 GROUP BY r.id
		 ORDER BY r.started_at ASC`,
		store.TestPassed, store.TestFailed, store.TestSkipped, store.RunRunning)
	if err != nil {
		return nil, fmt.Errorf("dashboard: querying running runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p         ActiveRunProgress
			startedAt sql.NullInt64
			completed sql.NullInt64
		)
		if err := rows.Scan(&p.RunID, &p.Environment, &p.TriggerType,
			&startedAt, &p.Total, &completed); err != nil {
			return nil, fmt.Errorf("dashboard: scanning running run: %w", err)
		}

		if startedAt.Valid {
			t := store.FromUnixNano(startedAt.Int64)
			p.StartedAt = &t
		}
		p.Completed = int(completed.Int64)

		out.Runs = append(out.Runs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dashboard: iterating running runs: %w", err)
	}

	out.Running = len(out.Runs)

	return out, nil
}
