package dashboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// Flakiness thresholds. A test qualifies when it has enough completed
// executions, both outcomes occur, and its failure rate sits inside the
// band — endpoints included. The band excludes tests that (almost) always
// fail: those are broken, not flaky.
const (
	DefaultMinExecutions = 5
	flakyMinRate         = 10.0
	flakyMaxRate         = 90.0
	criticalRate         = 30.0
)

// ExecutionTally is a completed-execution breakdown.
type ExecutionTally struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// LastFailure describes a flaky test's most recent failure.
type LastFailure struct {
	RunID        string    `json:"runId"`
	Date         time.Time `json:"date"`
	Environment  string    `json:"environment"`
	ErrorMessage string    `json:"errorMessage"`
}

// FlakyTest is one test flagged by the detector.
type FlakyTest struct {
	TestKey             string         `json:"testKey"`
	FlakinessScore      float64        `json:"flakinessScore"`
	Critical            bool           `json:"critical"`
	Executions          ExecutionTally `json:"executions"`
	RecentOutcomes      []string       `json:"recentOutcomes"`
	FailingEnvironments []string       `json:"failingEnvironments"`
	LastFailure         *LastFailure   `json:"lastFailure,omitempty"`
}

// FlakyTests detects tests with intermittent outcomes over the window.
// minExecutions <= 0 selects the default. Results are ordered worst first.
func (s *Service) FlakyTests(ctx context.Context, days, minExecutions int) ([]FlakyTest, error) {
	days = ClampDays(days)
	if minExecutions <= 0 {
		minExecutions = DefaultMinExecutions
	}
	w := s.currentWindow(days)

	rows, err := s.db.QueryContext(ctx,
		`SELECT rt.test_key,
			COUNT(*),
			SUM(CASE WHEN rt.status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN rt.status = ? THEN 1 ELSE 0 END)
		 FROM run_tests rt
		 JOIN runs r ON r.id = rt.run_id
		 WHERE rt.status IN (?, ?)
		   AND r.finished_at >= ? AND r.finished_at < ?
		 GROUP BY rt.test_key
		 HAVING COUNT(*) >= ?`,
		store.TestPassed, store.TestFailed,
		store.TestPassed, store.TestFailed,
		w.start, w.end,
		minExecutions)
	if err != nil {
		return nil, fmt.Errorf("dashboard: querying flaky candidates: %w", err)
	}
	defer rows.Close()

	flaky := []FlakyTest{}
	for rows.Next() {
		var (
			key                   string
			total, passed, failed int
		)
		if err := rows.Scan(&key, &total, &passed, &failed); err != nil {
			return nil, fmt.Errorf("dashboard: scanning flaky candidate: %w", err)
		}

		if passed == 0 || failed == 0 {
			continue
		}

		rate := rawRate(failed, total)
		if rate < flakyMinRate || rate > flakyMaxRate {
			continue
		}

		flaky = append(flaky, FlakyTest{
			TestKey:        key,
			FlakinessScore: round1(rate),
			Critical:       rate >= criticalRate,
			Executions:     ExecutionTally{Total: total, Passed: passed, Failed: failed},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dashboard: iterating flaky candidates: %w", err)
	}

	for i := range flaky {
		if err := s.fillFlakyDetail(ctx, &flaky[i], w); err != nil {
			return nil, err
		}
	}

	sort.Slice(flaky, func(i, j int) bool {
		if flaky[i].FlakinessScore != flaky[j].FlakinessScore {
			return flaky[i].FlakinessScore > flaky[j].FlakinessScore
		}
		return flaky[i].TestKey < flaky[j].TestKey
	})

	return flaky, nil
}

// fillFlakyDetail attaches the secondary evidence: recent outcomes, the
// environments that have seen a failure, and the latest failure itself.
func (s *Service) fillFlakyDetail(ctx context.Context, ft *FlakyTest, w window) error {
	outcomes, err := s.recentOutcomes(ctx, ft.TestKey, w)
	if err != nil {
		return err
	}
	ft.RecentOutcomes = outcomes

	envs, err := s.failingEnvironments(ctx, ft.TestKey, w)
	if err != nil {
		return err
	}
	ft.FailingEnvironments = envs

	last, err := s.lastFailure(ctx, ft.TestKey, w)
	if err != nil {
		return err
	}
	ft.LastFailure = last

	return nil
}

// recentOutcomes returns the last 10 pass/fail outcomes, newest first.
func (s *Service) recentOutcomes(ctx context.Context, testKey string, w window) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rt.status
		 FROM run_tests rt
		 JOIN runs r ON r.id = rt.run_id
		 WHERE rt.test_key = ? AND rt.status IN (?, ?)
		   AND r.finished_at >= ? AND r.finished_at < ?
		 ORDER BY rt.finished_at DESC
		 LIMIT 10`,
		testKey, store.TestPassed, store.TestFailed, w.start, w.end)
	if err != nil {
		return nil, fmt.Errorf("dashboard: querying recent outcomes for %s: %w", testKey, err)
	}
	defer rows.Close()

	outcomes := []string{}
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, fmt.Errorf("dashboard: scanning outcome: %w", err)
		}
		outcomes = append(outcomes, status)
	}

	return outcomes, rows.Err()
}

// failingEnvironments returns the environments where the test failed at
// least once in the window, sorted.
func (s *Service) failingEnvironments(ctx context.Context, testKey string, w window) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT r.environment
		 FROM run_tests rt
		 JOIN runs r ON r.id = rt.run_id
		 WHERE rt.test_key = ? AND rt.status = ?
		   AND r.finished_at >= ? AND r.finished_at < ?
		 ORDER BY r.environment`,
		testKey, store.TestFailed, w.start, w.end)
	if err != nil {
		return nil, fmt.Errorf("dashboard: querying failing environments for %s: %w", testKey, err)
	}
	defer rows.Close()

	envs := []string{}
	for rows.Next() {
		var env string
		if err := rows.Scan(&env); err != nil {
			return nil, fmt.Errorf("dashboard: scanning environment: %w", err)
		}
		envs = append(envs, env)
	}

	return envs, rows.Err()
}

// lastFailure returns the most recent failure in the window, or nil.
func (s *Service) lastFailure(ctx context.Context, testKey string, w window) (*LastFailure, error) {
	var (
		lf         LastFailure
		finishedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT r.id, rt.finished_at, r.environment, rt.error_message
		 FROM run_tests rt
		 JOIN runs r ON r.id = rt.run_id
		 WHERE rt.test_key = ? AND rt.status = ?
		   AND r.finished_at >= ? AND r.finished_at < ?
		 ORDER BY rt.finished_at DESC
		 LIMIT 1`,
		testKey, store.TestFailed, w.start, w.end,
	).Scan(&lf.RunID, &finishedAt, &lf.Environment, &lf.ErrorMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dashboard: querying last failure for %s: %w", testKey, err)
	}

	lf.Date = store.FromUnixNano(finishedAt)

	return &lf, nil
}
