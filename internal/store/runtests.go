package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// runTestSelectCols is the column list shared by all run_tests queries.
const runTestSelectCols = `SELECT id, run_id, test_id, test_key, status,
	duration_ms, error_message, artifacts, started_at, finished_at
 FROM run_tests `

// ListRunTests returns a run's test rows ordered by testKey, the order the
// executor visits them in.
func (s *Store) ListRunTests(ctx context.Context, runID string) ([]RunTest, error) {
	rows, err := s.db.QueryContext(ctx,
		runTestSelectCols+`WHERE run_id = ? ORDER BY test_key ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: listing run tests for %s: %w", runID, err)
	}
	defer rows.Close()

	var result []RunTest

	for rows.Next() {
		rt, scanErr := scanRunTest(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		result = append(result, *rt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating run test rows: %w", err)
	}

	return result, nil
}

// GetRunTest returns the test row for (runID, testKey), or nil if none
// exists. The live log and screenshot handlers resolve their target with it.
func (s *Store) GetRunTest(ctx context.Context, runID, testKey string) (*RunTest, error) {
	row := s.db.QueryRowContext(ctx,
		runTestSelectCols+`WHERE run_id = ? AND test_key = ?`, runID, testKey)

	rt, err := scanRunTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return rt, nil
}

// MarkTestRunning transitions a pending test row to running, stamping
// startedAt. Returns false when the row is no longer pending.
func (s *Store) MarkTestRunning(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE run_tests SET status = ?, started_at = ?
		 WHERE id = ? AND status = ?`,
		TestRunning, NowNano(), id, TestPending)
	if err != nil {
		return false, fmt.Errorf("store: marking test %s running: %w", id, err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return false, fmt.Errorf("store: test running rows affected: %w", rowsErr)
	}

	return n > 0, nil
}

// FinishTest transitions a running test row to passed or failed, recording
// duration, error message, artifact references, and finishedAt.
func (s *Store) FinishTest(ctx context.Context, id string, status TestStatus,
	durationMs int64, errorMessage string, artifacts *ArtifactRefs,
) (bool, error) {
	if status != TestPassed && status != TestFailed {
		return false, fmt.Errorf("store: finish test %s: invalid terminal status %q", id, status)
	}

	artifactsJSON, err := encodeJSON(artifacts)
	if err != nil {
		return false, fmt.Errorf("store: encoding artifacts for test %s: %w", id, err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE run_tests SET status = ?, duration_ms = ?, error_message = ?,
			artifacts = ?, finished_at = ?
		 WHERE id = ? AND status = ?`,
		status, durationMs, errorMessage, artifactsJSON, NowNano(), id, TestRunning)
	if err != nil {
		return false, fmt.Errorf("store: finishing test %s: %w", id, err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return false, fmt.Errorf("store: finish test rows affected: %w", rowsErr)
	}

	return n > 0, nil
}

// SkipTest transitions a pending test row to skipped with an explanatory
// message (a vanished definition, for example). Returns false when the row
// is no longer pending.
func (s *Store) SkipTest(ctx context.Context, id, errorMessage string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE run_tests SET status = ?, error_message = ?, finished_at = ?
		 WHERE id = ? AND status = ?`,
		TestSkipped, errorMessage, NowNano(), id, TestPending)
	if err != nil {
		return false, fmt.Errorf("store: skipping test %s: %w", id, err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return false, fmt.Errorf("store: skip test rows affected: %w", rowsErr)
	}

	return n > 0, nil
}

// SkipPendingTests bulk-promotes a run's remaining pending rows to skipped.
// Called when the executor observes a cancel between tests. Returns the
// number of rows skipped.
func (s *Store) SkipPendingTests(ctx context.Context, runID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE run_tests SET status = ?, finished_at = ?
		 WHERE run_id = ? AND status = ?`,
		TestSkipped, NowNano(), runID, TestPending)
	if err != nil {
		return 0, fmt.Errorf("store: skipping pending tests for run %s: %w", runID, err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return 0, fmt.Errorf("store: skip pending rows affected: %w", rowsErr)
	}

	return int(n), nil
}

// scanRunTest scans a single run_tests row, parsing the artifacts column.
func scanRunTest(row rowScanner) (*RunTest, error) {
	var (
		rt            RunTest
		durationMs    sql.NullInt64
		artifactsJSON sql.NullString
		startedAt     sql.NullInt64
		finishedAt    sql.NullInt64
	)

	err := row.Scan(&rt.ID, &rt.RunID, &rt.TestID, &rt.TestKey, &rt.Status,
		&durationMs, &rt.ErrorMessage, &artifactsJSON, &startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("store: scanning run test row: %w", err)
	}

	if durationMs.Valid {
		rt.DurationMs = Int64Ptr(durationMs.Int64)
	}

	if artifactsJSON.Valid {
		rt.Artifacts = &ArtifactRefs{}
		if err := decodeJSON(artifactsJSON, rt.Artifacts); err != nil {
			return nil, fmt.Errorf("store: run test %s artifacts: %w", rt.ID, err)
		}
	}

	rt.StartedAt = timeFromNano(startedAt)
	rt.FinishedAt = timeFromNano(finishedAt)

	return &rt, nil
}
