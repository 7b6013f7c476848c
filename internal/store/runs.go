package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// runSelectCols is the column list shared by all runs queries.
const runSelectCols = `SELECT id, status, trigger_type, environment, schedule_id,
	triggered_by_email, run_overrides, metadata, summary,
	created_at, started_at, finished_at
 FROM runs `

// defaultRunPageSize bounds ListRuns when the caller gives no limit.
const defaultRunPageSize = 50

// NewRun describes a run to create. The store mints the id, stamps
// createdAt, and attaches one pending RunTest per entry in Tests — all in a
// single transaction.
type NewRun struct {
	TriggerType      TriggerType
	Environment      string
	ScheduleID       string
	TriggeredByEmail string
	RunOverrides     map[string]any
	Metadata         map[string]any
	Tests            []RunTestPair
}

// RunFilter narrows ListRuns. Zero value returns the most recent page of
// all runs.
type RunFilter struct {
	Status      RunStatus
	Environment string
	Limit       int
	Offset      int
}

// CreateRun inserts a queued run and its pending test rows atomically.
// An empty test list is permitted.
func (s *Store) CreateRun(ctx context.Context, req NewRun) (*Run, error) {
	overridesJSON, err := encodeJSON(req.RunOverrides)
	if err != nil {
		return nil, fmt.Errorf("store: encoding run overrides: %w", err)
	}

	metadataJSON, err := encodeJSON(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("store: encoding run metadata: %w", err)
	}

	runID := uuid.NewString()
	now := NowNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin create run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs
			(id, status, trigger_type, environment, schedule_id,
			 triggered_by_email, run_overrides, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, RunQueued, req.TriggerType, req.Environment,
		nullString(req.ScheduleID), req.TriggeredByEmail,
		overridesJSON, metadataJSON, now)
	if err != nil {
		return nil, fmt.Errorf("store: inserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_tests (id, run_id, test_id, test_key, status)
			VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("store: prepare run test insert: %w", err)
	}
	defer stmt.Close()

	for _, pair := range req.Tests {
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(), runID, pair.TestID, pair.TestKey, TestPending); err != nil {
			return nil, fmt.Errorf("store: inserting run test %s: %w", pair.TestKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit create run: %w", err)
	}

	s.logger.Info("run created",
		slog.String("run_id", runID),
		slog.String("environment", req.Environment),
		slog.String("trigger", string(req.TriggerType)),
		slog.Int("tests", len(req.Tests)),
	)

	return s.GetRun(ctx, runID)
}

// GetRun returns the run with the given id, or nil if none exists.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runSelectCols+`WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListRuns returns one page of runs matching the filter, most recent first,
// plus the total count of matching rows for pagination.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]Run, int, error) {
	var (
		conds []string
		args  []any
	)

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}

	if filter.Environment != "" {
		conds = append(conds, "environment = ?")
		args = append(args, filter.Environment)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: counting runs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunPageSize
	}

	query := runSelectCols + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: listing runs: %w", err)
	}
	defer rows.Close()

	var result []Run

	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, 0, scanErr
		}

		result = append(result, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: iterating run rows: %w", err)
	}

	return result, total, nil
}

// CountRunsByStatus returns the number of runs in the given status.
func (s *Store) CountRunsByStatus(ctx context.Context, status RunStatus) (int, error) {
	var count int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: counting %s runs: %w", status, err)
	}

	return count, nil
}

// OldestQueuedRun returns the queued run with the earliest createdAt, or nil
// when the queue is empty. FIFO admission depends on this ordering.
func (s *Store) OldestQueuedRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		runSelectCols+`WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		RunQueued)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return run, nil
}

// MarkRunRunning transitions a queued run to running, stamping startedAt.
// Returns false when the run is no longer queued — the caller lost the race
// (another dispatch claimed it, or it was cancelled) and must not execute it.
func (s *Store) MarkRunRunning(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, started_at = ?
		 WHERE id = ? AND status = ?`,
		RunRunning, NowNano(), id, RunQueued)
	if err != nil {
		return false, fmt.Errorf("store: marking run %s running: %w", id, err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return false, fmt.Errorf("store: run running rows affected: %w", rowsErr)
	}

	return n > 0, nil
}

// FinishRun transitions a running run to passed or failed, stamping
// finishedAt. Returns false when the run is not running — a concurrent
// cancel keeps its cancelled status, and the summary is persisted separately.
func (s *Store) FinishRun(ctx context.Context, id string, status RunStatus) (bool, error) {
	if status != RunPassed && status != RunFailed {
		return false, fmt.Errorf("store: finish run %s: invalid terminal status %q", id, status)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?
		 WHERE id = ? AND status = ?`,
		status, NowNano(), id, RunRunning)
	if err != nil {
		return false, fmt.Errorf("store: finishing run %s: %w", id, err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return false, fmt.Errorf("store: finish run rows affected: %w", rowsErr)
	}

	return n > 0, nil
}

// CancelRun transitions a queued or running run to cancelled, stamping
// finishedAt. A run cancelled before it ever started also has its pending
// test rows skipped here, since no executor will ever visit them. Returns
// false when the run was already terminal (the call is a no-op).
func (s *Store) CancelRun(ctx context.Context, id string) (bool, error) {
	now := NowNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin cancel run: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		RunCancelled, now, id, RunQueued, RunRunning)
	if err != nil {
		return false, fmt.Errorf("store: cancelling run %s: %w", id, err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return false, fmt.Errorf("store: cancel rows affected: %w", rowsErr)
	}

	if n == 0 {
		return false, nil
	}

	// Never-started runs have no executor to skip their tests.
	var startedAt sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT started_at FROM runs WHERE id = ?`, id).Scan(&startedAt); err != nil {
		return false, fmt.Errorf("store: reading cancelled run %s: %w", id, err)
	}

	if !startedAt.Valid {
		if _, err := tx.ExecContext(ctx,
			`UPDATE run_tests SET status = ?, finished_at = ?
			 WHERE run_id = ? AND status = ?`,
			TestSkipped, now, id, TestPending); err != nil {
			return false, fmt.Errorf("store: skipping tests of cancelled run %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit cancel run: %w", err)
	}

	s.logger.Info("run cancelled", slog.String("run_id", id))

	return true, nil
}

// SetRunSummary persists the terminal tally for a run.
func (s *Store) SetRunSummary(ctx context.Context, id string, summary RunSummary) error {
	summaryJSON, err := encodeJSON(summary)
	if err != nil {
		return fmt.Errorf("store: encoding summary for run %s: %w", id, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE runs SET summary = ? WHERE id = ?`, summaryJSON, id); err != nil {
		return fmt.Errorf("store: setting summary for run %s: %w", id, err)
	}

	return nil
}

// HasActiveRunForSchedule reports whether any run created by the schedule is
// still queued or running. The scheduler uses this for overlap suppression.
func (s *Store) HasActiveRunForSchedule(ctx context.Context, scheduleID string) (bool, error) {
	var count int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE schedule_id = ? AND status IN (?, ?)`,
		scheduleID, RunQueued, RunRunning).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: counting active runs for schedule %s: %w", scheduleID, err)
	}

	return count > 0, nil
}

// ListRunIDsCreatedBefore returns the ids of runs created before the cutoff,
// oldest first. Retention deletes artifacts by these ids before the rows.
func (s *Store) ListRunIDsCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM runs WHERE created_at < ? ORDER BY created_at ASC`,
		ToUnixNano(cutoff))
	if err != nil {
		return nil, fmt.Errorf("store: listing expired runs: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scanning expired run id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating expired run ids: %w", err)
	}

	return ids, nil
}

// DeleteRuns removes the given runs; run_tests rows cascade. Returns the
// number of runs deleted.
func (s *Store) DeleteRuns(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("store: deleting runs: %w", err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return 0, fmt.Errorf("store: delete runs rows affected: %w", rowsErr)
	}

	return int(n), nil
}

// RunExists reports whether a run row with the given id exists. The orphan
// reaper uses this to decide whether an artifact directory is abandoned.
func (s *Store) RunExists(ctx context.Context, id string) (bool, error) {
	var count int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: checking run %s: %w", id, err)
	}

	return count > 0, nil
}

// scanRun scans a single runs row, parsing JSON columns.
func scanRun(row rowScanner) (*Run, error) {
	var (
		run           Run
		scheduleID    sql.NullString
		overridesJSON sql.NullString
		metadataJSON  sql.NullString
		summaryJSON   sql.NullString
		createdAt     int64
		startedAt     sql.NullInt64
		finishedAt    sql.NullInt64
	)

	err := row.Scan(&run.ID, &run.Status, &run.TriggerType, &run.Environment,
		&scheduleID, &run.TriggeredByEmail, &overridesJSON, &metadataJSON,
		&summaryJSON, &createdAt, &startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("store: scanning run row: %w", err)
	}

	run.ScheduleID = scheduleID.String

	if err := decodeJSON(overridesJSON, &run.RunOverrides); err != nil {
		return nil, fmt.Errorf("store: run %s overrides: %w", run.ID, err)
	}

	if err := decodeJSON(metadataJSON, &run.Metadata); err != nil {
		return nil, fmt.Errorf("store: run %s metadata: %w", run.ID, err)
	}

	if summaryJSON.Valid {
		run.Summary = &RunSummary{}
		if err := decodeJSON(summaryJSON, run.Summary); err != nil {
			return nil, fmt.Errorf("store: run %s summary: %w", run.ID, err)
		}
	}

	run.CreatedAt = FromUnixNano(createdAt)
	run.StartedAt = timeFromNano(startedAt)
	run.FinishedAt = timeFromNano(finishedAt)

	return &run, nil
}
