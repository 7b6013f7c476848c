package store

import (
	"context"
	"fmt"
	"log/slog"
)

// InterruptedMessage is recorded on test rows orphaned by a process restart.
const InterruptedMessage = "Test execution interrupted by server restart"

// RecoverInterrupted fails every run left queued or running by a previous
// process, along with their unfinished test rows, in one transaction. Runs
// once at startup before any worker starts, so HTTP serving begins with no
// non-terminal state this process did not itself create. Returns the counts
// of runs and tests transitioned.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, int, error) {
	now := NowNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("store: begin recovery: %w", err)
	}
	defer tx.Rollback()

	testResult, err := tx.ExecContext(ctx,
		`UPDATE run_tests SET status = ?, error_message = ?, finished_at = ?
		 WHERE status IN (?, ?)
		   AND run_id IN (SELECT id FROM runs WHERE status IN (?, ?))`,
		TestFailed, InterruptedMessage, now,
		TestPending, TestRunning, RunQueued, RunRunning)
	if err != nil {
		return 0, 0, fmt.Errorf("store: recovering interrupted tests: %w", err)
	}

	tests, err := testResult.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("store: recovery test rows affected: %w", err)
	}

	runResult, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?
		 WHERE status IN (?, ?)`,
		RunFailed, now, RunQueued, RunRunning)
	if err != nil {
		return 0, 0, fmt.Errorf("store: recovering interrupted runs: %w", err)
	}

	runs, err := runResult.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("store: recovery run rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("store: commit recovery: %w", err)
	}

	if runs > 0 {
		s.logger.Warn("recovered interrupted runs",
			slog.Int64("runs", runs),
			slog.Int64("tests", tests),
		)
	}

	return int(runs), int(tests), nil
}
