package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// scheduleSelectCols is the column list shared by all schedules queries.
const scheduleSelectCols = `SELECT id, name, cron, enabled, environment,
	last_triggered_at, selector, default_run_overrides,
	created_by, updated_by, created_at, updated_at
 FROM schedules `

// ScheduleParams carries the mutable fields of a schedule, used by both
// create and update.
type ScheduleParams struct {
	Name                string
	Cron                string
	Enabled             bool
	Environment         string
	Selector            Selector
	DefaultRunOverrides map[string]any
	ActorEmail          string
}

// CreateSchedule inserts a new schedule and returns the stored row.
func (s *Store) CreateSchedule(ctx context.Context, params ScheduleParams) (*Schedule, error) {
	selectorJSON, err := encodeJSON(params.Selector)
	if err != nil {
		return nil, fmt.Errorf("store: encoding selector: %w", err)
	}

	overridesJSON, err := encodeJSON(params.DefaultRunOverrides)
	if err != nil {
		return nil, fmt.Errorf("store: encoding schedule overrides: %w", err)
	}

	id := uuid.NewString()
	now := NowNano()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules
			(id, name, cron, enabled, environment, selector,
			 default_run_overrides, created_by, updated_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, params.Name, params.Cron, boolToInt(params.Enabled),
		params.Environment, selectorJSON, overridesJSON,
		params.ActorEmail, params.ActorEmail, now, now)
	if err != nil {
		return nil, fmt.Errorf("store: inserting schedule %s: %w", params.Name, err)
	}

	s.logger.Info("schedule created",
		slog.String("schedule_id", id),
		slog.String("name", params.Name),
		slog.String("cron", params.Cron),
	)

	return s.GetSchedule(ctx, id)
}

// UpdateSchedule replaces the mutable fields of a schedule. Returns nil if
// the id is unknown.
func (s *Store) UpdateSchedule(ctx context.Context, id string, params ScheduleParams) (*Schedule, error) {
	selectorJSON, err := encodeJSON(params.Selector)
	if err != nil {
		return nil, fmt.Errorf("store: encoding selector: %w", err)
	}

	overridesJSON, err := encodeJSON(params.DefaultRunOverrides)
	if err != nil {
		return nil, fmt.Errorf("store: encoding schedule overrides: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET name = ?, cron = ?, enabled = ?, environment = ?,
			selector = ?, default_run_overrides = ?, updated_by = ?, updated_at = ?
		 WHERE id = ?`,
		params.Name, params.Cron, boolToInt(params.Enabled), params.Environment,
		selectorJSON, overridesJSON, params.ActorEmail, NowNano(), id)
	if err != nil {
		return nil, fmt.Errorf("store: updating schedule %s: %w", id, err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return nil, fmt.Errorf("store: update schedule rows affected: %w", rowsErr)
	}

	if n == 0 {
		return nil, nil
	}

	return s.GetSchedule(ctx, id)
}

// GetSchedule returns the schedule with the given id, or nil if none exists.
func (s *Store) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, scheduleSelectCols+`WHERE id = ?`, id)

	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return sched, nil
}

// ListSchedules returns all schedules ordered by name.
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	return s.querySchedules(ctx, `ORDER BY name ASC`, "list schedules")
}

// ListEnabledSchedules returns the schedules the ticker evaluates.
func (s *Store) ListEnabledSchedules(ctx context.Context) ([]Schedule, error) {
	return s.querySchedules(ctx, `WHERE enabled = 1 ORDER BY name ASC`, "list enabled schedules")
}

// DeleteSchedule removes a schedule. Runs that referenced it keep their rows
// with the back-reference cleared (ON DELETE SET NULL). Returns false if the
// id is unknown.
func (s *Store) DeleteSchedule(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: deleting schedule %s: %w", id, err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return false, fmt.Errorf("store: delete schedule rows affected: %w", rowsErr)
	}

	if n > 0 {
		s.logger.Info("schedule deleted", slog.String("schedule_id", id))
	}

	return n > 0, nil
}

// TouchScheduleTriggered records that a schedule fired at the given time.
// Only called after its run was created successfully, so suppressed firings
// never advance the reference point.
func (s *Store) TouchScheduleTriggered(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_triggered_at = ? WHERE id = ?`,
		ToUnixNano(at), id); err != nil {
		return fmt.Errorf("store: touching schedule %s: %w", id, err)
	}

	return nil
}

// querySchedules executes a schedules query with the given suffix clause.
func (s *Store) querySchedules(ctx context.Context, clause, desc string) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelectCols+clause)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", desc, err)
	}
	defer rows.Close()

	var result []Schedule

	for rows.Next() {
		sched, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		result = append(result, *sched)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating %s rows: %w", desc, err)
	}

	return result, nil
}

// scanSchedule scans a single schedules row, parsing JSON columns.
func scanSchedule(row rowScanner) (*Schedule, error) {
	var (
		sched           Schedule
		enabled         int
		lastTriggeredAt sql.NullInt64
		selectorJSON    sql.NullString
		overridesJSON   sql.NullString
		createdAt       int64
		updatedAt       int64
	)

	err := row.Scan(&sched.ID, &sched.Name, &sched.Cron, &enabled,
		&sched.Environment, &lastTriggeredAt, &selectorJSON, &overridesJSON,
		&sched.CreatedBy, &sched.UpdatedBy, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("store: scanning schedule row: %w", err)
	}

	if err := decodeJSON(selectorJSON, &sched.Selector); err != nil {
		return nil, fmt.Errorf("store: schedule %s selector: %w", sched.ID, err)
	}

	if err := decodeJSON(overridesJSON, &sched.DefaultRunOverrides); err != nil {
		return nil, fmt.Errorf("store: schedule %s overrides: %w", sched.ID, err)
	}

	sched.Enabled = enabled != 0
	sched.LastTriggeredAt = timeFromNano(lastTriggeredAt)
	sched.CreatedAt = FromUnixNano(createdAt)
	sched.UpdatedAt = FromUnixNano(updatedAt)

	return &sched, nil
}

// boolToInt converts a bool to its INTEGER column value.
func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
