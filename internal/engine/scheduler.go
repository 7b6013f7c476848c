package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// DefaultSchedulerInterval is how often enabled schedules are evaluated.
const DefaultSchedulerInterval = 30 * time.Second

// cronParser accepts standard 5-field expressions plus an optional leading
// seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ParseCron parses a 5-field (minute granularity) or 6-field (leading
// seconds) cron expression. Expressions evaluate in UTC.
func ParseCron(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) < 5 || len(fields) > 6 {
		return nil, fmt.Errorf("cron expression must have 5 or 6 fields, got %d", len(fields))
	}
	return cronParser.Parse(expr)
}

// Scheduler fires enabled schedules whose cron expressions have come due,
// creating queued runs for the queue to admit. A schedule whose previous
// run is still queued or running is suppressed without advancing its
// trigger bookkeeping, so it fires on the next evaluation after the run
// clears.
type Scheduler struct {
	store    *store.Store
	interval time.Duration
	logger   *slog.Logger
	metrics  *Metrics

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler wires a Scheduler. interval <= 0 selects
// DefaultSchedulerInterval.
func NewScheduler(st *store.Store, interval time.Duration, logger *slog.Logger, metrics *Metrics) *Scheduler {
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	return &Scheduler{
		store:    st,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run evaluates schedules until ctx is cancelled. Always returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick evaluates every enabled schedule once. A schedule that errors is
// logged and skipped; it never blocks the others.
func (s *Scheduler) tick(ctx context.Context) {
	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		s.logger.Error("scheduler: listing schedules", slog.Any("error", err))
		return
	}

	now := s.now().UTC()
	for i := range schedules {
		if err := s.evaluate(ctx, &schedules[i], now); err != nil {
			s.logger.Error("scheduler: evaluating schedule",
				slog.String("schedule_id", schedules[i].ID),
				slog.String("name", schedules[i].Name),
				slog.Any("error", err))
		}
	}
}

// evaluate fires sched if its next occurrence after the last trigger has
// passed. Invalid cron expressions are reported but never disable the
// schedule; fixing the expression is enough to resume it.
func (s *Scheduler) evaluate(ctx context.Context, sched *store.Schedule, now time.Time) error {
	expr, err := ParseCron(sched.Cron)
	if err != nil {
		return fmt.Errorf("invalid cron %q: %w", sched.Cron, err)
	}

	ref := time.Unix(0, 0)
	if sched.LastTriggeredAt != nil {
		ref = *sched.LastTriggeredAt
	}
	next := expr.Next(ref.UTC())
	if next.IsZero() || next.After(now) {
		return nil
	}

	active, err := s.store.HasActiveRunForSchedule(ctx, sched.ID)
	if err != nil {
		return fmt.Errorf("checking for active run: %w", err)
	}
	if active {
		s.metrics.ScheduleSuppressed.Inc()
		s.logger.Info("schedule suppressed, previous run still active",
			slog.String("schedule_id", sched.ID),
			slog.String("name", sched.Name))
		return nil
	}

	tests, err := s.resolveSelector(ctx, sched.Selector)
	if err != nil {
		return fmt.Errorf("resolving selector: %w", err)
	}
	if len(tests) == 0 {
		s.logger.Warn("schedule selector resolved no tests",
			slog.String("schedule_id", sched.ID),
			slog.String("name", sched.Name))
	}

	// An empty run is still created: it records that the schedule fired.
	run, err := s.store.CreateRun(ctx, store.NewRun{
		TriggerType:  store.TriggerSchedule,
		Environment:  sched.Environment,
		ScheduleID:   sched.ID,
		RunOverrides: sched.DefaultRunOverrides,
		Metadata: map[string]any{
			"scheduleName": sched.Name,
			"selectorType": string(sched.Selector.Type),
		},
		Tests: tests,
	})
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	if err := s.store.TouchScheduleTriggered(ctx, sched.ID, now); err != nil {
		return fmt.Errorf("recording trigger time: %w", err)
	}

	s.metrics.ScheduleFires.Inc()
	s.logger.Info("schedule fired",
		slog.String("schedule_id", sched.ID),
		slog.String("name", sched.Name),
		slog.String("run_id", run.ID),
		slog.Int("tests", len(tests)))
	return nil
}

// resolveSelector expands a schedule's selector into the active tests it
// matches at fire time. Explicit keys that no longer resolve are dropped
// with a warning rather than failing the fire.
func (s *Scheduler) resolveSelector(ctx context.Context, sel store.Selector) ([]store.RunTestPair, error) {
	switch sel.Type {
	case store.SelectorFolder:
		defs, err := s.store.ListTests(ctx, store.TestFilter{FolderPrefix: sel.FolderPrefix})
		if err != nil {
			return nil, err
		}
		return pairsFromDefinitions(defs), nil

	case store.SelectorTags:
		defs, err := s.store.ListTests(ctx, store.TestFilter{Tags: sel.Tags})
		if err != nil {
			return nil, err
		}
		return pairsFromDefinitions(defs), nil

	case store.SelectorExplicit:
		pairs := make([]store.RunTestPair, 0, len(sel.TestKeys))
		for _, key := range sel.TestKeys {
			def, err := s.store.GetTestByKey(ctx, key)
			if err != nil {
				return nil, err
			}
			if def == nil || !def.Active {
				s.logger.Warn("schedule references missing test", slog.String("test_key", key))
				continue
			}
			pairs = append(pairs, store.RunTestPair{TestID: def.ID, TestKey: def.TestKey})
		}
		return pairs, nil

	default:
		return nil, fmt.Errorf("unknown selector type %q", sel.Type)
	}
}

func pairsFromDefinitions(defs []store.TestDefinition) []store.RunTestPair {
	pairs := make([]store.RunTestPair, 0, len(defs))
	for _, def := range defs {
		pairs = append(pairs, store.RunTestPair{TestID: def.ID, TestKey: def.TestKey})
	}
	return pairs
}
