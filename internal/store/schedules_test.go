package store

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestScheduleCRUD(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSchedule(ctx, ScheduleParams{
		Name:                "smoke hourly",
		Cron:                "0 * * * *",
		Enabled:             true,
		Environment:         "SIT1",
		Selector:            Selector{Type: SelectorTags, Tags: []string{"smoke"}},
		DefaultRunOverrides: map[string]any{"headless": true},
		ActorEmail:          "ops@x",
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	if created.ID == "" || !created.Enabled {
		t.Errorf("created = %+v", created)
	}

	if created.LastTriggeredAt != nil {
		t.Error("fresh schedule has lastTriggeredAt")
	}

	if created.CreatedBy != "ops@x" || created.UpdatedBy != "ops@x" {
		t.Errorf("actor emails = %q/%q", created.CreatedBy, created.UpdatedBy)
	}

	got, err := s.GetSchedule(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}

	if got.Selector.Type != SelectorTags || !reflect.DeepEqual(got.Selector.Tags, []string{"smoke"}) {
		t.Errorf("selector = %+v", got.Selector)
	}

	if got.DefaultRunOverrides["headless"] != true {
		t.Errorf("overrides = %+v", got.DefaultRunOverrides)
	}

	updated, err := s.UpdateSchedule(ctx, created.ID, ScheduleParams{
		Name:        "smoke nightly",
		Cron:        "0 2 * * *",
		Enabled:     false,
		Environment: "SIT2",
		Selector:    Selector{Type: SelectorExplicit, TestKeys: []string{"a.one"}},
		ActorEmail:  "lead@x",
	})
	if err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}

	if updated.Name != "smoke nightly" || updated.Enabled || updated.Environment != "SIT2" {
		t.Errorf("updated = %+v", updated)
	}

	if updated.Selector.Type != SelectorExplicit {
		t.Errorf("selector type = %s", updated.Selector.Type)
	}

	if updated.CreatedBy != "ops@x" || updated.UpdatedBy != "lead@x" {
		t.Errorf("actor emails after update = %q/%q", updated.CreatedBy, updated.UpdatedBy)
	}

	missing, err := s.UpdateSchedule(ctx, "no-such-id", ScheduleParams{Name: "x"})
	if err != nil {
		t.Fatalf("UpdateSchedule unknown: %v", err)
	}

	if missing != nil {
		t.Errorf("update of unknown id returned %+v", missing)
	}

	ok, err := s.DeleteSchedule(ctx, created.ID)
	if err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}

	if !ok {
		t.Error("DeleteSchedule did not delete")
	}

	gone, err := s.GetSchedule(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSchedule after delete: %v", err)
	}

	if gone != nil {
		t.Errorf("deleted schedule still readable: %+v", gone)
	}
}

func TestDeleteSchedule_ClearsRunBackReference(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	sched, err := s.CreateSchedule(ctx, ScheduleParams{
		Name:        "regression",
		Cron:        "*/30 * * * *",
		Enabled:     true,
		Environment: "SIT1",
		Selector:    Selector{Type: SelectorFolder, FolderPrefix: "reg"},
		ActorEmail:  "ops@x",
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	run, err := s.CreateRun(ctx, NewRun{
		TriggerType: TriggerSchedule,
		Environment: "SIT1",
		ScheduleID:  sched.ID,
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if ok, err := s.DeleteSchedule(ctx, sched.ID); err != nil || !ok {
		t.Fatalf("DeleteSchedule: ok=%v err=%v", ok, err)
	}

	// ON DELETE SET NULL: the run survives without its back-reference.
	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if got == nil {
		t.Fatal("run deleted with its schedule")
	}

	if got.ScheduleID != "" {
		t.Errorf("scheduleId = %q, want cleared", got.ScheduleID)
	}
}

func TestListEnabledSchedules(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	mk := func(name string, enabled bool) {
		t.Helper()

		if _, err := s.CreateSchedule(ctx, ScheduleParams{
			Name:        name,
			Cron:        "0 * * * *",
			Enabled:     enabled,
			Environment: "SIT1",
			Selector:    Selector{Type: SelectorFolder, FolderPrefix: "x"},
			ActorEmail:  "ops@x",
		}); err != nil {
			t.Fatalf("CreateSchedule(%s): %v", name, err)
		}
	}

	mk("b-on", true)
	mk("a-off", false)
	mk("c-on", true)

	enabled, err := s.ListEnabledSchedules(ctx)
	if err != nil {
		t.Fatalf("ListEnabledSchedules: %v", err)
	}

	if len(enabled) != 2 {
		t.Fatalf("enabled = %d, want 2", len(enabled))
	}

	if enabled[0].Name != "b-on" || enabled[1].Name != "c-on" {
		t.Errorf("order = [%s %s]", enabled[0].Name, enabled[1].Name)
	}

	all, err := s.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("ListSchedules: %v", err)
	}

	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}
}

func TestTouchScheduleTriggered(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	sched, err := s.CreateSchedule(ctx, ScheduleParams{
		Name:        "touch me",
		Cron:        "0 * * * *",
		Enabled:     true,
		Environment: "SIT1",
		Selector:    Selector{Type: SelectorFolder, FolderPrefix: "x"},
		ActorEmail:  "ops@x",
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	firedAt := time.Date(2026, 8, 20, 2, 0, 0, 0, time.UTC)
	if err := s.TouchScheduleTriggered(ctx, sched.ID, firedAt); err != nil {
		t.Fatalf("TouchScheduleTriggered: %v", err)
	}

	got, err := s.GetSchedule(ctx, sched.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}

	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(firedAt) {
		t.Errorf("lastTriggeredAt = %v, want %v", got.LastTriggeredAt, firedAt)
	}
}
