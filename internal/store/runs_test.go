package store

import (
	"context"
	"testing"
	"time"
)

// seedRun creates a queued run with the given test keys.
func seedRun(t *testing.T, s *Store, env string, keys ...string) *Run {
	t.Helper()

	pairs := make([]RunTestPair, len(keys))
	for i, k := range keys {
		pairs[i] = RunTestPair{TestID: "tid-" + k, TestKey: k}
	}

	run, err := s.CreateRun(context.Background(), NewRun{
		TriggerType:      TriggerManual,
		Environment:      env,
		TriggeredByEmail: "qa@x",
		Tests:            pairs,
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	return run
}

func TestCreateRun_WithTests(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	run := seedRun(t, s, "SIT1", "b.second", "a.first")

	if run.Status != RunQueued {
		t.Errorf("status = %s, want queued", run.Status)
	}

	if run.StartedAt != nil || run.FinishedAt != nil {
		t.Error("fresh run has started/finished timestamps")
	}

	if run.Summary != nil {
		t.Errorf("fresh run has summary: %+v", run.Summary)
	}

	tests, err := s.ListRunTests(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListRunTests: %v", err)
	}

	if len(tests) != 2 {
		t.Fatalf("run tests = %d, want 2", len(tests))
	}

	// Execution order is testKey ASC regardless of insertion order.
	if tests[0].TestKey != "a.first" || tests[1].TestKey != "b.second" {
		t.Errorf("order = [%s %s]", tests[0].TestKey, tests[1].TestKey)
	}

	for _, rt := range tests {
		if rt.Status != TestPending {
			t.Errorf("test %s status = %s, want pending", rt.TestKey, rt.Status)
		}
	}
}

func TestCreateRun_EmptyTestList(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	run := seedRun(t, s, "SIT1")

	tests, err := s.ListRunTests(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListRunTests: %v", err)
	}

	if len(tests) != 0 {
		t.Errorf("audit run has %d tests, want 0", len(tests))
	}
}

func TestRunLifecycle_QueuedToPassed(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	run := seedRun(t, s, "SIT1", "a.one")

	ok, err := s.MarkRunRunning(ctx, run.ID)
	if err != nil {
		t.Fatalf("MarkRunRunning: %v", err)
	}

	if !ok {
		t.Fatal("MarkRunRunning did not claim a queued run")
	}

	// The transition is the serialization point: a second claim must lose.
	again, err := s.MarkRunRunning(ctx, run.ID)
	if err != nil {
		t.Fatalf("second MarkRunRunning: %v", err)
	}

	if again {
		t.Error("second MarkRunRunning claimed an already-running run")
	}

	mid, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if mid.Status != RunRunning || mid.StartedAt == nil {
		t.Errorf("after claim: status=%s startedAt=%v", mid.Status, mid.StartedAt)
	}

	if mid.FinishedAt != nil {
		t.Error("running run has finishedAt")
	}

	ok, err = s.FinishRun(ctx, run.ID, RunPassed)
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	if !ok {
		t.Fatal("FinishRun did not transition a running run")
	}

	final, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if final.Status != RunPassed || final.FinishedAt == nil {
		t.Errorf("final: status=%s finishedAt=%v", final.Status, final.FinishedAt)
	}
}

func TestFinishRun_RejectsNonTerminal(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	run := seedRun(t, s, "SIT1")

	if _, err := s.FinishRun(context.Background(), run.ID, RunCancelled); err == nil {
		t.Error("FinishRun(cancelled) should be rejected; cancellation has its own path")
	}
}

func TestCancelRun_QueuedSkipsTests(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	run := seedRun(t, s, "SIT1", "a.one", "a.two")

	ok, err := s.CancelRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	if !ok {
		t.Fatal("CancelRun did not cancel a queued run")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if got.Status != RunCancelled || got.FinishedAt == nil {
		t.Errorf("status=%s finishedAt=%v", got.Status, got.FinishedAt)
	}

	// Never entered running.
	if got.StartedAt != nil {
		t.Errorf("cancelled-while-queued run has startedAt=%v", got.StartedAt)
	}

	tests, err := s.ListRunTests(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListRunTests: %v", err)
	}

	for _, rt := range tests {
		if rt.Status != TestSkipped {
			t.Errorf("test %s status = %s, want skipped", rt.TestKey, rt.Status)
		}
	}

	// Second cancel is a no-op.
	again, err := s.CancelRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("second CancelRun: %v", err)
	}

	if again {
		t.Error("second CancelRun reported a transition")
	}
}

func TestCancelRun_RunningLeavesTestsToExecutor(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	run := seedRun(t, s, "SIT1", "a.one")

	if ok, err := s.MarkRunRunning(ctx, run.ID); err != nil || !ok {
		t.Fatalf("MarkRunRunning: ok=%v err=%v", ok, err)
	}

	if ok, err := s.CancelRun(ctx, run.ID); err != nil || !ok {
		t.Fatalf("CancelRun: ok=%v err=%v", ok, err)
	}

	tests, err := s.ListRunTests(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListRunTests: %v", err)
	}

	// The executor observes the flip and skips; the store must not race it.
	if tests[0].Status != TestPending {
		t.Errorf("test status = %s, want pending", tests[0].Status)
	}

	// A finish arriving after the cancel keeps the cancelled status.
	ok, err := s.FinishRun(ctx, run.ID, RunPassed)
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	if ok {
		t.Error("FinishRun overwrote a cancelled run")
	}
}

func TestOldestQueuedRun_FIFO(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.OldestQueuedRun(ctx)
	if err != nil {
		t.Fatalf("OldestQueuedRun: %v", err)
	}

	if empty != nil {
		t.Errorf("empty queue returned %+v", empty)
	}

	first := seedRun(t, s, "SIT1")
	seedRun(t, s, "SIT2")

	oldest, err := s.OldestQueuedRun(ctx)
	if err != nil {
		t.Fatalf("OldestQueuedRun: %v", err)
	}

	if oldest == nil || oldest.ID != first.ID {
		t.Errorf("oldest = %+v, want run %s", oldest, first.ID)
	}

	if ok, err := s.MarkRunRunning(ctx, first.ID); err != nil || !ok {
		t.Fatalf("MarkRunRunning: ok=%v err=%v", ok, err)
	}

	next, err := s.OldestQueuedRun(ctx)
	if err != nil {
		t.Fatalf("OldestQueuedRun: %v", err)
	}

	if next == nil || next.ID == first.ID {
		t.Errorf("queue still returns the claimed run")
	}
}

func TestListRuns_FilterAndPaginate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	seedRun(t, s, "SIT1")
	seedRun(t, s, "SIT1")
	r3 := seedRun(t, s, "SIT2")

	if ok, err := s.MarkRunRunning(ctx, r3.ID); err != nil || !ok {
		t.Fatalf("MarkRunRunning: ok=%v err=%v", ok, err)
	}

	bySIT1, total, err := s.ListRuns(ctx, RunFilter{Environment: "SIT1"})
	if err != nil {
		t.Fatalf("ListRuns env: %v", err)
	}

	if total != 2 || len(bySIT1) != 2 {
		t.Errorf("SIT1 runs: total=%d len=%d, want 2/2", total, len(bySIT1))
	}

	running, total, err := s.ListRuns(ctx, RunFilter{Status: RunRunning})
	if err != nil {
		t.Fatalf("ListRuns status: %v", err)
	}

	if total != 1 || len(running) != 1 || running[0].ID != r3.ID {
		t.Errorf("running runs: total=%d len=%d", total, len(running))
	}

	page, total, err := s.ListRuns(ctx, RunFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns page: %v", err)
	}

	if total != 3 || len(page) != 2 {
		t.Errorf("page: total=%d len=%d, want 3/2", total, len(page))
	}

	rest, _, err := s.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListRuns offset: %v", err)
	}

	if len(rest) != 1 {
		t.Errorf("second page len=%d, want 1", len(rest))
	}

	count, err := s.CountRunsByStatus(ctx, RunQueued)
	if err != nil {
		t.Fatalf("CountRunsByStatus: %v", err)
	}

	if count != 2 {
		t.Errorf("queued count = %d, want 2", count)
	}
}

func TestSetRunSummary_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	run := seedRun(t, s, "SIT1", "a.one")

	summary := RunSummary{TotalTests: 1, Passed: 1, DurationMs: 4200}
	if err := s.SetRunSummary(ctx, run.ID, summary); err != nil {
		t.Fatalf("SetRunSummary: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if got.Summary == nil || *got.Summary != summary {
		t.Errorf("summary = %+v, want %+v", got.Summary, summary)
	}
}

func TestHasActiveRunForSchedule(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	sched, err := s.CreateSchedule(ctx, ScheduleParams{
		Name:        "nightly",
		Cron:        "0 2 * * *",
		Enabled:     true,
		Environment: "SIT1",
		Selector:    Selector{Type: SelectorFolder, FolderPrefix: "auth"},
		ActorEmail:  "ops@x",
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	active, err := s.HasActiveRunForSchedule(ctx, sched.ID)
	if err != nil {
		t.Fatalf("HasActiveRunForSchedule: %v", err)
	}

	if active {
		t.Error("schedule with no runs reported active")
	}

	run, err := s.CreateRun(ctx, NewRun{
		TriggerType: TriggerSchedule,
		Environment: "SIT1",
		ScheduleID:  sched.ID,
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	active, err = s.HasActiveRunForSchedule(ctx, sched.ID)
	if err != nil {
		t.Fatalf("HasActiveRunForSchedule: %v", err)
	}

	if !active {
		t.Error("queued schedule run not reported active")
	}

	if ok, err := s.CancelRun(ctx, run.ID); err != nil || !ok {
		t.Fatalf("CancelRun: ok=%v err=%v", ok, err)
	}

	active, err = s.HasActiveRunForSchedule(ctx, sched.ID)
	if err != nil {
		t.Fatalf("HasActiveRunForSchedule: %v", err)
	}

	if active {
		t.Error("terminal schedule run still reported active")
	}
}

func TestRunTestTransitions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	run := seedRun(t, s, "SIT1", "a.one", "a.two", "a.three")

	tests, err := s.ListRunTests(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListRunTests: %v", err)
	}

	first := tests[0]

	if ok, err := s.MarkTestRunning(ctx, first.ID); err != nil || !ok {
		t.Fatalf("MarkTestRunning: ok=%v err=%v", ok, err)
	}

	if ok, _ := s.MarkTestRunning(ctx, first.ID); ok {
		t.Error("double MarkTestRunning succeeded")
	}

	artifacts := &ArtifactRefs{ConsoleLog: "console.log", Video: "video.webm"}

	ok, err := s.FinishTest(ctx, first.ID, TestFailed, 3100, "assertion failed", artifacts)
	if err != nil {
		t.Fatalf("FinishTest: %v", err)
	}

	if !ok {
		t.Fatal("FinishTest did not transition a running test")
	}

	got, err := s.GetRunTest(ctx, run.ID, first.TestKey)
	if err != nil {
		t.Fatalf("GetRunTest: %v", err)
	}

	if got.Status != TestFailed || got.ErrorMessage != "assertion failed" {
		t.Errorf("status=%s msg=%q", got.Status, got.ErrorMessage)
	}

	if got.DurationMs == nil || *got.DurationMs != 3100 {
		t.Errorf("durationMs = %v, want 3100", got.DurationMs)
	}

	if got.Artifacts == nil || got.Artifacts.Video != "video.webm" {
		t.Errorf("artifacts = %+v", got.Artifacts)
	}

	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("finished test missing timestamps")
	}

	// A vanished definition skips the pending row with a message.
	second := tests[1]
	if ok, err := s.SkipTest(ctx, second.ID, "Test definition not found"); err != nil || !ok {
		t.Fatalf("SkipTest: ok=%v err=%v", ok, err)
	}

	skipped, err := s.GetRunTest(ctx, run.ID, second.TestKey)
	if err != nil {
		t.Fatalf("GetRunTest: %v", err)
	}

	if skipped.Status != TestSkipped || skipped.ErrorMessage != "Test definition not found" {
		t.Errorf("status=%s msg=%q", skipped.Status, skipped.ErrorMessage)
	}

	// Cancel observation bulk-skips whatever is still pending.
	n, err := s.SkipPendingTests(ctx, run.ID)
	if err != nil {
		t.Fatalf("SkipPendingTests: %v", err)
	}

	if n != 1 {
		t.Errorf("SkipPendingTests skipped %d rows, want 1", n)
	}
}

func TestRetentionQueries(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	oldRun := seedRun(t, s, "SIT1", "a.one")
	freshRun := seedRun(t, s, "SIT1")

	// Backdate the first run past the cutoff.
	backdated := time.Now().AddDate(0, 0, -40)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE runs SET created_at = ? WHERE id = ?`,
		ToUnixNano(backdated), oldRun.ID); err != nil {
		t.Fatalf("backdating run: %v", err)
	}

	cutoff := time.Now().AddDate(0, 0, -30)

	ids, err := s.ListRunIDsCreatedBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("ListRunIDsCreatedBefore: %v", err)
	}

	if len(ids) != 1 || ids[0] != oldRun.ID {
		t.Fatalf("expired ids = %v, want [%s]", ids, oldRun.ID)
	}

	deleted, err := s.DeleteRuns(ctx, ids)
	if err != nil {
		t.Fatalf("DeleteRuns: %v", err)
	}

	if deleted != 1 {
		t.Errorf("deleted %d runs, want 1", deleted)
	}

	// run_tests cascade with their run.
	orphanTests, err := s.ListRunTests(ctx, oldRun.ID)
	if err != nil {
		t.Fatalf("ListRunTests: %v", err)
	}

	if len(orphanTests) != 0 {
		t.Errorf("cascade left %d test rows", len(orphanTests))
	}

	exists, err := s.RunExists(ctx, oldRun.ID)
	if err != nil {
		t.Fatalf("RunExists: %v", err)
	}

	if exists {
		t.Error("deleted run still exists")
	}

	exists, err = s.RunExists(ctx, freshRun.ID)
	if err != nil {
		t.Fatalf("RunExists: %v", err)
	}

	if !exists {
		t.Error("fresh run vanished")
	}

	if n, err := s.DeleteRuns(ctx, nil); err != nil || n != 0 {
		t.Errorf("DeleteRuns(nil) = %d, %v", n, err)
	}
}
