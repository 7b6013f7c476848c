package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// seedFinishedRun drives one run through the real lifecycle so it lands in
// the dashboard's current window with a completed outcome.
func seedFinishedRun(t *testing.T, f *apiFixture, testKey string, passed bool) string {
	t.Helper()

	ctx := context.Background()
	def := seedCatalogTest(t, f.store, testKey, "suite/"+testKey)

	run, err := f.store.CreateRun(ctx, store.NewRun{
		TriggerType: store.TriggerManual,
		Environment: "QA",
		Tests:       []store.RunTestPair{{TestID: def.ID, TestKey: def.TestKey}},
	})
	require.NoError(t, err)

	_, err = f.store.MarkRunRunning(ctx, run.ID)
	require.NoError(t, err)

	rt, err := f.store.GetRunTest(ctx, run.ID, testKey)
	require.NoError(t, err)

	_, err = f.store.MarkTestRunning(ctx, rt.ID)
	require.NoError(t, err)

	testStatus, runStatus := store.TestPassed, store.RunPassed
	message := ""
	if !passed {
		testStatus, runStatus = store.TestFailed, store.RunFailed
		message = "expected 200 got 500"
	}

	_, err = f.store.FinishTest(ctx, rt.ID, testStatus, 800, message, nil)
	require.NoError(t, err)

	_, err = f.store.FinishRun(ctx, run.ID, runStatus)
	require.NoError(t, err)

	return run.ID
}

func TestDashboardEndpoints(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	seedFinishedRun(t, f, "auth.basic-login", true)
	seedFinishedRun(t, f, "auth.logout", false)

	status, data := f.get(t, "/api/dashboard/pass-rate?days=30")
	require.Equal(t, http.StatusOK, status)

	var rate struct {
		Percentage float64 `json:"percentage"`
		Passed     int     `json:"passed"`
		Failed     int     `json:"failed"`
		Total      int     `json:"total"`
		Days       int     `json:"days"`
	}
	decodeInto(t, data, &rate)
	assert.Equal(t, 50.0, rate.Percentage)
	assert.Equal(t, 1, rate.Passed)
	assert.Equal(t, 1, rate.Failed)
	assert.Equal(t, 2, rate.Total)
	assert.Equal(t, 30, rate.Days)

	status, data = f.get(t, "/api/dashboard/executions")
	require.Equal(t, http.StatusOK, status)

	var execs struct {
		Total        int `json:"total"`
		Environments []struct {
			Environment string `json:"environment"`
			Count       int    `json:"count"`
		} `json:"environments"`
	}
	decodeInto(t, data, &execs)
	assert.Equal(t, 2, execs.Total)
	require.Len(t, execs.Environments, 1)
	assert.Equal(t, "QA", execs.Environments[0].Environment)

	status, data = f.get(t, "/api/dashboard/environment-health")
	require.Equal(t, http.StatusOK, status)

	var health struct {
		Environments []struct {
			Environment string `json:"environment"`
			TotalRuns   int    `json:"totalRuns"`
		} `json:"environments"`
	}
	decodeInto(t, data, &health)
	require.Len(t, health.Environments, 1)
	assert.Equal(t, 2, health.Environments[0].TotalRuns)

	status, data = f.get(t, "/api/dashboard/flaky-tests")
	require.Equal(t, http.StatusOK, status)

	var flaky struct {
		FlakyTests []any `json:"flakyTests"`
	}
	decodeInto(t, data, &flaky)
	assert.Empty(t, flaky.FlakyTests)

	status, data = f.get(t, "/api/dashboard/tests/auth.basic-login/stats")
	require.Equal(t, http.StatusOK, status)

	var stats struct {
		TestKey string `json:"testKey"`
		Total   int    `json:"total"`
		Passed  int    `json:"passed"`
	}
	decodeInto(t, data, &stats)
	assert.Equal(t, "auth.basic-login", stats.TestKey)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Passed)
}

func TestDashboardActiveRuns(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	def := seedCatalogTest(t, f.store, "auth.basic-login", "auth/basic-login")

	_, err := f.store.CreateRun(context.Background(), store.NewRun{
		TriggerType: store.TriggerManual,
		Environment: "QA",
		Tests:       []store.RunTestPair{{TestID: def.ID, TestKey: def.TestKey}},
	})
	require.NoError(t, err)

	status, data := f.get(t, "/api/dashboard/active-runs")
	require.Equal(t, http.StatusOK, status)

	var snap struct {
		Queued  int   `json:"queued"`
		Running int   `json:"running"`
		Runs    []any `json:"runs"`
	}
	decodeInto(t, data, &snap)
	assert.Equal(t, 1, snap.Queued)
	assert.Equal(t, 0, snap.Running)
	assert.Empty(t, snap.Runs)
}

func TestDashboard_BadDaysParam(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	paths := []string{
		"/api/dashboard/pass-rate?days=abc",
		"/api/dashboard/executions?days=abc",
		"/api/dashboard/flaky-tests?days=abc",
		"/api/dashboard/environment-health?days=abc",
		"/api/dashboard/tests/x/stats?days=abc",
	}

	for _, path := range paths {
		status, data := f.get(t, path)
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.Equal(t, "days must be an integer", errMessage(t, data), path)
	}

	status, data := f.get(t, "/api/dashboard/flaky-tests?minExecutions=many")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "minExecutions must be an integer", errMessage(t, data))
}
