package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akeyanjam/mbss-test/internal/config"
	"github.com/akeyanjam/mbss-test/internal/dashboard"
	"github.com/akeyanjam/mbss-test/internal/engine"
	"github.com/akeyanjam/mbss-test/internal/store"
)

// testLogger returns a logger that writes through testing.T.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// environmentsFixture and usersFixture are the registries every API test
// runs against: qa@x may use QA and SIT1, admin@x everything, dev@x nothing.
const environmentsFixture = `{
	"environments": [
		{"code": "QA", "name": "QA", "isProd": false},
		{"code": "SIT1", "name": "System Integration 1", "isProd": false},
		{"code": "PROD", "name": "Production", "isProd": true}
	]
}`

const usersFixture = `{
	"users": [
		{"email": "qa@x", "environments": ["QA", "SIT1"]},
		{"email": "admin@x", "environments": ["QA", "SIT1", "PROD"]}
	]
}`

// apiFixture is one fully-wired HTTP surface over a fresh store.
type apiFixture struct {
	srv          *Server
	store        *store.Store
	ts           *httptest.Server
	artifactRoot string
	registry     *prometheus.Registry
	metrics      *engine.Metrics
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := testLogger(t)

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfgDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, config.EnvironmentsFileName), []byte(environmentsFixture), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, config.UsersFileName), []byte(usersFixture), 0o644))

	envs, err := config.LoadEnvironments(cfgDir)
	require.NoError(t, err)
	users, err := config.LoadUsers(cfgDir)
	require.NoError(t, err)

	dash := dashboard.NewService(st.DB(), logger)
	hub := NewHub(dash, logger)
	registry := prometheus.NewRegistry()
	artifactRoot := t.TempDir()

	srv := NewServer(st, dash, envs, users, hub, artifactRoot, registry, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &apiFixture{
		srv:          srv,
		store:        st,
		ts:           ts,
		artifactRoot: artifactRoot,
		registry:     registry,
		metrics:      engine.NewMetrics(registry),
	}
}

// request performs one HTTP call against the fixture server. A non-nil body
// is sent as JSON.
func (f *apiFixture) request(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func (f *apiFixture) get(t *testing.T, path string) (int, []byte) {
	t.Helper()

	return f.request(t, http.MethodGet, path, nil)
}

// decodeInto unmarshals a response body, failing the test on bad JSON.
func decodeInto(t *testing.T, data []byte, dst any) {
	t.Helper()

	require.NoError(t, json.Unmarshal(data, dst), "body: %s", data)
}

// errMessage extracts the error string from a failure response.
func errMessage(t *testing.T, data []byte) string {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	decodeInto(t, data, &body)

	return body.Error
}

// seedCatalogTest upserts one active catalog entry.
func seedCatalogTest(t *testing.T, st *store.Store, testKey, folderPath string, tags ...string) *store.TestDefinition {
	t.Helper()

	def, err := st.UpsertTest(context.Background(), &store.TestDefinition{
		TestKey:    testKey,
		FolderPath: folderPath,
		SpecPath:   folderPath + "/main.spec.js",
		Meta: store.TestMeta{
			FriendlyName: "Friendly " + testKey,
			Tags:         tags,
		},
		Constants: store.ConstantSet{
			Shared: map[string]any{"baseUrl": "https://example.test"},
		},
	})
	require.NoError(t, err)

	return def
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	status, data := f.get(t, "/api/health")
	require.Equal(t, http.StatusOK, status)

	var body struct {
		Status string `json:"status"`
		Time   string `json:"time"`
	}
	decodeInto(t, data, &body)

	assert.Equal(t, "ok", body.Status)

	_, err := time.Parse(time.RFC3339, body.Time)
	assert.NoError(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.metrics.QueueDepth.Set(3)

	status, data := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), "mbss_queue_depth 3")
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	status, data := f.get(t, "/api/nope")
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Not found", errMessage(t, data))
}

func TestRecovererConvertsPanicTo500(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	h := f.srv.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", errMessage(t, rec.Body.Bytes()))
}
