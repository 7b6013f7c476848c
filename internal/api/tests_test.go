package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// catalogListResponse mirrors the list endpoint body.
type catalogListResponse struct {
	Tests []testView `json:"tests"`
	Total int        `json:"total"`
}

func TestListTests(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	seedCatalogTest(t, f.store, "auth.basic-login", "auth/basic-login", "smoke", "auth")
	seedCatalogTest(t, f.store, "auth.logout", "auth/logout", "auth")
	seedCatalogTest(t, f.store, "cart.checkout", "cart/checkout", "smoke")

	status, data := f.get(t, "/api/tests")
	require.Equal(t, http.StatusOK, status)

	var body catalogListResponse
	decodeInto(t, data, &body)

	require.Equal(t, 3, body.Total)
	assert.Equal(t, "auth.basic-login", body.Tests[0].TestKey)
	assert.Equal(t, "Friendly auth.basic-login", body.Tests[0].FriendlyName)
	assert.True(t, body.Tests[0].Active)
}

func TestListTests_Filters(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	seedCatalogTest(t, f.store, "auth.basic-login", "auth/basic-login", "smoke", "auth")
	seedCatalogTest(t, f.store, "auth.logout", "auth/logout", "auth")
	seedCatalogTest(t, f.store, "cart.checkout", "cart/checkout", "smoke")

	status, data := f.get(t, "/api/tests?folderPrefix=auth/")
	require.Equal(t, http.StatusOK, status)

	var byFolder catalogListResponse
	decodeInto(t, data, &byFolder)
	require.Equal(t, 2, byFolder.Total)

	status, data = f.get(t, "/api/tests?tags=smoke,nope")
	require.Equal(t, http.StatusOK, status)

	var byTags catalogListResponse
	decodeInto(t, data, &byTags)
	require.Equal(t, 2, byTags.Total)
	assert.Equal(t, "auth.basic-login", byTags.Tests[0].TestKey)
	assert.Equal(t, "cart.checkout", byTags.Tests[1].TestKey)
}

func TestGetTest(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	seedCatalogTest(t, f.store, "auth.basic-login", "auth/basic-login", "smoke")

	status, data := f.get(t, "/api/tests/auth.basic-login")
	require.Equal(t, http.StatusOK, status)

	var body testView
	decodeInto(t, data, &body)
	assert.Equal(t, "auth.basic-login", body.TestKey)
	assert.Equal(t, "auth/basic-login/main.spec.js", body.SpecPath)
	assert.Equal(t, []string{"smoke"}, body.Tags)

	status, data = f.get(t, "/api/tests/ghost.test")
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Test not found", errMessage(t, data))
}

func TestCatalogMeta(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	seedCatalogTest(t, f.store, "auth.basic-login", "auth/basic-login", "smoke", "auth")
	seedCatalogTest(t, f.store, "cart.checkout", "cart/checkout", "smoke")

	status, data := f.get(t, "/api/tests/meta/tags")
	require.Equal(t, http.StatusOK, status)

	var tags struct {
		Tags []string `json:"tags"`
	}
	decodeInto(t, data, &tags)
	assert.Equal(t, []string{"auth", "smoke"}, tags.Tags)

	status, data = f.get(t, "/api/tests/meta/folders")
	require.Equal(t, http.StatusOK, status)

	var folders struct {
		Folders []string `json:"folders"`
	}
	decodeInto(t, data, &folders)
	assert.Equal(t, []string{"auth/basic-login", "cart/checkout"}, folders.Folders)
}

func TestUpdateOverrides(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	seedCatalogTest(t, f.store, "auth.basic-login", "auth/basic-login")

	body := store.ConstantSet{
		Shared: map[string]any{"retries": float64(2)},
		Environments: map[string]map[string]any{
			"QA": {"baseUrl": "https://qa.example.test"},
		},
	}

	status, data := f.request(t, http.MethodPut, "/api/tests/auth.basic-login/overrides", body)
	require.Equal(t, http.StatusOK, status)

	var view testView
	decodeInto(t, data, &view)
	require.NotNil(t, view.Overrides)
	assert.Equal(t, float64(2), view.Overrides.Shared["retries"])

	// A second PUT replaces the whole set; the retries key is gone.
	status, data = f.request(t, http.MethodPut, "/api/tests/auth.basic-login/overrides",
		store.ConstantSet{Shared: map[string]any{"slowMo": true}})
	require.Equal(t, http.StatusOK, status)

	decodeInto(t, data, &view)
	require.NotNil(t, view.Overrides)
	assert.Equal(t, true, view.Overrides.Shared["slowMo"])
	assert.NotContains(t, view.Overrides.Shared, "retries")

	// The stored row agrees with the response.
	def, err := f.store.GetTestByKey(context.Background(), "auth.basic-login")
	require.NoError(t, err)
	require.NotNil(t, def.Overrides)
	assert.Equal(t, true, def.Overrides.Shared["slowMo"])
}

func TestUpdateOverrides_Errors(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	status, data := f.request(t, http.MethodPut, "/api/tests/ghost.test/overrides",
		store.ConstantSet{Shared: map[string]any{"a": float64(1)}})
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Test not found", errMessage(t, data))

	seedCatalogTest(t, f.store, "auth.basic-login", "auth/basic-login")

	req, err := http.NewRequest(http.MethodPut,
		f.ts.URL+"/api/tests/auth.basic-login/overrides", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
