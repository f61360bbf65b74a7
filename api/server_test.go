package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halo-data/lightcurve.report/db"
	"github.com/halo-data/lightcurve.report/internal/astro"
	"github.com/halo-data/lightcurve.report/internal/astro/lightcurve"
	"github.com/halo-data/lightcurve.report/internal/astro/storage/sqlite"
)

func testServer(t *testing.T) (*Server, *sqlite.Store) {
	t.Helper()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "api-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewServer(d), sqlite.NewStore(d.DB)
}

func seedPhotometry(t *testing.T, store *sqlite.Store) {
	t.Helper()
	epoch := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	for i, p := range []astro.Photometry{
		{ObjectID: "gaia-77", ImageID: "img-000", Mag: 15.21, MagErr: 0.01},
		{ObjectID: "gaia-77", ImageID: "img-001", Mag: 15.24, MagErr: 0.01, LowQuality: true},
		{ObjectID: "gaia-12", ImageID: "img-000", Mag: 14.02, MagErr: 0.008},
	} {
		p.Epoch = epoch.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.InsertPhotometry(p))
	}
}

func TestHomeHandler(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Lightcurve Server")
}

func TestListRuns(t *testing.T) {
	t.Parallel()
	srv, store := testServer(t)
	require.NoError(t, store.InsertRun(sqlite.Run{RunID: "run-a", ImageCount: 2, Succeeded: 2}))

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []sqlite.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-a", runs[0].RunID)
}

func TestRunOutcomes(t *testing.T) {
	t.Parallel()
	srv, store := testServer(t)
	require.NoError(t, store.InsertRun(sqlite.Run{RunID: "run-a"}))
	require.NoError(t, store.InsertOutcome("run-a", astro.ImageResult{
		Index: 0, ImageID: "img-000", Outcome: astro.OutcomeSucceeded,
	}))

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/outcomes?run_id=run-a", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var results []astro.ImageResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, astro.OutcomeSucceeded, results[0].Outcome)
}

func TestRunOutcomesRequiresRunID(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/outcomes", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunOutcomesUnknownRun(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/outcomes?run_id=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListObjects(t *testing.T) {
	t.Parallel()
	srv, store := testServer(t)
	seedPhotometry(t, store)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/objects", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var ids []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Equal(t, []string{"gaia-12", "gaia-77"}, ids)
}

func TestListObjectsEmpty(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/objects", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetLightcurve(t *testing.T) {
	t.Parallel()
	srv, store := testServer(t)
	seedPhotometry(t, store)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/lightcurve?object_id=gaia-77", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var lc lightcurve.ObjectRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lc))
	assert.Equal(t, "gaia-77", lc.ObjectID)
	require.Len(t, lc.Points, 2)
	assert.True(t, lc.Points[1].LowQuality)
}

func TestGetLightcurveNotFound(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/lightcurve?object_id=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLightcurveChartRendersHTML(t *testing.T) {
	t.Parallel()
	srv, store := testServer(t)
	seedPhotometry(t, store)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/charts/lightcurve?object_id=gaia-77", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	for _, path := range []string{"/api/runs", "/api/outcomes", "/api/objects", "/api/lightcurve"} {
		rec := httptest.NewRecorder()
		srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}
