package db

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func tableNames(t *testing.T, d *DB) map[string]bool {
	t.Helper()
	rows, err := d.Query(`SELECT name FROM sqlite_master WHERE type = 'table'`)
	require.NoError(t, err)
	defer rows.Close()

	names := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names[name] = true
	}
	require.NoError(t, rows.Err())
	return names
}

func TestNewDBAppliesSchema(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)

	names := tableNames(t, d)
	for _, want := range []string{"pipeline_runs", "image_outcomes", "calibrations", "lightcurve_points"} {
		assert.True(t, names[want], "missing table %s", want)
	}
}

func TestMigrateUpDownVersion(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)

	// The migration statements use IF NOT EXISTS, so applying them over a
	// schema-initialised database is safe.
	require.NoError(t, d.MigrateUp("../migrations"))

	version, dirty, err := d.MigrateVersion("../migrations")
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, d.MigrateDown("../migrations"))
	names := tableNames(t, d)
	assert.False(t, names["lightcurve_points"], "down migration should drop tables")
}

func TestAttachAdminRoutesRegistersDebugEndpoints(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)

	mux := http.NewServeMux()
	d.AttachAdminRoutes(mux)

	// Access control on /debug/ is tsweb's business; here we only check the
	// routes exist on the mux.
	for _, path := range []string{"/debug/", "/debug/backup", "/debug/tailsql/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		_, pattern := mux.Handler(req)
		assert.NotEmpty(t, pattern, "no handler registered for %s", path)
	}
}
