package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schemaVersion(t *testing.T, db *DB) int {
	t.Helper()
	var v int
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&v))
	return v
}

func TestOpen_AppliesMigrations(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	all, err := pending(0)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, all[len(all)-1].version, schemaVersion(t, db))

	for _, table := range []string{"jobs", "candles"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO jobs (id, source, symbol, exchange, interval, from_date, to_date, status, created_at, updated_at)
		VALUES ('a', 'stub', 'INFY', 'NSE', '1day', '2024-01-01T00:00:00Z', '2024-01-02T00:00:00Z', 'completed',
		'2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	v := schemaVersion(t, db)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err, "already applied migrations are skipped")
	defer func() { _ = db.Close() }()
	assert.Equal(t, v, schemaVersion(t, db))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM jobs").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestPending(t *testing.T) {
	all, err := pending(0)
	require.NoError(t, err)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].version, all[i].version)
	}

	none, err := pending(all[len(all)-1].version)
	require.NoError(t, err)
	assert.Empty(t, none)
}
