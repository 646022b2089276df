package storage

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func latestVersion() int {
	migs := getMigrations()
	return migs[len(migs)-1].Version
}

func TestRunMigrations(t *testing.T) {
	db := openTestDB(t)

	version, err := getCurrentVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 0, version, "fresh database has no schema")

	require.NoError(t, runMigrations(db))
	require.NoError(t, runMigrations(db), "second run must be a no-op")

	version, err = getCurrentVersion(db)
	require.NoError(t, err)
	assert.Equal(t, latestVersion(), version)

	var recorded int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&recorded))
	assert.Equal(t, len(getMigrations()), recorded)

	_, err = db.Exec(`INSERT INTO events (timestamp, kind, domain, address, stage, error)
		VALUES (CURRENT_TIMESTAMP, 'error', 'a.com', '', 'resolve', 'boom')`)
	require.NoError(t, err, "events table should carry every column the store writes")
}

// A database created before error stages were recorded keeps its rows and
// gains an empty stage for them.
func TestRunMigrations_UpgradesExistingEvents(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, applyMigration(db, getMigrations()[0]))
	_, err := db.Exec(`INSERT INTO events (timestamp, kind, domain, address, error)
		VALUES (CURRENT_TIMESTAMP, 'route', 'www.google.com', '127.0.0.1', '')`)
	require.NoError(t, err)

	require.NoError(t, runMigrations(db))

	var domain, stage string
	require.NoError(t, db.QueryRow("SELECT domain, stage FROM events").Scan(&domain, &stage))
	assert.Equal(t, "www.google.com", domain)
	assert.Empty(t, stage)

	var indexes int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND name IN ('idx_events_domain_timestamp', 'idx_events_timestamp_kind')`).Scan(&indexes))
	assert.Equal(t, 2, indexes)
}

func TestApplyMigration_RollsBackOnFailure(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, applyMigration(db, getMigrations()[0]))

	err := applyMigration(db, Migration{
		Version:     99,
		Description: "broken",
		SQL: `
			CREATE TABLE half_done (id INTEGER PRIMARY KEY);
			NOT VALID SQL;
		`,
	})
	require.Error(t, err)

	err = db.QueryRow("SELECT COUNT(*) FROM half_done").Scan(new(int))
	assert.Error(t, err, "table from a failed migration must not survive")

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 99").Scan(&count))
	assert.Zero(t, count)
}

func TestMigrationRegistry(t *testing.T) {
	migs := getMigrations()
	require.NotEmpty(t, migs)

	seen := make(map[int]bool)
	for i, m := range migs {
		assert.False(t, seen[m.Version], "duplicate version %d", m.Version)
		seen[m.Version] = true
		if i > 0 {
			assert.Greater(t, m.Version, migs[i-1].Version)
		}
		assert.NotEmpty(t, m.Description, "v%d", m.Version)
		assert.NotEmpty(t, m.SQL, "v%d", m.Version)
	}
}

func TestNewSQLiteStorage_MigratesToLatest(t *testing.T) {
	s, err := NewSQLiteStorage(&Config{
		Enabled:       true,
		SQLite:        SQLiteConfig{Path: ":memory:", BusyTimeout: 5000, CacheSize: 1000},
		BufferSize:    10,
		FlushInterval: time.Second,
		BatchSize:     10,
		RetentionDays: 1,
	}, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	version, err := getCurrentVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, latestVersion(), version)
}

func TestRunMigrations_LowercasesExistingDomains(t *testing.T) {
	db := openTestDB(t)

	for _, m := range getMigrations() {
		if m.Version > 3 {
			break
		}
		require.NoError(t, applyMigration(db, m))
	}
	_, err := db.Exec(`INSERT INTO events (timestamp, kind, domain)
		VALUES (CURRENT_TIMESTAMP, 'resolve', 'Mail.Google.COM')`)
	require.NoError(t, err)

	require.NoError(t, runMigrations(db))

	var domain string
	require.NoError(t, db.QueryRow("SELECT domain FROM events").Scan(&domain))
	assert.Equal(t, "mail.google.com", domain)
}
