package database

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := New(DefaultConfig(filepath.Join(t.TempDir(), "letters.db")), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunMigrations_Embedded(t *testing.T) {
	db := openTemp(t)
	m := NewMigrator(db, zap.NewNop())

	require.NoError(t, m.RunMigrations())
	// Second run is a no-op
	require.NoError(t, m.RunMigrations())

	for _, table := range []string{"actors", "letters", "letter_steps", "signature_records", "approval_history", "artifacts"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}

	var index string
	require.NoError(t, db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_letter_steps_approver'").Scan(&index))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRunMigrationsFS_Ordering(t *testing.T) {
	db := openTemp(t)
	m := NewMigrator(db, zap.NewNop())

	fsys := fstest.MapFS{
		"m/002_add_column.sql": {Data: []byte("ALTER TABLE t ADD COLUMN b TEXT;")},
		"m/001_create.sql":     {Data: []byte("CREATE TABLE t (a TEXT);")},
		"m/README.md":          {Data: []byte("ignored")},
	}
	require.NoError(t, m.RunMigrationsFS(fsys, "m"))

	_, err := db.Exec("INSERT INTO t (a, b) VALUES ('x', 'y')")
	assert.NoError(t, err)
}

func TestRunMigrationsFS_BadFilename(t *testing.T) {
	db := openTemp(t)
	m := NewMigrator(db, zap.NewNop())

	fsys := fstest.MapFS{"m/create.sql": {Data: []byte("SELECT 1;")}}
	assert.Error(t, m.RunMigrationsFS(fsys, "m"))
}

func TestRunMigrationsFS_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_a.sql": {Data: []byte("SELECT 1;")},
		"m/1_b.sql":   {Data: []byte("SELECT 1;")},
	}
	_, err := LoadMigrations(fsys, "m")
	assert.Error(t, err)
}

func TestRunMigrationsFS_EditedAfterApply(t *testing.T) {
	db := openTemp(t)
	m := NewMigrator(db, zap.NewNop())

	require.NoError(t, m.RunMigrationsFS(fstest.MapFS{
		"m/001_create.sql": {Data: []byte("CREATE TABLE t (a TEXT);")},
	}, "m"))

	err := m.RunMigrationsFS(fstest.MapFS{
		"m/001_create.sql": {Data: []byte("CREATE TABLE t (a TEXT, b TEXT);")},
	}, "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "changed after it was applied")
}

func TestNew_CreatesDirectory(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "dir", "letters.db")
	db, err := New(DefaultConfig(p), nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, p, db.Path())
}
