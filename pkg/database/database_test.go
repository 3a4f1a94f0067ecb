package database

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRebind(t *testing.T) {
	q := "UPDATE t SET a = ? WHERE id = ? AND b = ?"
	assert.Equal(t, "UPDATE t SET a = $1 WHERE id = $2 AND b = $3", Rebind(DriverPostgres, q))
	assert.Equal(t, q, Rebind(DriverSQLite, q))
	assert.Equal(t, q, Rebind(DriverMySQL, q))
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN(DriverSQLite, "/tmp/workflow.db")
	require.NoError(t, err)
	assert.Contains(t, dsn, "file:/tmp/workflow.db?")
	assert.Contains(t, dsn, "_txlock=immediate")

	dsn, err = normalizeDSN(DriverMySQL, "user:pass@tcp(localhost:3306)/workflow")
	require.NoError(t, err)
	assert.Contains(t, dsn, "clientFoundRows=true")

	_, err = normalizeDSN("oracle", "x")
	assert.Error(t, err)

	_, err = normalizeDSN(DriverSQLite, "")
	assert.Error(t, err)
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"schema/002_add_index.sql": {Data: []byte("CREATE INDEX idx_items_name ON items (name);")},
		"schema/001_init.sql":      {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);")},
		"schema/README.md":         {Data: []byte("not a migration")},
		"other/001_unrelated.sql":  {Data: []byte("SELECT 1;")},
	}

	migrations, err := LoadMigrations(fsys, "schema")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "init", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, "add_index", migrations[1].Name)
}

func TestStatements(t *testing.T) {
	got := statements("CREATE TABLE a (id INT);\n\nCREATE TABLE b (id INT);\n")
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"}, got)
}

func TestMigrator_SQLite(t *testing.T) {
	db, err := New(Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "test.db")}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"schema/001_init.sql": {Data: []byte(`
			CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);
			CREATE INDEX idx_items_name ON items (name);
		`)},
	}

	m := NewMigrator(db, zap.NewNop())
	require.NoError(t, m.RunMigrations(fsys, "schema"))
	// A second run skips applied versions
	require.NoError(t, m.RunMigrations(fsys, "schema"))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)

	_, err = db.Exec("INSERT INTO items (name) VALUES (?)", "banner")
	assert.NoError(t, err)
}
