package database

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "nested", "engine.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrator_EmbeddedSchema(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	applied, err := m.RunMigrations(Schema())
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	for _, table := range []string{"flow_definitions", "workflow_instances", "step_records", "timeline_entries", "org_units", "directory_users", "user_roles"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
	}

	again, err := m.RunMigrations(Schema())
	require.NoError(t, err)
	assert.Equal(t, 0, again, "migrations are applied once")

	versions, err := m.AppliedVersions()
	require.NoError(t, err)
	assert.True(t, versions[1])
	assert.True(t, versions[2])
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("ignored")},
	}

	migrations, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, "second", migrations[1].Name)

	_, err = LoadMigrations(fstest.MapFS{"abc.sql": {Data: []byte("x")}})
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{
		"001_a.sql": {Data: []byte("x")},
		"1_b.sql":   {Data: []byte("y")},
	})
	assert.Error(t, err, "duplicate versions")
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	_, err := m.RunMigrations(fstest.MapFS{
		"001_ok.sql":  {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"002_bad.sql": {Data: []byte("CREATE TABL broken;")},
	})
	require.Error(t, err)

	versions, err := m.AppliedVersions()
	require.NoError(t, err)
	assert.True(t, versions[1])
	assert.False(t, versions[2])
}
