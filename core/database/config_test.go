package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigNormalize(t *testing.T) {
	cfg := Config{Host: "db", Name: "formbot"}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, "5432", cfg.Port)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 10, cfg.MaxConnections)
	assert.Equal(t, 3*time.Second, cfg.QueryTimeout)
	assert.Equal(t, "migrations", cfg.MigrationsDir)

	assert.Error(t, (&Config{Name: "x"}).Normalize())
	assert.Error(t, (&Config{Host: "x"}).Normalize())
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "bot", Password: "p a'ss", Name: "formbot", SSLMode: "disable"}
	assert.Equal(t, `user=bot password='p a\'ss' host=db port=5432 dbname=formbot sslmode=disable`, cfg.DSN())

	cfg.Password = "s3cret"
	assert.Equal(t, "postgres://bot:s3cret@db:5432/formbot?sslmode=disable", cfg.URL())
}

func TestMigrationFileHelpers(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_create_broadcast_runs.up.sql",
		"000001_create_users.up.sql",
		"000001_create_users.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}

	files := listMigrationFiles(dir)
	assert.Equal(t, []string{"000001_create_users.up.sql", "000002_create_broadcast_runs.up.sql"}, files)
	assert.Equal(t, uint64(2), parseVersion(files[1]))
	assert.Equal(t, 2, countApplied(files, 0, 2))
	assert.Equal(t, []string{"000002_create_broadcast_runs.up.sql"}, selectApplied(files, 1, 2))
	assert.Zero(t, countApplied(files, 2, 2))
	assert.Nil(t, listMigrationFiles(filepath.Join(dir, "missing")))
}
