package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ApplySQLiteOptimizations(db))
	return db
}

func TestApplyMigrations(t *testing.T) {
	db := openTestDB(t)

	manager := NewMigrationManager(db)
	require.NoError(t, manager.ApplyMigrations())

	validator := NewSchemaValidator(db)
	assert.NoError(t, validator.ValidateTablesExist())
	assert.NoError(t, validator.ValidateIndexes())
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	db := openTestDB(t)

	manager := NewMigrationManager(db)
	require.NoError(t, manager.ApplyMigrations())
	require.NoError(t, manager.ApplyMigrations())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestValidatorFailsOnEmptyDatabase(t *testing.T) {
	db := openTestDB(t)

	validator := NewSchemaValidator(db)
	assert.Error(t, validator.ValidateTablesExist())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.DatabasePath = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxConnections = 0
	assert.Error(t, cfg.Validate())
}
