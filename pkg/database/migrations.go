package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Migrations are compiled into the binary so a deployment can never run
// against a schema it does not know about. Append only; never edit an
// applied version.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "initial_schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				owner_name TEXT NOT NULL DEFAULT '',
				owner_photo_url TEXT NOT NULL DEFAULT '',
				partner_id TEXT,
				partner_name TEXT NOT NULL DEFAULT '',
				partner_photo_url TEXT NOT NULL DEFAULT '',
				participants TEXT NOT NULL DEFAULT '[]',
				start_time DATETIME NOT NULL,
				duration_minutes INTEGER NOT NULL,
				goal TEXT NOT NULL,
				subject TEXT NOT NULL DEFAULT '',
				exam_track TEXT NOT NULL DEFAULT '',
				study_level TEXT NOT NULL DEFAULT '',
				study_mode TEXT NOT NULL DEFAULT '',
				region TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'scheduled',
				created_at DATETIME NOT NULL,
				ended_at DATETIME,
				actual_duration_minutes INTEGER NOT NULL DEFAULT 0,
				completed_by TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_sessions_waiting
				ON sessions(status, duration_minutes, start_time)
				WHERE partner_id IS NULL;
			CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id, status);
			CREATE INDEX IF NOT EXISTS idx_sessions_partner ON sessions(partner_id, status);

			CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				from_user TEXT NOT NULL,
				body TEXT NOT NULL,
				timestamp DATETIME NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_messages_session_time
				ON messages(session_id, timestamp);
		`,
	},
	{
		Version:     "002",
		Description: "timer_state",
		SQL: `
			CREATE TABLE IF NOT EXISTS timer_state (
				session_id TEXT PRIMARY KEY REFERENCES sessions(id),
				total_seconds INTEGER NOT NULL,
				remaining_seconds INTEGER NOT NULL,
				is_running INTEGER NOT NULL DEFAULT 0,
				last_tick DATETIME NOT NULL
			);
		`,
	},
}

// MigrationManager applies the embedded migrations in order.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// ApplyMigrations applies all pending migrations, each inside its own
// transaction so a failure leaves the schema at a known version.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	pending := make([]Migration, 0, len(migrations))
	for _, migration := range migrations {
		if !contains(applied, migration.Version) {
			pending = append(pending, migration)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})

	for _, migration := range pending {
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *MigrationManager) getAppliedMigrations() ([]string, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	return versions, rows.Err()
}

func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.Exec(migration.SQL); err != nil {
		return err
	}

	if _, err = tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}

	return tx.Commit()
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
