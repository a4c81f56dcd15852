package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator verifies a database matches the structure the store
// expects, for deployment checks independent of the migration system.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"sessions":          "Session records",
		"messages":          "In-session chat history",
		"timer_state":       "Persisted countdown state",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateIndexes verifies the indexes the matching and history queries
// depend on.
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := []string{
		"idx_sessions_waiting",
		"idx_sessions_owner",
		"idx_sessions_partner",
		"idx_messages_session_time",
	}

	for _, index := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}

	return nil
}

func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
