package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Config holds connection settings for the SQLite-backed store.
type Config struct {
	DatabasePath    string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SchemaValidator verifies the deployed schema matches what the store
// expects before the server starts serving.
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
		"classroom_sessions": "classroom session documents",
		"identities":         "identity records",
		"credentials":        "credential hashes",
		"schema_migrations":  "migration tracking",
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

// ValidateTableStructure verifies column layout for the session table. Column
// types here must stay in sync with the Go structs scanned by the manager.
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"classroom_id":         "TEXT",
		"active":               "INTEGER",
		"help_requested":       "INTEGER",
		"monitor_en_route":     "INTEGER",
		"teacher_identity_id":  "TEXT",
		"teacher_display_name": "TEXT",
		"revision":             "INTEGER",
		"updated_at":           "DATETIME",
	}
	if err := v.validateColumns("classroom_sessions", sessionColumns); err != nil {
		return fmt.Errorf("classroom_sessions table structure invalid: %w", err)
	}

	identityColumns := map[string]string{
		"id":           "TEXT",
		"login_name":   "TEXT",
		"display_name": "TEXT",
		"role":         "TEXT",
		"created_at":   "DATETIME",
	}
	if err := v.validateColumns("identities", identityColumns); err != nil {
		return fmt.Errorf("identities table structure invalid: %w", err)
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

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return rows.Err()
}
