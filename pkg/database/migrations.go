package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one schema evolution step.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// builtinMigrations are compiled into the binary so a deployment is a single
// file plus its database.
var builtinMigrations = []Migration{
	{
		Version:     "001",
		Description: "classroom sessions",
		SQL: `
CREATE TABLE IF NOT EXISTS classroom_sessions (
    classroom_id         TEXT PRIMARY KEY,
    active               INTEGER NOT NULL DEFAULT 0,
    help_requested       INTEGER NOT NULL DEFAULT 0,
    monitor_en_route     INTEGER NOT NULL DEFAULT 0,
    teacher_identity_id  TEXT,
    teacher_display_name TEXT,
    revision             INTEGER NOT NULL DEFAULT 0,
    updated_at           DATETIME NOT NULL,
    CHECK (help_requested <= active),
    CHECK (monitor_en_route <= help_requested)
);
CREATE INDEX IF NOT EXISTS idx_sessions_active ON classroom_sessions(active);
`,
	},
	{
		Version:     "002",
		Description: "identities and credentials",
		SQL: `
CREATE TABLE IF NOT EXISTS identities (
    id           TEXT PRIMARY KEY,
    login_name   TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    role         TEXT NOT NULL CHECK (role IN ('admin', 'professor', 'monitor')),
    created_at   DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS credentials (
    identity_id TEXT PRIMARY KEY REFERENCES identities(id) ON DELETE CASCADE,
    secret_hash BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_identities_role ON identities(role);
`,
	},
}

// MigrationManager applies pending schema migrations inside transactions.
type MigrationManager struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrationManager creates a manager over the built-in migration set.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db, migrations: builtinMigrations}
}

// ApplyMigrations applies all pending migrations in version order. Each
// migration runs in its own transaction; a failure leaves earlier migrations
// applied and the failing one rolled back.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	pending := make([]Migration, 0, len(m.migrations))
	for _, migration := range m.migrations {
		if !applied[migration.Version] {
			pending = append(pending, migration)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, migration := range pending {
		if err := m.apply(migration); err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", migration.Version, migration.Description, err)
		}
	}

	return nil
}

func (m *MigrationManager) apply(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *MigrationManager) appliedVersions() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
