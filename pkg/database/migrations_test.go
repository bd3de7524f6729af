package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db")+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrationsCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	validator := NewSchemaValidator(db)
	if err := validator.ValidateTablesExist(); err != nil {
		t.Errorf("schema validation failed: %v", err)
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrationManager(db)

	if err := m.ApplyMigrations(); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := m.ApplyMigrations(); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatal(err)
	}
	if applied != len(builtinMigrations) {
		t.Errorf("applied migrations = %d, want %d", applied, len(builtinMigrations))
	}
}

// The schema itself guards the session invariants; a direct write that
// violates them is rejected even without the application layer.
func TestSessionInvariantChecksInSchema(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name                  string
		active, help, enRoute int
	}{
		{"help without active", 0, 1, 0},
		{"en route without help", 1, 0, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := db.Exec(`
				INSERT INTO classroom_sessions
					(classroom_id, active, help_requested, monitor_en_route, revision, updated_at)
				VALUES ('bad', ?, ?, ?, 1, datetime('now'))
			`, tc.active, tc.help, tc.enRoute)
			if err == nil {
				t.Error("invariant-violating row accepted by schema")
			}
		})
	}
}

func TestCredentialCascadeDelete(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Exec(`
		INSERT INTO identities (id, login_name, display_name, role, created_at)
		VALUES ('id-1', 'silva', 'Dr. Silva', 'professor', datetime('now'))
	`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO credentials (identity_id, secret_hash) VALUES ('id-1', x'00')`); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Exec(`DELETE FROM identities WHERE id = 'id-1'`); err != nil {
		t.Fatal(err)
	}

	var remaining int
	if err := db.QueryRow(`SELECT COUNT(*) FROM credentials WHERE identity_id = 'id-1'`).Scan(&remaining); err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Error("credential row survived identity deletion")
	}
}
