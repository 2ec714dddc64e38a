package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "schema.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.MaxConnections != 10 {
		t.Errorf("Expected 10 max connections, got %d", cfg.MaxConnections)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"negative write timeout", func(c *Config) { c.WriteTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestMigrationManager_ApplyMigrations(t *testing.T) {
	db := openTestDB(t)
	manager := NewMigrationManager(db)

	if err := manager.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	// Second run must be a no-op
	if err := manager.ApplyMigrations(); err != nil {
		t.Fatalf("Re-applying migrations failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 applied migrations, got %d", count)
	}
}

func TestMigrationManager_ValidateSchema(t *testing.T) {
	db := openTestDB(t)
	manager := NewMigrationManager(db)

	if err := manager.ValidateSchema(); err == nil {
		t.Error("Expected validation to fail on an empty database")
	}

	if err := manager.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	if err := manager.ValidateSchema(); err != nil {
		t.Errorf("Schema should validate after migrations: %v", err)
	}
}

func TestSchema_RegisterTypeConstraint(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO register_records (register_type, financial_year) VALUES ('payroll', '2024-2025')`)
	if err == nil {
		t.Error("Expected check constraint to reject unknown register type")
	}

	_, err = db.Exec(`INSERT INTO register_records (register_type, financial_year) VALUES ('sanction-misc', '2024-2025')`)
	if err != nil {
		t.Errorf("Valid register insert failed: %v", err)
	}
}

func TestSchema_UserRoleConstraint(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO users (username, password_hash, security_answer_hash, role) VALUES ('x', 'h', 'h', 'root')`)
	if err == nil {
		t.Error("Expected check constraint to reject unknown role")
	}
}
