package store

import (
	"database/sql"
	"fmt"

	"agentforge/internal/logging"
)

// SchemaVersion is the version written by initialize plus pendingMigrations.
const SchemaVersion = 2

// Migration represents a column addition for databases created by older builds.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists columns added after the first release.
var pendingMigrations = []Migration{
	// v2: producing run, so a resumed run finds its terminal message
	{"messages", "run_id", "TEXT NOT NULL DEFAULT ''"},
}

// RunMigrations applies schema migrations for existing databases.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	appliedCount := 0
	skippedCount := 0

	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			logging.StoreDebug("Table missing, skipping migration: %s.%s", m.Table, m.Column)
			skippedCount++
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			skippedCount++
			continue
		}

		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		appliedCount++
	}

	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id)"); err != nil {
		return fmt.Errorf("failed to index messages.run_id: %w", err)
	}

	if GetSchemaVersion(db) < SchemaVersion {
		if err := SetSchemaVersion(db, SchemaVersion); err != nil {
			return err
		}
	}

	logging.StoreDebug("Schema migrations complete: applied=%d, skipped=%d", appliedCount, skippedCount)
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		logging.StoreDebug("Table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}

// GetSchemaVersion returns the recorded schema version, or 0 if none.
func GetSchemaVersion(db *sql.DB) int {
	if !tableExists(db, "schema_versions") {
		return 0
	}
	var version int
	if err := db.QueryRow("SELECT version FROM schema_versions ORDER BY id DESC LIMIT 1").Scan(&version); err != nil {
		return 0
	}
	return version
}

// SetSchemaVersion records a new schema version in the database.
func SetSchemaVersion(db *sql.DB, version int) error {
	createTable := `
		CREATE TABLE IF NOT EXISTS schema_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		)
	`
	if _, err := db.Exec(createTable); err != nil {
		return fmt.Errorf("failed to create schema_versions table: %w", err)
	}

	desc := fmt.Sprintf("Migrated to schema version %d", version)
	if _, err := db.Exec("INSERT INTO schema_versions (version, description) VALUES (?, ?)", version, desc); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	logging.Store("Schema version set to %d", version)
	return nil
}
