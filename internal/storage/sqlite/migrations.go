package sqlite

import (
	"database/sql"
	"fmt"
)

// Migration is a single named schema migration.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList is the ordered list of all migrations. The base schema
// creates tables for fresh databases; migrations upgrade existing ones
// and must be idempotent.
var migrationsList = []Migration{
	{"cluster_diagnostics_columns", migrateClusterDiagnosticsColumns},
	{"proposal_execution_columns", migrateProposalExecutionColumns},
	{"audit_events_table", migrateAuditEventsTable},
}

// RunMigrations applies all pending migrations in order.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range migrationsList {
		var applied int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE name = ?", m.Name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.Name, err)
		}
		if applied > 0 {
			continue
		}
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (name) VALUES (?)", m.Name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func addColumnIfMissing(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil || exists {
		return err
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

// migrateClusterDiagnosticsColumns adds connection probe result columns
// to databases created before diagnostics were persisted.
func migrateClusterDiagnosticsColumns(db *sql.DB) error {
	cols := map[string]string{
		"latency_ms":            "INTEGER",
		"server_version":        "TEXT NOT NULL DEFAULT ''",
		"current_user_detected": "TEXT NOT NULL DEFAULT ''",
		"error_code":            "TEXT NOT NULL DEFAULT ''",
		"error_message":         "TEXT NOT NULL DEFAULT ''",
	}
	for _, col := range []string{"latency_ms", "server_version", "current_user_detected", "error_code", "error_message"} {
		if err := addColumnIfMissing(db, "clusters", col, cols[col]); err != nil {
			return err
		}
	}
	return nil
}

// migrateProposalExecutionColumns adds the job back-reference and actor
// columns written when a proposal is executed.
func migrateProposalExecutionColumns(db *sql.DB) error {
	for col, def := range map[string]string{
		"job_id":      "INTEGER",
		"executed_by": "INTEGER",
		"executed_at": "DATETIME",
	} {
		if err := addColumnIfMissing(db, "proposals", col, def); err != nil {
			return err
		}
	}
	return nil
}

// migrateAuditEventsTable creates the audit trail table for databases
// predating it. The CREATE in the base schema covers fresh databases.
func migrateAuditEventsTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_user_id INTEGER,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		entity_id INTEGER,
		metadata TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}
