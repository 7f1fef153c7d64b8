package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

func Initialize(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func Migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('admin', 'chief', 'stock')),
			must_change_password BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS material_templates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			node_type TEXT NOT NULL CHECK (node_type IN ('container', 'item')),
			expected_qty INTEGER,
			parent_id INTEGER,
			FOREIGN KEY (parent_id) REFERENCES material_templates(id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			date DATE,
			info TEXT,
			public_token TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			verifier_name TEXT,
			verification_started_at DATETIME,
			verification_completed_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS event_nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			node_type TEXT NOT NULL CHECK (node_type IN ('container', 'item')),
			expected_qty INTEGER,
			parent_id INTEGER,
			status TEXT,
			comment TEXT,
			last_verifier_name TEXT,
			updated_at DATETIME,
			FOREIGN KEY (event_id) REFERENCES events(id),
			FOREIGN KEY (parent_id) REFERENCES event_nodes(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_material_templates_parent_id ON material_templates(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_nodes_event_id ON event_nodes(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_nodes_parent_id ON event_nodes(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_nodes_status ON event_nodes(status)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	// Databases created before per-node verifier tracking lack the column
	if err := addColumnIfMissing(db, "event_nodes", "last_verifier_name", "TEXT"); err != nil {
		return fmt.Errorf("failed to add last_verifier_name column: %w", err)
	}

	return nil
}

func addColumnIfMissing(db *sql.DB, table, column, definition string) error {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return err
	}
	defer rows.Close()

	hasColumn := false
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull, pk int
		var defaultValue sql.NullString
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		if name == column {
			hasColumn = true
			break
		}
	}
	rows.Close()

	if !hasColumn {
		if _, err := db.Exec("ALTER TABLE " + table + " ADD COLUMN " + column + " " + definition); err != nil {
			return err
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing only if it returns nil.
func withTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
