// Package storage provides the SQLite persistence layer for redtrace.
// WAL mode with a single-writer pool and a concurrent read pool; every
// multi-statement mutation goes through WithTransaction.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the SQLite database connections.
// Separate read and write pools leverage WAL mode's concurrent-read model:
// exactly one writer, unlimited readers.
type SQLite struct {
	WriteDB *sql.DB // single-writer pool (MaxOpenConns=1)
	ReadDB  *sql.DB // read-only pool
	Path    string
	Logger  *zap.SugaredLogger
}

// configureConnection applies the standard SQLite settings to a pool:
// WAL journal, foreign keys on, busy timeout.
func configureConnection(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite disables foreign keys by default; the schema relies on them
	// for engagement cascade deletes.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got %d)", fkEnabled)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" journal mode, not "wal"
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got %s)", journalMode)
	}

	return nil
}

// NewSQLite opens the database, configures both pools, and creates the schema.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// In-memory databases need shared cache so both pools see the same
	// data. The name is unique per open so independent instances (tests in
	// particular) never share state.
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = fmt.Sprintf("file:memdb_%s?mode=memory&cache=shared", uuid.New().String())
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	if err := configureConnection(writeDB, dbPath); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}
	// WAL requires exactly one writer at a time
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	writeDB.SetConnMaxIdleTime(10 * time.Minute)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	if err := configureConnection(readDB, dbPath); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}
	// Enforce read-only access at the SQLite level
	if _, err := readDB.Exec("PRAGMA query_only=ON"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to enable query_only mode on read pool: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	s := &SQLite{
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := s.createTables(); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infof("SQLite database initialized at %s", dbPath)
	return s, nil
}

// WithTransaction executes fn within a database transaction, rolling back
// on error or panic. All multi-statement mutations must use this.
func (s *SQLite) WithTransaction(fn func(*sql.Tx) error) error {
	tx, err := s.WriteDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes both connection pools
func (s *SQLite) Close() error {
	var firstErr error
	if err := s.WriteDB.Close(); err != nil {
		firstErr = err
	}
	if err := s.ReadDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// createTables creates all necessary tables
func (s *SQLite) createTables() error {
	schema := `
	-- Users table
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'viewer',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

	-- Operations table
	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (created_by) REFERENCES users(username) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_operations_name ON operations(name);
	CREATE INDEX IF NOT EXISTS idx_operations_created_at ON operations(created_at DESC);

	-- Operation membership, the access-scoping input
	CREATE TABLE IF NOT EXISTS operation_members (
		operation_id TEXT NOT NULL,
		username TEXT NOT NULL,
		added_at DATETIME NOT NULL,
		added_by TEXT,
		PRIMARY KEY (operation_id, username),
		FOREIGN KEY (operation_id) REFERENCES operations(id) ON DELETE CASCADE,
		FOREIGN KEY (username) REFERENCES users(username) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_operation_members_username ON operation_members(username);

	-- MITRE ATT&CK reference taxonomy
	CREATE TABLE IF NOT EXISTS mitre_tactics (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		short_name TEXT
	);
	CREATE TABLE IF NOT EXISTS mitre_techniques (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tactic_id TEXT,
		FOREIGN KEY (tactic_id) REFERENCES mitre_tactics(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mitre_techniques_tactic ON mitre_techniques(tactic_id);
	CREATE TABLE IF NOT EXISTS mitre_sub_techniques (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		technique_id TEXT NOT NULL,
		FOREIGN KEY (technique_id) REFERENCES mitre_techniques(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_mitre_sub_techniques_parent ON mitre_sub_techniques(technique_id);

	-- Tools table
	CREATE TABLE IF NOT EXISTS tools (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tools_name ON tools(name);

	-- Targets table
	CREATE TABLE IF NOT EXISTS targets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_crown_jewel INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_targets_name ON targets(name);
	CREATE INDEX IF NOT EXISTS idx_targets_crown_jewel ON targets(is_crown_jewel);

	-- Techniques table
	CREATE TABLE IF NOT EXISTS techniques (
		id TEXT PRIMARY KEY,
		operation_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		mitre_technique_id TEXT,
		mitre_sub_technique_id TEXT,
		start_time DATETIME,
		end_time DATETIME,
		source_ip TEXT NOT NULL DEFAULT '',
		target_system TEXT NOT NULL DEFAULT '',
		executed_successfully INTEGER, -- nullable boolean: NULL=unset
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (operation_id) REFERENCES operations(id) ON DELETE CASCADE,
		FOREIGN KEY (mitre_technique_id) REFERENCES mitre_techniques(id) ON DELETE SET NULL,
		FOREIGN KEY (mitre_sub_technique_id) REFERENCES mitre_sub_techniques(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_techniques_operation ON techniques(operation_id);
	CREATE INDEX IF NOT EXISTS idx_techniques_sort ON techniques(operation_id, sort_order);
	CREATE INDEX IF NOT EXISTS idx_techniques_created_at ON techniques(created_at);

	-- Technique-Tool junction table (set-replace semantics on update)
	CREATE TABLE IF NOT EXISTS technique_tools (
		technique_id TEXT NOT NULL,
		tool_id TEXT NOT NULL,
		PRIMARY KEY (technique_id, tool_id),
		FOREIGN KEY (technique_id) REFERENCES techniques(id) ON DELETE CASCADE,
		FOREIGN KEY (tool_id) REFERENCES tools(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_technique_tools_tool ON technique_tools(tool_id);

	-- Target engagements: at most one per (technique, target)
	CREATE TABLE IF NOT EXISTS target_engagements (
		id TEXT PRIMARY KEY,
		technique_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		was_successful INTEGER, -- nullable boolean: NULL=unknown
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (technique_id, target_id),
		FOREIGN KEY (technique_id) REFERENCES techniques(id) ON DELETE CASCADE,
		FOREIGN KEY (target_id) REFERENCES targets(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_target_engagements_technique ON target_engagements(technique_id);
	CREATE INDEX IF NOT EXISTS idx_target_engagements_target ON target_engagements(target_id);

	-- Audit log for mutations
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT NOT NULL,
		event TEXT NOT NULL,
		entity_id TEXT,
		operation_id TEXT,
		payload TEXT, -- JSON object
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_event ON audit_log(event);
	CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor);
	CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at DESC);
	`

	if _, err := s.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
