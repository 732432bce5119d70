package storage

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AuditEntry is one row of the append-only audit log
type AuditEntry struct {
	ID          int64     `json:"id"`
	Actor       string    `json:"actor"`
	Event       string    `json:"event"`
	EntityID    string    `json:"entityId"`
	OperationID string    `json:"operationId,omitempty"`
	Payload     string    `json:"payload,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SQLiteAuditStorage appends to and reads the audit log
type SQLiteAuditStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAuditStorage creates a new SQLite audit storage handler
func NewSQLiteAuditStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteAuditStorage {
	return &SQLiteAuditStorage{db: db, logger: logger}
}

// Append inserts one audit entry
func (s *SQLiteAuditStorage) Append(entry *AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log (actor, event, entity_id, operation_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	var operationID interface{}
	if entry.OperationID != "" {
		operationID = entry.OperationID
	}
	result, err := s.db.WriteDB.Exec(query,
		entry.Actor, entry.Event, entry.EntityID, operationID, entry.Payload, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListRecent returns the newest limit entries, optionally scoped to one operation
func (s *SQLiteAuditStorage) ListRecent(operationID string, limit int) ([]AuditEntry, error) {
	query := `
		SELECT id, actor, event, entity_id, operation_id, payload, created_at
		FROM audit_log
	`
	var args []interface{}
	if operationID != "" {
		query += " WHERE operation_id = ?"
		args = append(args, operationID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.ReadDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var opID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.Actor, &e.Event, &e.EntityID, &opID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		if opID.Valid {
			e.OperationID = opID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return entries, nil
}
