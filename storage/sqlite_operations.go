package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"redtrace/core"

	"go.uber.org/zap"
)

// SQLiteOperationStorage handles operation CRUD in SQLite
type SQLiteOperationStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteOperationStorage creates a new SQLite operation storage handler
func NewSQLiteOperationStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteOperationStorage {
	return &SQLiteOperationStorage{db: db, logger: logger}
}

// CreateOperation creates a new operation
func (s *SQLiteOperationStorage) CreateOperation(op *core.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO operations (id, name, description, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	var createdBy interface{}
	if op.CreatedBy != "" {
		createdBy = op.CreatedBy
	}
	_, err := s.db.WriteDB.Exec(query, op.ID, op.Name, op.Description, createdBy, op.CreatedAt, op.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}

	s.logger.Infow("Operation created", "operation_id", op.ID, "name", op.Name)
	return nil
}

// GetOperation retrieves an operation by ID
func (s *SQLiteOperationStorage) GetOperation(id string) (*core.Operation, error) {
	query := `
		SELECT id, name, description, created_by, created_at, updated_at
		FROM operations WHERE id = ?
	`

	var op core.Operation
	var createdBy sql.NullString
	err := s.db.ReadDB.QueryRow(query, id).Scan(
		&op.ID,
		&op.Name,
		&op.Description,
		&createdBy,
		&op.CreatedAt,
		&op.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOperationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query operation: %w", err)
	}
	if createdBy.Valid {
		op.CreatedBy = createdBy.String
	}

	return &op, nil
}

// ListOperations returns operations, newest first. An empty ids slice with
// all=false yields no rows; all=true ignores ids.
func (s *SQLiteOperationStorage) ListOperations(ids []string, all bool) ([]core.Operation, error) {
	query := `
		SELECT id, name, description, created_by, created_at, updated_at
		FROM operations
	`
	var args []interface{}
	if !all {
		if len(ids) == 0 {
			return []core.Operation{}, nil
		}
		query += " WHERE id IN (" + placeholders(len(ids)) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.ReadDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	ops := []core.Operation{}
	for rows.Next() {
		var op core.Operation
		var createdBy sql.NullString
		if err := rows.Scan(&op.ID, &op.Name, &op.Description, &createdBy, &op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation row: %w", err)
		}
		if createdBy.Valid {
			op.CreatedBy = createdBy.String
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation rows: %w", err)
	}
	return ops, nil
}

// DeleteOperation deletes an operation; techniques cascade
func (s *SQLiteOperationStorage) DeleteOperation(id string) error {
	result, err := s.db.WriteDB.Exec("DELETE FROM operations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrOperationNotFound
	}

	s.logger.Infow("Operation deleted", "operation_id", id)
	return nil
}

// TechniqueIDs returns the ids of every technique belonging to the operation
func (s *SQLiteOperationStorage) TechniqueIDs(operationID string) ([]string, error) {
	rows, err := s.db.ReadDB.Query(
		"SELECT id FROM techniques WHERE operation_id = ?",
		operationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query technique ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan technique id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating technique ids: %w", err)
	}
	return ids, nil
}

// placeholders returns a comma-separated list of n SQL placeholders
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
