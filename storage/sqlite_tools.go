package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"redtrace/core"

	"go.uber.org/zap"
)

// SQLiteToolStorage handles tool CRUD in SQLite
type SQLiteToolStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteToolStorage creates a new SQLite tool storage handler
func NewSQLiteToolStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteToolStorage {
	return &SQLiteToolStorage{db: db, logger: logger}
}

// CreateTool creates a new tool
func (s *SQLiteToolStorage) CreateTool(tool *core.Tool) error {
	if err := tool.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO tools (id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.WriteDB.Exec(query, tool.ID, tool.Name, tool.Description, tool.CreatedAt, tool.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert tool: %w", err)
	}

	s.logger.Infow("Tool created", "tool_id", tool.ID, "name", tool.Name)
	return nil
}

// GetTool retrieves a tool by ID
func (s *SQLiteToolStorage) GetTool(id string) (*core.Tool, error) {
	query := "SELECT id, name, description, created_at, updated_at FROM tools WHERE id = ?"

	var tool core.Tool
	err := s.db.ReadDB.QueryRow(query, id).Scan(
		&tool.ID, &tool.Name, &tool.Description, &tool.CreatedAt, &tool.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrToolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tool: %w", err)
	}
	return &tool, nil
}

// ListTools returns all tools ordered by name
func (s *SQLiteToolStorage) ListTools() ([]core.Tool, error) {
	rows, err := s.db.ReadDB.Query(
		"SELECT id, name, description, created_at, updated_at FROM tools ORDER BY name",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tools: %w", err)
	}
	defer rows.Close()

	tools := []core.Tool{}
	for rows.Next() {
		var tool core.Tool
		if err := rows.Scan(&tool.ID, &tool.Name, &tool.Description, &tool.CreatedAt, &tool.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool row: %w", err)
		}
		tools = append(tools, tool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool rows: %w", err)
	}
	return tools, nil
}

// MissingToolIDs returns the subset of ids with no matching tool row.
// One batched query regardless of input size.
func (s *SQLiteToolStorage) MissingToolIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := "SELECT id FROM tools WHERE id IN (" + placeholders(len(ids)) + ")"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.ReadDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool ids: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tool id: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool ids: %w", err)
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// DeleteTool deletes a tool; junction rows cascade
func (s *SQLiteToolStorage) DeleteTool(id string) error {
	result, err := s.db.WriteDB.Exec("DELETE FROM tools WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete tool: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrToolNotFound
	}
	return nil
}
