package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"redtrace/core"

	"go.uber.org/zap"
)

// SQLiteTargetStorage handles target CRUD in SQLite
type SQLiteTargetStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteTargetStorage creates a new SQLite target storage handler
func NewSQLiteTargetStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteTargetStorage {
	return &SQLiteTargetStorage{db: db, logger: logger}
}

// CreateTarget creates a new target
func (s *SQLiteTargetStorage) CreateTarget(target *core.Target) error {
	if err := target.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO targets (id, name, description, is_crown_jewel, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.WriteDB.Exec(query,
		target.ID, target.Name, target.Description, target.IsCrownJewel,
		target.CreatedAt, target.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert target: %w", err)
	}

	s.logger.Infow("Target created",
		"target_id", target.ID,
		"name", target.Name,
		"crown_jewel", target.IsCrownJewel,
	)
	return nil
}

// GetTarget retrieves a target by ID
func (s *SQLiteTargetStorage) GetTarget(id string) (*core.Target, error) {
	query := "SELECT id, name, description, is_crown_jewel, created_at, updated_at FROM targets WHERE id = ?"

	var target core.Target
	var crownJewel int
	err := s.db.ReadDB.QueryRow(query, id).Scan(
		&target.ID, &target.Name, &target.Description, &crownJewel,
		&target.CreatedAt, &target.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTargetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query target: %w", err)
	}
	target.IsCrownJewel = crownJewel == 1
	return &target, nil
}

// ListTargets returns all targets, crown jewels first, then by name
func (s *SQLiteTargetStorage) ListTargets() ([]core.Target, error) {
	rows, err := s.db.ReadDB.Query(
		"SELECT id, name, description, is_crown_jewel, created_at, updated_at FROM targets ORDER BY is_crown_jewel DESC, name",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	targets := []core.Target{}
	for rows.Next() {
		var target core.Target
		var crownJewel int
		if err := rows.Scan(&target.ID, &target.Name, &target.Description, &crownJewel, &target.CreatedAt, &target.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan target row: %w", err)
		}
		target.IsCrownJewel = crownJewel == 1
		targets = append(targets, target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating target rows: %w", err)
	}
	return targets, nil
}

// MissingTargetIDs returns the subset of ids with no matching target row.
// One batched query regardless of input size.
func (s *SQLiteTargetStorage) MissingTargetIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := "SELECT id FROM targets WHERE id IN (" + placeholders(len(ids)) + ")"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.ReadDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query target ids: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan target id: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating target ids: %w", err)
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// DeleteTarget deletes a target; engagements referencing it cascade
func (s *SQLiteTargetStorage) DeleteTarget(id string) error {
	result, err := s.db.WriteDB.Exec("DELETE FROM targets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete target: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTargetNotFound
	}
	return nil
}
