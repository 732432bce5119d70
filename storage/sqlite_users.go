package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"redtrace/core"

	"go.uber.org/zap"
)

// SQLiteUserStorage handles user and operation-membership persistence
type SQLiteUserStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteUserStorage creates a new SQLite user storage handler
func NewSQLiteUserStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteUserStorage {
	return &SQLiteUserStorage{db: db, logger: logger}
}

// CreateUser creates a new user
func (s *SQLiteUserStorage) CreateUser(user *core.User) error {
	if user.Username == "" {
		return fmt.Errorf("username is required")
	}
	if !user.Role.IsValid() {
		return fmt.Errorf("invalid role: %s", user.Role)
	}

	query := `
		INSERT INTO users (username, password_hash, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.WriteDB.Exec(query,
		user.Username,
		user.PasswordHash,
		user.Role,
		user.Active,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUserExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	s.logger.Infow("User created", "username", user.Username, "role", user.Role)
	return nil
}

// GetUser retrieves a user by username
func (s *SQLiteUserStorage) GetUser(username string) (*core.User, error) {
	query := `
		SELECT username, password_hash, role, active, created_at, updated_at
		FROM users WHERE username = ?
	`

	var user core.User
	var active int
	err := s.db.ReadDB.QueryRow(query, username).Scan(
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&active,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.Active = active == 1

	return &user, nil
}

// CountUsers returns the total number of users
func (s *SQLiteUserStorage) CountUsers() (int64, error) {
	var count int64
	if err := s.db.ReadDB.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// AddOperationMember links a user to an operation for access scoping
func (s *SQLiteUserStorage) AddOperationMember(operationID, username, addedBy string) error {
	query := `
		INSERT INTO operation_members (operation_id, username, added_at, added_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (operation_id, username) DO NOTHING
	`
	_, err := s.db.WriteDB.Exec(query, operationID, username, time.Now().UTC(), addedBy)
	if err != nil {
		return fmt.Errorf("failed to add operation member: %w", err)
	}
	return nil
}

// RemoveOperationMember unlinks a user from an operation
func (s *SQLiteUserStorage) RemoveOperationMember(operationID, username string) error {
	_, err := s.db.WriteDB.Exec(
		"DELETE FROM operation_members WHERE operation_id = ? AND username = ?",
		operationID, username,
	)
	if err != nil {
		return fmt.Errorf("failed to remove operation member: %w", err)
	}
	return nil
}

// IsOperationMember reports whether a user is a member of an operation
func (s *SQLiteUserStorage) IsOperationMember(operationID, username string) (bool, error) {
	var count int
	err := s.db.ReadDB.QueryRow(
		"SELECT COUNT(*) FROM operation_members WHERE operation_id = ? AND username = ?",
		operationID, username,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query operation membership: %w", err)
	}
	return count > 0, nil
}

// MemberOperationIDs returns the ids of every operation the user is a member of
func (s *SQLiteUserStorage) MemberOperationIDs(username string) ([]string, error) {
	rows, err := s.db.ReadDB.Query(
		"SELECT operation_id FROM operation_members WHERE username = ? ORDER BY operation_id",
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan membership row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating membership rows: %w", err)
	}
	return ids, nil
}
