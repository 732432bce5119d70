package storage

import "errors"

// Storage error constants
var (
	// ErrOperationNotFound is returned when an operation is not found
	ErrOperationNotFound = errors.New("operation not found")

	// ErrTechniqueNotFound is returned when a technique is not found
	ErrTechniqueNotFound = errors.New("technique not found")

	// ErrToolNotFound is returned when a tool is not found
	ErrToolNotFound = errors.New("tool not found")

	// ErrTargetNotFound is returned when a target is not found
	ErrTargetNotFound = errors.New("target not found")

	// ErrMitreTechniqueNotFound is returned when a MITRE technique is not found
	ErrMitreTechniqueNotFound = errors.New("MITRE technique not found")

	// ErrMitreSubTechniqueNotFound is returned when a MITRE sub-technique is not found
	ErrMitreSubTechniqueNotFound = errors.New("MITRE sub-technique not found")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when creating a user that already exists
	ErrUserExists = errors.New("user already exists")

	// Generic storage errors

	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")

	// ErrConstraintViolation is returned when a database constraint is violated
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")
)
