package service

import (
	"errors"

	"redtrace/access"
	"redtrace/audit"
	"redtrace/core"
	"redtrace/storage"

	"go.uber.org/zap"
)

// OperationService implements operation CRUD and membership management
type OperationService struct {
	operations *storage.SQLiteOperationStorage
	users      *storage.SQLiteUserStorage
	guard      *AccessGuard
	recorder   *audit.Recorder
	logger     *zap.SugaredLogger
}

// NewOperationService creates an operation service
func NewOperationService(
	operations *storage.SQLiteOperationStorage,
	users *storage.SQLiteUserStorage,
	checker access.Checker,
	recorder *audit.Recorder,
	logger *zap.SugaredLogger,
) *OperationService {
	return &OperationService{
		operations: operations,
		users:      users,
		guard:      NewAccessGuard(operations, checker, logger),
		recorder:   recorder,
		logger:     logger,
	}
}

// Create creates an operation and enrolls the creator as its first member.
// Viewers cannot create operations.
func (s *OperationService) Create(caller core.Caller, name, description string) (*core.Operation, error) {
	if err := s.guard.RequireCreator(caller); err != nil {
		return nil, err
	}

	op := core.NewOperation(name, description, caller.Username)
	if err := op.Validate(); err != nil {
		return nil, BadRequest(err.Error())
	}
	if err := s.operations.CreateOperation(op); err != nil {
		return nil, s.internal("failed to create operation", err)
	}
	if err := s.users.AddOperationMember(op.ID, caller.Username, caller.Username); err != nil {
		s.logger.Warnw("Failed to enroll creator as member",
			"operation_id", op.ID, "username", caller.Username, "error", err)
	}

	s.recorder.Event(caller.Username, "operation.created", op.ID, op.ID, map[string]interface{}{
		"name": op.Name,
	})
	return op, nil
}

// Get returns an operation the caller may view; inaccessible operations are
// reported as not found.
func (s *OperationService) Get(caller core.Caller, id string) (*core.Operation, error) {
	op, err := s.operations.GetOperation(id)
	if err != nil {
		if errors.Is(err, storage.ErrOperationNotFound) {
			return nil, NotFound("operation not found")
		}
		return nil, s.internal("failed to load operation", err)
	}

	if err := s.guard.RequireView(caller, id, "operation not found"); err != nil {
		return nil, err
	}
	return op, nil
}

// List returns the operations visible to the caller, newest first
func (s *OperationService) List(caller core.Caller) ([]core.Operation, error) {
	ids, all, err := s.guard.Scope(caller)
	if err != nil {
		return nil, err
	}
	ops, err := s.operations.ListOperations(ids, all)
	if err != nil {
		return nil, s.internal("failed to list operations", err)
	}
	return ops, nil
}

// Delete removes an operation and, via cascade, all of its techniques.
// Admin only.
func (s *OperationService) Delete(caller core.Caller, id string) error {
	if err := s.guard.RequireAdmin(caller, "only admins can delete operations"); err != nil {
		return err
	}
	if err := s.operations.DeleteOperation(id); err != nil {
		if errors.Is(err, storage.ErrOperationNotFound) {
			return NotFound("operation not found")
		}
		return s.internal("failed to delete operation", err)
	}

	s.recorder.Event(caller.Username, "operation.deleted", id, id, nil)
	return nil
}

// AddMember enrolls a user into an operation the caller may modify
func (s *OperationService) AddMember(caller core.Caller, operationID, username string) error {
	if _, err := s.guard.RequireModify(caller, operationID, "operation not found"); err != nil {
		return err
	}
	if _, err := s.users.GetUser(username); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return BadRequest("unknown user " + username)
		}
		return s.internal("failed to load user", err)
	}

	if err := s.users.AddOperationMember(operationID, username, caller.Username); err != nil {
		return s.internal("failed to add member", err)
	}

	s.recorder.Event(caller.Username, "operation.member_added", operationID, operationID, map[string]interface{}{
		"username": username,
	})
	return nil
}

// RemoveMember drops a user from an operation the caller may modify
func (s *OperationService) RemoveMember(caller core.Caller, operationID, username string) error {
	if _, err := s.guard.RequireModify(caller, operationID, "operation not found"); err != nil {
		return err
	}

	if err := s.users.RemoveOperationMember(operationID, username); err != nil {
		return s.internal("failed to remove member", err)
	}

	s.recorder.Event(caller.Username, "operation.member_removed", operationID, operationID, map[string]interface{}{
		"username": username,
	})
	return nil
}

func (s *OperationService) internal(message string, err error) error {
	s.logger.Errorw(message, "error", err)
	return Internal(message, err)
}
