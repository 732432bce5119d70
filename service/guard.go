package service

import (
	"errors"

	"redtrace/access"
	"redtrace/core"
	"redtrace/metrics"
	"redtrace/storage"

	"go.uber.org/zap"
)

// AccessGuard is the single pre-authorization path in front of the service
// operations. Mutations resolve the target operation and demand modify
// access; reads mask a denial as not found so an inaccessible record is
// indistinguishable from an absent one.
type AccessGuard struct {
	operations *storage.SQLiteOperationStorage
	checker    access.Checker
	logger     *zap.SugaredLogger
}

// NewAccessGuard creates an access guard over operation storage and the
// role checker
func NewAccessGuard(
	operations *storage.SQLiteOperationStorage,
	checker access.Checker,
	logger *zap.SugaredLogger,
) *AccessGuard {
	return &AccessGuard{
		operations: operations,
		checker:    checker,
		logger:     logger,
	}
}

// RequireModify resolves the operation and demands modify access on it.
// A missing operation is NotFound. A denial on a record the caller cannot
// even view is masked as NotFound with the caller-supplied message; a denial
// on a visible record is Forbidden.
func (g *AccessGuard) RequireModify(caller core.Caller, operationID, maskMessage string) (*core.Operation, error) {
	op, err := g.operations.GetOperation(operationID)
	if err != nil {
		if errors.Is(err, storage.ErrOperationNotFound) {
			return nil, NotFound("operation not found")
		}
		return nil, g.internal("failed to load operation", err)
	}

	ok, err := g.checker.CanAccess(caller, operationID, access.ModeModify)
	if err != nil {
		return nil, g.internal("access check failed", err)
	}
	if ok {
		return op, nil
	}
	metrics.AccessDenials.WithLabelValues(string(access.ModeModify)).Inc()

	visible, err := g.checker.CanAccess(caller, operationID, access.ModeView)
	if err != nil {
		return nil, g.internal("access check failed", err)
	}
	if !visible {
		return nil, NotFound(maskMessage)
	}
	return nil, Forbidden("insufficient access to this operation")
}

// RequireView demands view access on the operation, masking a denial as
// NotFound with the caller-supplied message so the error matches the entity
// being read.
func (g *AccessGuard) RequireView(caller core.Caller, operationID, maskMessage string) error {
	ok, err := g.checker.CanAccess(caller, operationID, access.ModeView)
	if err != nil {
		return g.internal("access check failed", err)
	}
	if !ok {
		metrics.AccessDenials.WithLabelValues(string(access.ModeView)).Inc()
		return NotFound(maskMessage)
	}
	return nil
}

// Scope returns the operation ids visible to the caller for list queries
func (g *AccessGuard) Scope(caller core.Caller) ([]string, bool, error) {
	ids, all, err := g.checker.AccessibleOperationIDs(caller)
	if err != nil {
		return nil, false, g.internal("access check failed", err)
	}
	return ids, all, nil
}

// RequireCreator rejects roles that may not create operations
func (g *AccessGuard) RequireCreator(caller core.Caller) error {
	if caller.Role == core.RoleViewer {
		metrics.AccessDenials.WithLabelValues(string(access.ModeModify)).Inc()
		return Forbidden("viewers cannot create operations")
	}
	return nil
}

// RequireAdmin restricts an entry point to admins
func (g *AccessGuard) RequireAdmin(caller core.Caller, message string) error {
	if caller.Role != core.RoleAdmin {
		metrics.AccessDenials.WithLabelValues(string(access.ModeModify)).Inc()
		return Forbidden(message)
	}
	return nil
}

func (g *AccessGuard) internal(message string, err error) error {
	g.logger.Errorw(message, "error", err)
	return Internal(message, err)
}
