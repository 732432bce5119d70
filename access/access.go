// Package access implements the role and membership policy that scopes what
// a caller can see and change. Every service entry point consults it before
// touching storage.
package access

import (
	"redtrace/core"
	"redtrace/storage"

	"go.uber.org/zap"
)

// Mode is the kind of access being requested on an operation
type Mode string

const (
	ModeView   Mode = "view"
	ModeModify Mode = "modify"
)

// Checker decides per-operation access and computes the caller's visible
// operation set for list queries.
type Checker interface {
	// CanAccess reports whether the caller may perform mode on the operation.
	CanAccess(caller core.Caller, operationID string, mode Mode) (bool, error)

	// AccessibleOperationIDs returns the operation ids the caller may view.
	// all=true means unrestricted visibility and ids is ignored.
	AccessibleOperationIDs(caller core.Caller) (ids []string, all bool, err error)
}

// RoleChecker applies the role matrix over operation membership:
// admins see and change everything; operators change operations they are a
// member of but view all; viewers only view operations they are a member of.
type RoleChecker struct {
	users  *storage.SQLiteUserStorage
	logger *zap.SugaredLogger
}

// NewRoleChecker creates a role-based access checker backed by the
// membership table.
func NewRoleChecker(users *storage.SQLiteUserStorage, logger *zap.SugaredLogger) *RoleChecker {
	return &RoleChecker{users: users, logger: logger}
}

// CanAccess implements Checker
func (c *RoleChecker) CanAccess(caller core.Caller, operationID string, mode Mode) (bool, error) {
	switch caller.Role {
	case core.RoleAdmin:
		return true, nil
	case core.RoleOperator:
		if mode == ModeView {
			return true, nil
		}
		return c.users.IsOperationMember(operationID, caller.Username)
	case core.RoleViewer:
		if mode == ModeModify {
			return false, nil
		}
		return c.users.IsOperationMember(operationID, caller.Username)
	default:
		c.logger.Warnw("Access check for unknown role", "username", caller.Username, "role", caller.Role)
		return false, nil
	}
}

// AccessibleOperationIDs implements Checker
func (c *RoleChecker) AccessibleOperationIDs(caller core.Caller) ([]string, bool, error) {
	switch caller.Role {
	case core.RoleAdmin, core.RoleOperator:
		return nil, true, nil
	case core.RoleViewer:
		ids, err := c.users.MemberOperationIDs(caller.Username)
		if err != nil {
			return nil, false, err
		}
		return ids, false, nil
	default:
		return nil, false, nil
	}
}
