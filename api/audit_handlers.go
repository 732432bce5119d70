package api

import (
	"net/http"
	"strconv"

	"redtrace/core"
)

const defaultAuditLimit = 100

// listAuditLog returns recent audit entries, newest first. Admin only.
func (a *API) listAuditLog(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}
	if caller.Role != core.RoleAdmin {
		writeError(w, http.StatusForbidden, "Audit log is admin only", nil, a.logger)
		return
	}

	operationID := r.URL.Query().Get("operationId")
	if operationID != "" {
		if err := validateUUID(operationID); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid operation ID format", err, a.logger)
			return
		}
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter", err, a.logger)
			return
		}
		limit = parsed
	}

	entries, err := a.auditLog.ListRecent(operationID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve audit log", err, a.logger)
		return
	}
	a.respondJSON(w, entries, http.StatusOK)
}
