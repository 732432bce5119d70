package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"redtrace/core"
	"redtrace/storage"

	"github.com/gorilla/mux"
)

// createToolRequest is the POST /api/tools body
type createToolRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
}

// createTargetRequest is the POST /api/targets body
type createTargetRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	Description  string `json:"description" validate:"max=5000"`
	IsCrownJewel bool   `json:"isCrownJewel"`
}

// requireAssetWriter rejects viewers; tools and targets are shared across
// operations, so any operator may manage them.
func (a *API) requireAssetWriter(w http.ResponseWriter, r *http.Request) (core.Caller, bool) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return core.Caller{}, false
	}
	if caller.Role == core.RoleViewer {
		writeError(w, http.StatusForbidden, "Viewers cannot manage shared assets", nil, a.logger)
		return core.Caller{}, false
	}
	return caller, true
}

func (a *API) createTool(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAssetWriter(w, r); !ok {
		return
	}

	var req createToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}

	tool := core.NewTool(req.Name, req.Description)
	if err := a.tools.CreateTool(tool); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create tool", err, a.logger)
		return
	}
	a.respondJSON(w, tool, http.StatusCreated)
}

func (a *API) listTools(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	tools, err := a.tools.ListTools()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve tools", err, a.logger)
		return
	}
	a.respondJSON(w, tools, http.StatusOK)
}

func (a *API) deleteTool(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAssetWriter(w, r); !ok {
		return
	}

	id := mux.Vars(r)["id"]
	if err := validateUUID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tool ID format", err, a.logger)
		return
	}

	if err := a.tools.DeleteTool(id); err != nil {
		if errors.Is(err, storage.ErrToolNotFound) {
			writeError(w, http.StatusNotFound, "Tool not found", nil, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete tool", err, a.logger)
		return
	}
	a.respondJSON(w, map[string]string{"message": "Tool deleted successfully"}, http.StatusOK)
}

func (a *API) createTarget(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAssetWriter(w, r); !ok {
		return
	}

	var req createTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}

	target := core.NewTarget(req.Name, req.Description, req.IsCrownJewel)
	if err := a.targets.CreateTarget(target); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create target", err, a.logger)
		return
	}
	a.respondJSON(w, target, http.StatusCreated)
}

func (a *API) listTargets(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	targets, err := a.targets.ListTargets()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve targets", err, a.logger)
		return
	}
	a.respondJSON(w, targets, http.StatusOK)
}

func (a *API) deleteTarget(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAssetWriter(w, r); !ok {
		return
	}

	id := mux.Vars(r)["id"]
	if err := validateUUID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid target ID format", err, a.logger)
		return
	}

	if err := a.targets.DeleteTarget(id); err != nil {
		if errors.Is(err, storage.ErrTargetNotFound) {
			writeError(w, http.StatusNotFound, "Target not found", nil, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete target", err, a.logger)
		return
	}
	a.respondJSON(w, map[string]string{"message": "Target deleted successfully"}, http.StatusOK)
}
