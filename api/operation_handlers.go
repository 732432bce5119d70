package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// createOperationRequest is the POST /api/operations body
type createOperationRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
}

// addMemberRequest is the POST /api/operations/{id}/members body
type addMemberRequest struct {
	Username string `json:"username" validate:"required,max=255"`
}

func (a *API) createOperation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	var req createOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}

	op, err := a.operations.Create(caller, req.Name, req.Description)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, op, http.StatusCreated)
}

func (a *API) getOperation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	id := mux.Vars(r)["id"]
	if err := validateUUID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid operation ID format", err, a.logger)
		return
	}

	op, err := a.operations.Get(caller, id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, op, http.StatusOK)
}

func (a *API) listOperations(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	ops, err := a.operations.List(caller)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, ops, http.StatusOK)
}

func (a *API) deleteOperation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	id := mux.Vars(r)["id"]
	if err := validateUUID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid operation ID format", err, a.logger)
		return
	}

	if err := a.operations.Delete(caller, id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, map[string]string{"message": "Operation deleted successfully"}, http.StatusOK)
}

func (a *API) addOperationMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	id := mux.Vars(r)["id"]
	if err := validateUUID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid operation ID format", err, a.logger)
		return
	}

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}

	if err := a.operations.AddMember(caller, id, req.Username); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, map[string]string{"message": "Member added successfully"}, http.StatusOK)
}

func (a *API) removeOperationMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	vars := mux.Vars(r)
	id := vars["id"]
	if err := validateUUID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid operation ID format", err, a.logger)
		return
	}

	if err := a.operations.RemoveMember(caller, id, vars["username"]); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, map[string]string{"message": "Member removed successfully"}, http.StatusOK)
}
