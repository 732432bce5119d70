package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"redtrace/core"
	"redtrace/service"

	"github.com/gorilla/mux"
)

// engagementRequest is one target outcome in a create or update request
type engagementRequest struct {
	TargetID string `json:"targetId" validate:"required,uuid"`
	Status   string `json:"status"`
}

// createTechniqueRequest is the POST /api/techniques body
type createTechniqueRequest struct {
	OperationID          string              `json:"operationId" validate:"required,uuid"`
	Description          string              `json:"description"`
	MitreTechniqueID     string              `json:"mitreTechniqueId"`
	MitreSubTechniqueID  string              `json:"mitreSubTechniqueId"`
	StartTime            *time.Time          `json:"startTime"`
	EndTime              *time.Time          `json:"endTime"`
	SourceIP             string              `json:"sourceIp"`
	TargetSystem         string              `json:"targetSystem"`
	ExecutedSuccessfully *bool               `json:"executedSuccessfully"`
	ToolIDs              []string            `json:"toolIds" validate:"dive,uuid"`
	Engagements          []engagementRequest `json:"targetEngagements" validate:"dive"`
}

// reorderRequest is the POST /api/operations/{id}/techniques/reorder body
type reorderRequest struct {
	TechniqueIDs []string `json:"techniqueIds" validate:"required,min=1,dive,uuid"`
}

// techniquePageResponse is one page of the technique listing
type techniquePageResponse struct {
	Items      []core.Technique `json:"items"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

func toEngagementInputs(reqs []engagementRequest) []service.EngagementInput {
	inputs := make([]service.EngagementInput, 0, len(reqs))
	for _, r := range reqs {
		inputs = append(inputs, service.EngagementInput{
			TargetID: r.TargetID,
			Status:   core.EngagementStatus(r.Status),
		})
	}
	return inputs
}

func (a *API) createTechnique(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	var req createTechniqueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}

	technique, err := a.techniques.Create(caller, service.CreateTechniqueInput{
		OperationID:          req.OperationID,
		Description:          req.Description,
		MitreTechniqueID:     req.MitreTechniqueID,
		MitreSubTechniqueID:  req.MitreSubTechniqueID,
		StartTime:            req.StartTime,
		EndTime:              req.EndTime,
		SourceIP:             req.SourceIP,
		TargetSystem:         req.TargetSystem,
		ExecutedSuccessfully: req.ExecutedSuccessfully,
		ToolIDs:              req.ToolIDs,
		Engagements:          toEngagementInputs(req.Engagements),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	a.respondJSON(w, technique, http.StatusCreated)
}

func (a *API) getTechnique(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	id := mux.Vars(r)["id"]
	if err := validateUUID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid technique ID format", err, a.logger)
		return
	}

	technique, err := a.techniques.GetByID(caller, id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, technique, http.StatusOK)
}

func (a *API) listTechniques(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	filters := core.TechniqueFilters{
		OperationID: r.URL.Query().Get("operationId"),
		Cursor:      r.URL.Query().Get("cursor"),
	}
	if filters.OperationID != "" {
		if err := validateUUID(filters.OperationID); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid operation ID format", err, a.logger)
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter", err, a.logger)
			return
		}
		filters.Limit = limit
	}

	page, err := a.techniques.List(caller, filters)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	a.respondJSON(w, techniquePageResponse{
		Items:      page.Items,
		NextCursor: page.NextCursor,
	}, http.StatusOK)
}

// updateTechnique applies a partial update. The body is decoded twice: once
// into raw JSON to learn which keys are present, then per field, so "key
// absent" and "key set to null" keep their distinct meanings.
func (a *API) updateTechnique(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	id := mux.Vars(r)["id"]
	if err := validateUUID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid technique ID format", err, a.logger)
		return
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}

	var input service.UpdateTechniqueInput
	if msg, present := raw["description"]; present {
		var v string
		if err := json.Unmarshal(msg, &v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value for field description", err, a.logger)
			return
		}
		input.Description = &v
	}
	if msg, present := raw["mitreTechniqueId"]; present {
		var v string
		if err := json.Unmarshal(msg, &v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value for field mitreTechniqueId", err, a.logger)
			return
		}
		input.MitreTechniqueID = &v
	}
	if msg, present := raw["mitreSubTechniqueId"]; present {
		var v string
		if err := json.Unmarshal(msg, &v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value for field mitreSubTechniqueId", err, a.logger)
			return
		}
		input.MitreSubTechniqueID = &v
	}
	if msg, present := raw["startTime"]; present {
		input.StartTimeSet = true
		if err := json.Unmarshal(msg, &input.StartTime); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value for field startTime", err, a.logger)
			return
		}
	}
	if msg, present := raw["endTime"]; present {
		input.EndTimeSet = true
		if err := json.Unmarshal(msg, &input.EndTime); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value for field endTime", err, a.logger)
			return
		}
	}
	if msg, present := raw["sourceIp"]; present {
		var v string
		if err := json.Unmarshal(msg, &v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value for field sourceIp", err, a.logger)
			return
		}
		input.SourceIP = &v
	}
	if msg, present := raw["targetSystem"]; present {
		var v string
		if err := json.Unmarshal(msg, &v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value for field targetSystem", err, a.logger)
			return
		}
		input.TargetSystem = &v
	}
	if msg, present := raw["executedSuccessfully"]; present {
		input.ExecutedSet = true
		if err := json.Unmarshal(msg, &input.ExecutedSuccessfully); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value for field executedSuccessfully", err, a.logger)
			return
		}
	}
	if msg, present := raw["toolIds"]; present {
		input.ToolIDsSet = true
		if err := json.Unmarshal(msg, &input.ToolIDs); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value for field toolIds", err, a.logger)
			return
		}
	}
	if msg, present := raw["targetEngagements"]; present {
		input.EngagementsSet = true
		var reqs []engagementRequest
		if err := json.Unmarshal(msg, &reqs); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value for field targetEngagements", err, a.logger)
			return
		}
		input.Engagements = toEngagementInputs(reqs)
	}

	technique, err := a.techniques.Update(caller, id, input)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, technique, http.StatusOK)
}

func (a *API) deleteTechnique(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	id := mux.Vars(r)["id"]
	if err := validateUUID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid technique ID format", err, a.logger)
		return
	}

	if err := a.techniques.Delete(caller, id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, map[string]string{"message": "Technique deleted successfully"}, http.StatusOK)
}

func (a *API) reorderTechniques(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	operationID := mux.Vars(r)["id"]
	if err := validateUUID(operationID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid operation ID format", err, a.logger)
		return
	}

	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}

	if err := a.techniques.Reorder(caller, operationID, req.TechniqueIDs); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, map[string]string{"message": "Techniques reordered successfully"}, http.StatusOK)
}
