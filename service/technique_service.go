// Package service implements the application operations on top of storage:
// validation, access policy, relationship reconciliation, pagination, and
// audit. Transports stay thin and translate *Error kinds to status codes.
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"redtrace/access"
	"redtrace/audit"
	"redtrace/core"
	"redtrace/metrics"
	"redtrace/storage"

	"go.uber.org/zap"
)

// EngagementInput names one target and the tri-state outcome against it
type EngagementInput struct {
	TargetID string
	Status   core.EngagementStatus
}

// CreateTechniqueInput carries the fields of a new technique record
type CreateTechniqueInput struct {
	OperationID          string
	Description          string
	MitreTechniqueID     string
	MitreSubTechniqueID  string
	StartTime            *time.Time
	EndTime              *time.Time
	SourceIP             string
	TargetSystem         string
	ExecutedSuccessfully *bool
	ToolIDs              []string
	Engagements          []EngagementInput
}

// UpdateTechniqueInput is a partial update. Pointer fields distinguish
// absent (nil) from present; the *Set flags do the same for fields whose
// zero value is meaningful (nil time, nil tri-state, empty list).
type UpdateTechniqueInput struct {
	Description         *string
	MitreTechniqueID    *string // empty string clears
	MitreSubTechniqueID *string // empty string clears

	StartTimeSet bool
	StartTime    *time.Time

	EndTimeSet bool
	EndTime    *time.Time

	SourceIP     *string
	TargetSystem *string

	ExecutedSet          bool
	ExecutedSuccessfully *bool

	ToolIDsSet bool
	ToolIDs    []string

	EngagementsSet bool
	Engagements    []EngagementInput
}

// TechniquePage is one page of a technique listing
type TechniquePage struct {
	Items      []core.Technique
	NextCursor string
}

// TechniqueService implements technique record keeping
type TechniqueService struct {
	techniques *storage.SQLiteTechniqueStorage
	operations *storage.SQLiteOperationStorage
	tools      *storage.SQLiteToolStorage
	targets    *storage.SQLiteTargetStorage
	mitre      *storage.SQLiteMitreStorage
	guard      *AccessGuard
	recorder   *audit.Recorder
	logger     *zap.SugaredLogger
}

// NewTechniqueService creates a technique service
func NewTechniqueService(
	techniques *storage.SQLiteTechniqueStorage,
	operations *storage.SQLiteOperationStorage,
	tools *storage.SQLiteToolStorage,
	targets *storage.SQLiteTargetStorage,
	mitreStore *storage.SQLiteMitreStorage,
	checker access.Checker,
	recorder *audit.Recorder,
	logger *zap.SugaredLogger,
) *TechniqueService {
	return &TechniqueService{
		techniques: techniques,
		operations: operations,
		tools:      tools,
		targets:    targets,
		mitre:      mitreStore,
		guard:      NewAccessGuard(operations, checker, logger),
		recorder:   recorder,
		logger:     logger,
	}
}

// Create validates and inserts a new technique under an operation the caller
// may modify, then returns the hydrated record.
func (s *TechniqueService) Create(caller core.Caller, input CreateTechniqueInput) (*core.Technique, error) {
	if input.OperationID == "" {
		return nil, BadRequest("operationId is required")
	}
	op, err := s.guard.RequireModify(caller, input.OperationID, "operation not found")
	if err != nil {
		return nil, err
	}

	t := core.NewTechnique(input.OperationID, strings.TrimSpace(input.Description))
	t.MitreTechniqueID = input.MitreTechniqueID
	t.MitreSubTechniqueID = input.MitreSubTechniqueID
	t.StartTime = input.StartTime
	t.EndTime = input.EndTime
	t.SourceIP = input.SourceIP
	t.TargetSystem = input.TargetSystem
	t.ExecutedSuccessfully = input.ExecutedSuccessfully

	if err := t.Validate(); err != nil {
		return nil, BadRequest(err.Error())
	}
	if err := core.ValidateTimeWindow(t.StartTime, t.EndTime); err != nil {
		return nil, BadRequest(err.Error())
	}
	if err := s.validateMitreRefs(t.MitreTechniqueID, t.MitreSubTechniqueID); err != nil {
		return nil, err
	}
	if err := s.validateToolIDs(input.ToolIDs); err != nil {
		return nil, err
	}
	engagements, err := s.validateEngagements(input.Engagements)
	if err != nil {
		return nil, err
	}

	if err := s.techniques.CreateTechnique(t, input.ToolIDs, engagements); err != nil {
		return nil, s.internal("failed to create technique", err)
	}

	metrics.TechniqueMutations.WithLabelValues("create").Inc()
	s.recorder.Event(caller.Username, "technique.created", t.ID, t.OperationID, map[string]interface{}{
		"description":      t.Description,
		"operationId":      op.ID,
		"operationName":    op.Name,
		"mitreTechniqueId": t.MitreTechniqueID,
		"toolCount":        len(input.ToolIDs),
		"engagementCount":  len(engagements),
	})

	created, err := s.techniques.GetTechnique(t.ID)
	if err != nil {
		return nil, s.internal("failed to reload technique", err)
	}
	return created, nil
}

// GetByID returns a hydrated technique. A technique the caller may not view
// is reported as not found, never as forbidden, so existence is not leaked.
func (s *TechniqueService) GetByID(caller core.Caller, id string) (*core.Technique, error) {
	t, err := s.techniques.GetTechnique(id)
	if err != nil {
		if errors.Is(err, storage.ErrTechniqueNotFound) {
			return nil, NotFound("technique not found")
		}
		return nil, s.internal("failed to load technique", err)
	}

	if err := s.guard.RequireView(caller, t.OperationID, "technique not found"); err != nil {
		return nil, err
	}
	return t, nil
}

// List returns a cursor page of techniques the caller may view, ordered by
// sort order within each operation. Filtering by an operation outside the
// caller's visible set yields an empty page rather than an error.
func (s *TechniqueService) List(caller core.Caller, filters core.TechniqueFilters) (*TechniquePage, error) {
	filters.Normalize()

	ids, all, err := s.guard.Scope(caller)
	if err != nil {
		return nil, err
	}
	if filters.OperationID != "" && !all {
		visible := false
		for _, id := range ids {
			if id == filters.OperationID {
				visible = true
				break
			}
		}
		if !visible {
			return &TechniquePage{Items: []core.Technique{}}, nil
		}
	}

	// Fetch one extra row to learn whether another page exists.
	items, err := s.techniques.ListTechniques(filters, ids, all, filters.Limit+1)
	if err != nil {
		return nil, s.internal("failed to list techniques", err)
	}

	page := &TechniquePage{Items: items}
	if len(items) > filters.Limit {
		page.Items = items[:filters.Limit]
		page.NextCursor = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}

// Update applies a partial update plus relationship reconciliation and
// returns the hydrated result.
func (s *TechniqueService) Update(caller core.Caller, id string, input UpdateTechniqueInput) (*core.Technique, error) {
	existing, err := s.techniques.GetTechnique(id)
	if err != nil {
		if errors.Is(err, storage.ErrTechniqueNotFound) {
			return nil, NotFound("technique not found")
		}
		return nil, s.internal("failed to load technique", err)
	}
	op, err := s.guard.RequireModify(caller, existing.OperationID, "technique not found")
	if err != nil {
		return nil, err
	}

	if input.Description != nil {
		trimmed := strings.TrimSpace(*input.Description)
		if len(trimmed) > core.MaxDescriptionLength {
			return nil, BadRequest(fmt.Sprintf("description exceeds %d characters", core.MaxDescriptionLength))
		}
		input.Description = &trimmed
	}
	if input.SourceIP != nil && *input.SourceIP != "" {
		if err := core.ValidateSourceIP(*input.SourceIP); err != nil {
			return nil, BadRequest(err.Error())
		}
	}
	if input.TargetSystem != nil && len(*input.TargetSystem) > core.MaxFreeTextLength {
		return nil, BadRequest(fmt.Sprintf("targetSystem exceeds %d characters", core.MaxFreeTextLength))
	}

	// The time window is checked over the merged record, so an update that
	// only moves one endpoint cannot invert the other.
	mergedStart := existing.StartTime
	if input.StartTimeSet {
		mergedStart = input.StartTime
	}
	mergedEnd := existing.EndTime
	if input.EndTimeSet {
		mergedEnd = input.EndTime
	}
	if err := core.ValidateTimeWindow(mergedStart, mergedEnd); err != nil {
		return nil, BadRequest(err.Error())
	}

	mergedMitre := existing.MitreTechniqueID
	if input.MitreTechniqueID != nil {
		mergedMitre = *input.MitreTechniqueID
	}
	mergedSub := existing.MitreSubTechniqueID
	if input.MitreSubTechniqueID != nil {
		mergedSub = *input.MitreSubTechniqueID
	}
	if err := s.validateMitreRefs(mergedMitre, mergedSub); err != nil {
		return nil, err
	}

	update := &storage.TechniqueUpdate{
		Description:  input.Description,
		SourceIP:     input.SourceIP,
		TargetSystem: input.TargetSystem,
	}
	if input.MitreTechniqueID != nil {
		update.SetMitreTechnique = true
		update.MitreTechniqueID = *input.MitreTechniqueID
	}
	if input.MitreSubTechniqueID != nil {
		update.SetMitreSubTechnique = true
		update.MitreSubTechniqueID = *input.MitreSubTechniqueID
	}
	if input.StartTimeSet {
		update.SetStartTime = true
		update.StartTime = input.StartTime
	}
	if input.EndTimeSet {
		update.SetEndTime = true
		update.EndTime = input.EndTime
	}
	if input.ExecutedSet {
		update.SetExecuted = true
		update.ExecutedSuccessfully = input.ExecutedSuccessfully
	}
	if input.ToolIDsSet {
		if err := s.validateToolIDs(input.ToolIDs); err != nil {
			return nil, err
		}
		update.SetTools = true
		update.ToolIDs = input.ToolIDs
	}
	if input.EngagementsSet {
		engagements, err := s.validateEngagements(input.Engagements)
		if err != nil {
			return nil, err
		}
		update.SetEngagements = true
		update.Engagements = engagements
	}

	if err := s.techniques.UpdateTechnique(id, update); err != nil {
		if errors.Is(err, storage.ErrTechniqueNotFound) {
			return nil, NotFound("technique not found")
		}
		return nil, s.internal("failed to update technique", err)
	}

	updated, err := s.techniques.GetTechnique(id)
	if err != nil {
		return nil, s.internal("failed to reload technique", err)
	}

	metrics.TechniqueMutations.WithLabelValues("update").Inc()
	s.recorder.Event(caller.Username, "technique.updated", id, updated.OperationID, map[string]interface{}{
		"description":           updated.Description,
		"operationId":           op.ID,
		"operationName":         op.Name,
		"toolsReplaced":         input.ToolIDsSet,
		"engagementsReconciled": input.EngagementsSet,
	})
	return updated, nil
}

// Delete removes a technique the caller may modify
func (s *TechniqueService) Delete(caller core.Caller, id string) error {
	existing, err := s.techniques.GetTechnique(id)
	if err != nil {
		if errors.Is(err, storage.ErrTechniqueNotFound) {
			return NotFound("technique not found")
		}
		return s.internal("failed to load technique", err)
	}
	op, err := s.guard.RequireModify(caller, existing.OperationID, "technique not found")
	if err != nil {
		return err
	}

	if err := s.techniques.DeleteTechnique(id); err != nil {
		if errors.Is(err, storage.ErrTechniqueNotFound) {
			return NotFound("technique not found")
		}
		return s.internal("failed to delete technique", err)
	}

	metrics.TechniqueMutations.WithLabelValues("delete").Inc()
	s.recorder.Event(caller.Username, "technique.deleted", id, existing.OperationID, map[string]interface{}{
		"description":   existing.Description,
		"operationId":   op.ID,
		"operationName": op.Name,
	})
	return nil
}

// Reorder assigns each listed technique the sort order matching its array
// position. Every id must belong to the operation; a foreign or duplicate id
// rejects the whole request before any write. Techniques omitted from the
// list keep their previous order.
func (s *TechniqueService) Reorder(caller core.Caller, operationID string, orderedIDs []string) error {
	op, err := s.guard.RequireModify(caller, operationID, "operation not found")
	if err != nil {
		return err
	}
	if len(orderedIDs) == 0 {
		return BadRequest("techniqueIds must not be empty")
	}

	owned, err := s.operations.TechniqueIDs(operationID)
	if err != nil {
		return s.internal("failed to load operation techniques", err)
	}
	ownedSet := make(map[string]bool, len(owned))
	for _, id := range owned {
		ownedSet[id] = true
	}

	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if seen[id] {
			return BadRequest(fmt.Sprintf("duplicate technique id %s", id))
		}
		seen[id] = true
		if !ownedSet[id] {
			return BadRequest(fmt.Sprintf("technique %s does not belong to the operation", id))
		}
	}

	if err := s.techniques.ReorderTechniques(operationID, orderedIDs); err != nil {
		return s.internal("failed to reorder techniques", err)
	}

	metrics.TechniqueMutations.WithLabelValues("reorder").Inc()
	s.recorder.Event(caller.Username, "techniques.reordered", operationID, operationID, map[string]interface{}{
		"operationId":   op.ID,
		"operationName": op.Name,
		"techniqueIds":  orderedIDs,
	})
	return nil
}

// validateMitreRefs checks that referenced taxonomy rows exist and that a
// sub-technique belongs to the technique it is paired with.
func (s *TechniqueService) validateMitreRefs(techniqueID, subTechniqueID string) error {
	if techniqueID != "" {
		if _, err := s.mitre.GetTechnique(techniqueID); err != nil {
			if errors.Is(err, storage.ErrMitreTechniqueNotFound) {
				return BadRequest(fmt.Sprintf("unknown MITRE technique %s", techniqueID))
			}
			return s.internal("failed to load MITRE technique", err)
		}
	}
	if subTechniqueID != "" {
		sub, err := s.mitre.GetSubTechnique(subTechniqueID)
		if err != nil {
			if errors.Is(err, storage.ErrMitreSubTechniqueNotFound) {
				return BadRequest(fmt.Sprintf("unknown MITRE sub-technique %s", subTechniqueID))
			}
			return s.internal("failed to load MITRE sub-technique", err)
		}
		if techniqueID != "" && sub.TechniqueID != techniqueID {
			return BadRequest(fmt.Sprintf("sub-technique %s does not belong to technique %s", subTechniqueID, techniqueID))
		}
	}
	return nil
}

// validateToolIDs rejects references to tools that do not exist
func (s *TechniqueService) validateToolIDs(ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return BadRequest(fmt.Sprintf("duplicate tool id %s", id))
		}
		seen[id] = true
	}

	missing, err := s.tools.MissingToolIDs(ids)
	if err != nil {
		return s.internal("failed to verify tool ids", err)
	}
	if len(missing) > 0 {
		return BadRequest(fmt.Sprintf("unknown tool id %s", missing[0]))
	}
	return nil
}

// validateEngagements rejects duplicate targets, unknown targets, and
// invalid statuses, and converts the inputs to their storage form.
func (s *TechniqueService) validateEngagements(inputs []EngagementInput) ([]core.TargetEngagement, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(inputs))
	targetIDs := make([]string, 0, len(inputs))
	engagements := make([]core.TargetEngagement, 0, len(inputs))
	for _, in := range inputs {
		if in.TargetID == "" {
			return nil, BadRequest("engagement targetId is required")
		}
		if seen[in.TargetID] {
			return nil, BadRequest(fmt.Sprintf("duplicate engagement target %s", in.TargetID))
		}
		seen[in.TargetID] = true

		status := in.Status
		if status == "" {
			status = core.EngagementStatusUnknown
		}
		if !status.IsValid() {
			return nil, BadRequest(fmt.Sprintf("invalid engagement status %q", in.Status))
		}

		targetIDs = append(targetIDs, in.TargetID)
		engagements = append(engagements, core.TargetEngagement{TargetID: in.TargetID, Status: status})
	}

	missing, err := s.targets.MissingTargetIDs(targetIDs)
	if err != nil {
		return nil, s.internal("failed to verify target ids", err)
	}
	if len(missing) > 0 {
		return nil, BadRequest(fmt.Sprintf("unknown target id %s", missing[0]))
	}
	return engagements, nil
}

func (s *TechniqueService) internal(message string, err error) error {
	s.logger.Errorw(message, "error", err)
	return Internal(message, err)
}
