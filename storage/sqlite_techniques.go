package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"redtrace/core"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SQLiteTechniqueStorage handles technique CRUD and relationship
// reconciliation in SQLite. Every mutation runs inside one transaction so
// readers never observe a technique with only some of its join rows applied.
type SQLiteTechniqueStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteTechniqueStorage creates a new SQLite technique storage handler
func NewSQLiteTechniqueStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteTechniqueStorage {
	return &SQLiteTechniqueStorage{db: db, logger: logger}
}

// TechniqueUpdate carries a partial technique update. The Set* flags
// distinguish "field absent" (leave untouched) from "field present but
// empty/null" (clear or replace).
type TechniqueUpdate struct {
	Description *string

	SetMitreTechnique bool
	MitreTechniqueID  string // empty clears

	SetMitreSubTechnique bool
	MitreSubTechniqueID  string // empty clears

	SetStartTime bool
	StartTime    *time.Time // nil clears

	SetEndTime bool
	EndTime    *time.Time // nil clears

	SourceIP     *string
	TargetSystem *string

	SetExecuted          bool
	ExecutedSuccessfully *bool // nil clears

	SetTools bool
	ToolIDs  []string // full replacement, empty clears

	SetEngagements bool
	Engagements    []core.TargetEngagement // diffed against existing, empty clears
}

// statusToNullBool converts the tri-state engagement status to its stored
// nullable-boolean form. This encoding never leaves the storage package.
func statusToNullBool(s core.EngagementStatus) interface{} {
	switch s {
	case core.EngagementStatusSucceeded:
		return true
	case core.EngagementStatusFailed:
		return false
	default:
		return nil
	}
}

// nullBoolToStatus converts the stored nullable boolean back to the
// canonical tri-state status.
func nullBoolToStatus(nb sql.NullBool) core.EngagementStatus {
	if !nb.Valid {
		return core.EngagementStatusUnknown
	}
	if nb.Bool {
		return core.EngagementStatusSucceeded
	}
	return core.EngagementStatusFailed
}

// boolPtrToArg converts a tri-state *bool to a SQL argument
func boolPtrToArg(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return *b
}

// emptyToNull converts an empty string to a SQL NULL argument
func emptyToNull(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CreateTechnique inserts a technique plus its tool and engagement join rows
// atomically. The sort order is appended at the end of the operation's
// current ordering.
func (s *SQLiteTechniqueStorage) CreateTechnique(t *core.Technique, toolIDs []string, engagements []core.TargetEngagement) error {
	return s.db.WithTransaction(func(tx *sql.Tx) error {
		var nextOrder int
		err := tx.QueryRow(
			"SELECT COALESCE(MAX(sort_order) + 1, 0) FROM techniques WHERE operation_id = ?",
			t.OperationID,
		).Scan(&nextOrder)
		if err != nil {
			return fmt.Errorf("failed to compute next sort order: %w", err)
		}
		t.SortOrder = nextOrder

		_, err = tx.Exec(`
			INSERT INTO techniques (
				id, operation_id, description, mitre_technique_id, mitre_sub_technique_id,
				start_time, end_time, source_ip, target_system, executed_successfully,
				sort_order, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			t.ID,
			t.OperationID,
			t.Description,
			emptyToNull(t.MitreTechniqueID),
			emptyToNull(t.MitreSubTechniqueID),
			t.StartTime,
			t.EndTime,
			t.SourceIP,
			t.TargetSystem,
			boolPtrToArg(t.ExecutedSuccessfully),
			t.SortOrder,
			t.CreatedAt,
			t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert technique: %w", err)
		}

		for _, toolID := range toolIDs {
			if _, err := tx.Exec(
				"INSERT INTO technique_tools (technique_id, tool_id) VALUES (?, ?)",
				t.ID, toolID,
			); err != nil {
				return fmt.Errorf("failed to insert technique tool %s: %w", toolID, err)
			}
		}

		now := time.Now().UTC()
		for _, e := range engagements {
			if _, err := tx.Exec(`
				INSERT INTO target_engagements (id, technique_id, target_id, was_successful, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, uuid.New().String(), t.ID, e.TargetID, statusToNullBool(e.Status), now, now); err != nil {
				return fmt.Errorf("failed to insert target engagement for %s: %w", e.TargetID, err)
			}
		}

		return nil
	})
}

// GetTechnique retrieves a technique by ID, fully hydrated: operation
// reference, tools, and target engagements with their targets.
func (s *SQLiteTechniqueStorage) GetTechnique(id string) (*core.Technique, error) {
	query := `
		SELECT
			t.id, t.operation_id, o.name, t.description,
			t.mitre_technique_id, t.mitre_sub_technique_id,
			t.start_time, t.end_time, t.source_ip, t.target_system,
			t.executed_successfully, t.sort_order, t.created_at, t.updated_at
		FROM techniques t
		JOIN operations o ON o.id = t.operation_id
		WHERE t.id = ?
	`

	var t core.Technique
	var opName string
	var mitreID, mitreSubID sql.NullString
	var startTime, endTime sql.NullTime
	var executed sql.NullBool

	err := s.db.ReadDB.QueryRow(query, id).Scan(
		&t.ID, &t.OperationID, &opName, &t.Description,
		&mitreID, &mitreSubID,
		&startTime, &endTime, &t.SourceIP, &t.TargetSystem,
		&executed, &t.SortOrder, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTechniqueNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query technique: %w", err)
	}

	t.Operation = &core.OperationRef{ID: t.OperationID, Name: opName}
	if mitreID.Valid {
		t.MitreTechniqueID = mitreID.String
	}
	if mitreSubID.Valid {
		t.MitreSubTechniqueID = mitreSubID.String
	}
	if startTime.Valid {
		t.StartTime = &startTime.Time
	}
	if endTime.Valid {
		t.EndTime = &endTime.Time
	}
	if executed.Valid {
		v := executed.Bool
		t.ExecutedSuccessfully = &v
	}

	if t.Tools, err = s.loadTools(t.ID); err != nil {
		return nil, err
	}
	if t.TargetEngagements, err = s.loadEngagements(t.ID); err != nil {
		return nil, err
	}

	return &t, nil
}

// loadTools loads the tool set for a technique, ordered by name
func (s *SQLiteTechniqueStorage) loadTools(techniqueID string) ([]core.Tool, error) {
	rows, err := s.db.ReadDB.Query(`
		SELECT tl.id, tl.name, tl.description, tl.created_at, tl.updated_at
		FROM technique_tools tt
		JOIN tools tl ON tl.id = tt.tool_id
		WHERE tt.technique_id = ?
		ORDER BY tl.name
	`, techniqueID)
	if err != nil {
		return nil, fmt.Errorf("failed to query technique tools: %w", err)
	}
	defer rows.Close()

	tools := []core.Tool{}
	for rows.Next() {
		var tool core.Tool
		if err := rows.Scan(&tool.ID, &tool.Name, &tool.Description, &tool.CreatedAt, &tool.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan technique tool row: %w", err)
		}
		tools = append(tools, tool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating technique tool rows: %w", err)
	}
	return tools, nil
}

// loadEngagements loads the engagement set for a technique with hydrated targets
func (s *SQLiteTechniqueStorage) loadEngagements(techniqueID string) ([]core.TargetEngagement, error) {
	rows, err := s.db.ReadDB.Query(`
		SELECT
			e.id, e.technique_id, e.target_id, e.was_successful, e.created_at, e.updated_at,
			tg.name, tg.description, tg.is_crown_jewel, tg.created_at, tg.updated_at
		FROM target_engagements e
		JOIN targets tg ON tg.id = e.target_id
		WHERE e.technique_id = ?
		ORDER BY tg.name
	`, techniqueID)
	if err != nil {
		return nil, fmt.Errorf("failed to query target engagements: %w", err)
	}
	defer rows.Close()

	engagements := []core.TargetEngagement{}
	for rows.Next() {
		var e core.TargetEngagement
		var wasSuccessful sql.NullBool
		var target core.Target
		var crownJewel int
		if err := rows.Scan(
			&e.ID, &e.TechniqueID, &e.TargetID, &wasSuccessful, &e.CreatedAt, &e.UpdatedAt,
			&target.Name, &target.Description, &crownJewel, &target.CreatedAt, &target.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan target engagement row: %w", err)
		}
		e.Status = nullBoolToStatus(wasSuccessful)
		target.ID = e.TargetID
		target.IsCrownJewel = crownJewel == 1
		e.Target = &target
		engagements = append(engagements, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating target engagement rows: %w", err)
	}
	return engagements, nil
}

// UpdateTechnique applies a partial update plus relationship reconciliation
// in one transaction. Fields without a Set flag or pointer value are left
// untouched.
func (s *SQLiteTechniqueStorage) UpdateTechnique(id string, update *TechniqueUpdate) error {
	return s.db.WithTransaction(func(tx *sql.Tx) error {
		setClauses := "updated_at = ?"
		args := []interface{}{time.Now().UTC()}

		if update.Description != nil {
			setClauses += ", description = ?"
			args = append(args, *update.Description)
		}
		if update.SetMitreTechnique {
			setClauses += ", mitre_technique_id = ?"
			args = append(args, emptyToNull(update.MitreTechniqueID))
		}
		if update.SetMitreSubTechnique {
			setClauses += ", mitre_sub_technique_id = ?"
			args = append(args, emptyToNull(update.MitreSubTechniqueID))
		}
		if update.SetStartTime {
			setClauses += ", start_time = ?"
			args = append(args, update.StartTime)
		}
		if update.SetEndTime {
			setClauses += ", end_time = ?"
			args = append(args, update.EndTime)
		}
		if update.SourceIP != nil {
			setClauses += ", source_ip = ?"
			args = append(args, *update.SourceIP)
		}
		if update.TargetSystem != nil {
			setClauses += ", target_system = ?"
			args = append(args, *update.TargetSystem)
		}
		if update.SetExecuted {
			setClauses += ", executed_successfully = ?"
			args = append(args, boolPtrToArg(update.ExecutedSuccessfully))
		}

		args = append(args, id)
		result, err := tx.Exec("UPDATE techniques SET "+setClauses+" WHERE id = ?", args...)
		if err != nil {
			return fmt.Errorf("failed to update technique: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			return ErrTechniqueNotFound
		}

		if update.SetTools {
			if err := replaceTools(tx, id, update.ToolIDs); err != nil {
				return err
			}
		}
		if update.SetEngagements {
			if err := reconcileEngagements(tx, id, update.Engagements); err != nil {
				return err
			}
		}

		return nil
	})
}

// replaceTools swaps the technique's tool set wholesale. An empty list
// clears every association.
func replaceTools(tx *sql.Tx, techniqueID string, toolIDs []string) error {
	if _, err := tx.Exec("DELETE FROM technique_tools WHERE technique_id = ?", techniqueID); err != nil {
		return fmt.Errorf("failed to clear technique tools: %w", err)
	}
	for _, toolID := range toolIDs {
		if _, err := tx.Exec(
			"INSERT INTO technique_tools (technique_id, tool_id) VALUES (?, ?)",
			techniqueID, toolID,
		); err != nil {
			return fmt.Errorf("failed to insert technique tool %s: %w", toolID, err)
		}
	}
	return nil
}

// reconcileEngagements diffs the incoming engagement set against the stored
// one: removed = existing − incoming keys, then every incoming key is
// upserted. An empty list deletes everything.
func reconcileEngagements(tx *sql.Tx, techniqueID string, engagements []core.TargetEngagement) error {
	if len(engagements) == 0 {
		if _, err := tx.Exec("DELETE FROM target_engagements WHERE technique_id = ?", techniqueID); err != nil {
			return fmt.Errorf("failed to clear target engagements: %w", err)
		}
		return nil
	}

	args := []interface{}{techniqueID}
	for _, e := range engagements {
		args = append(args, e.TargetID)
	}
	if _, err := tx.Exec(
		"DELETE FROM target_engagements WHERE technique_id = ? AND target_id NOT IN ("+placeholders(len(engagements))+")",
		args...,
	); err != nil {
		return fmt.Errorf("failed to delete removed engagements: %w", err)
	}

	now := time.Now().UTC()
	for _, e := range engagements {
		if _, err := tx.Exec(`
			INSERT INTO target_engagements (id, technique_id, target_id, was_successful, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (technique_id, target_id) DO UPDATE SET
				was_successful = excluded.was_successful,
				updated_at = excluded.updated_at
		`, uuid.New().String(), techniqueID, e.TargetID, statusToNullBool(e.Status), now, now); err != nil {
			return fmt.Errorf("failed to upsert engagement for target %s: %w", e.TargetID, err)
		}
	}
	return nil
}

// DeleteTechnique deletes a technique; its engagement and tool join rows
// cascade via foreign keys.
func (s *SQLiteTechniqueStorage) DeleteTechnique(id string) error {
	result, err := s.db.WriteDB.Exec("DELETE FROM techniques WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete technique: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTechniqueNotFound
	}

	s.logger.Infow("Technique deleted", "technique_id", id)
	return nil
}

// ReorderTechniques assigns a dense zero-based sort order matching array
// position, atomically. Each id must belong to the operation. Techniques of
// the operation omitted from the list keep their previous order.
func (s *SQLiteTechniqueStorage) ReorderTechniques(operationID string, orderedIDs []string) error {
	return s.db.WithTransaction(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for index, techniqueID := range orderedIDs {
			result, err := tx.Exec(
				"UPDATE techniques SET sort_order = ?, updated_at = ? WHERE id = ? AND operation_id = ?",
				index, now, techniqueID, operationID,
			)
			if err != nil {
				return fmt.Errorf("failed to reorder technique %s: %w", techniqueID, err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read rows affected: %w", err)
			}
			if affected == 0 {
				return fmt.Errorf("technique %s does not belong to operation %s: %w", techniqueID, operationID, ErrTechniqueNotFound)
			}
		}
		return nil
	})
}

// ListTechniques returns up to limit techniques ordered by
// (sort_order, created_at, id) — a total order, so pagination is stable even
// when sort orders collide. The cursor is the id of the last row returned by
// the previous page. When allOps is false the result is restricted to the
// given operation ids.
func (s *SQLiteTechniqueStorage) ListTechniques(filters core.TechniqueFilters, operationIDs []string, allOps bool, limit int) ([]core.Technique, error) {
	query := `
		SELECT
			t.id, t.operation_id, o.name, t.description,
			t.mitre_technique_id, t.mitre_sub_technique_id,
			t.start_time, t.end_time, t.source_ip, t.target_system,
			t.executed_successfully, t.sort_order, t.created_at, t.updated_at
		FROM techniques t
		JOIN operations o ON o.id = t.operation_id
		WHERE 1 = 1
	`
	var args []interface{}

	if filters.OperationID != "" {
		query += " AND t.operation_id = ?"
		args = append(args, filters.OperationID)
	}
	if !allOps {
		if len(operationIDs) == 0 {
			return []core.Technique{}, nil
		}
		query += " AND t.operation_id IN (" + placeholders(len(operationIDs)) + ")"
		for _, id := range operationIDs {
			args = append(args, id)
		}
	}
	if filters.Cursor != "" {
		// Row-value comparison against the cursor row's position in the
		// total order. An unknown cursor id yields an empty page.
		query += ` AND (t.sort_order, t.created_at, t.id) >
			(SELECT sort_order, created_at, id FROM techniques WHERE id = ?)`
		args = append(args, filters.Cursor)
	}

	query += " ORDER BY t.sort_order ASC, t.created_at ASC, t.id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.ReadDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query techniques: %w", err)
	}
	defer rows.Close()

	techniques := []core.Technique{}
	for rows.Next() {
		var t core.Technique
		var opName string
		var mitreID, mitreSubID sql.NullString
		var startTime, endTime sql.NullTime
		var executed sql.NullBool

		if err := rows.Scan(
			&t.ID, &t.OperationID, &opName, &t.Description,
			&mitreID, &mitreSubID,
			&startTime, &endTime, &t.SourceIP, &t.TargetSystem,
			&executed, &t.SortOrder, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan technique row: %w", err)
		}

		t.Operation = &core.OperationRef{ID: t.OperationID, Name: opName}
		if mitreID.Valid {
			t.MitreTechniqueID = mitreID.String
		}
		if mitreSubID.Valid {
			t.MitreSubTechniqueID = mitreSubID.String
		}
		if startTime.Valid {
			t.StartTime = &startTime.Time
		}
		if endTime.Valid {
			t.EndTime = &endTime.Time
		}
		if executed.Valid {
			v := executed.Bool
			t.ExecutedSuccessfully = &v
		}
		techniques = append(techniques, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating technique rows: %w", err)
	}

	for i := range techniques {
		if techniques[i].Tools, err = s.loadTools(techniques[i].ID); err != nil {
			return nil, err
		}
		if techniques[i].TargetEngagements, err = s.loadEngagements(techniques[i].ID); err != nil {
			return nil, err
		}
	}

	return techniques, nil
}
