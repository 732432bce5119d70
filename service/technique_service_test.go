package service

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"redtrace/access"
	"redtrace/audit"
	"redtrace/core"
	"redtrace/mitre"
	"redtrace/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var mitreBundle = mitre.Bundle{
	Tactics: []mitre.Tactic{
		{ID: "TA0002", Name: "Execution", ShortName: "execution"},
		{ID: "TA0008", Name: "Lateral Movement", ShortName: "lateral-movement"},
	},
	Techniques: []mitre.Technique{
		{ID: "T1059", Name: "Command and Scripting Interpreter", TacticID: "TA0002"},
		{ID: "T1021", Name: "Remote Services", TacticID: "TA0008"},
	},
	SubTechniques: []mitre.SubTechnique{
		{ID: "T1021.001", Name: "Remote Desktop Protocol", TechniqueID: "T1021"},
	},
}

type serviceFixture struct {
	db         *storage.SQLite
	users      *storage.SQLiteUserStorage
	operations *storage.SQLiteOperationStorage
	tools      *storage.SQLiteToolStorage
	targets    *storage.SQLiteTargetStorage
	mitre      *storage.SQLiteMitreStorage
	auditLog   *storage.SQLiteAuditStorage

	techniques *TechniqueService
	opService  *OperationService

	admin    core.Caller
	operator core.Caller
	viewer   core.Caller

	op      *core.Operation
	tool    *core.Tool
	targetA *core.Target
	targetB *core.Target
}

func setupServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &serviceFixture{
		db:         db,
		users:      storage.NewSQLiteUserStorage(db, logger),
		operations: storage.NewSQLiteOperationStorage(db, logger),
		tools:      storage.NewSQLiteToolStorage(db, logger),
		targets:    storage.NewSQLiteTargetStorage(db, logger),
		mitre:      storage.NewSQLiteMitreStorage(db, logger),
		auditLog:   storage.NewSQLiteAuditStorage(db, logger),
	}
	techniqueStorage := storage.NewSQLiteTechniqueStorage(db, logger)
	checker := access.NewRoleChecker(f.users, logger)
	recorder := audit.NewRecorder(f.auditLog, logger)

	f.techniques = NewTechniqueService(
		techniqueStorage, f.operations, f.tools, f.targets, f.mitre,
		checker, recorder, logger,
	)
	f.opService = NewOperationService(f.operations, f.users, checker, recorder, logger)

	now := time.Now().UTC()
	for _, u := range []*core.User{
		{Username: "alice", PasswordHash: "x", Role: core.RoleAdmin, Active: true, CreatedAt: now, UpdatedAt: now},
		{Username: "bob", PasswordHash: "x", Role: core.RoleOperator, Active: true, CreatedAt: now, UpdatedAt: now},
		{Username: "carol", PasswordHash: "x", Role: core.RoleViewer, Active: true, CreatedAt: now, UpdatedAt: now},
	} {
		require.NoError(t, f.users.CreateUser(u))
	}
	f.admin = core.Caller{Username: "alice", Role: core.RoleAdmin}
	f.operator = core.Caller{Username: "bob", Role: core.RoleOperator}
	f.viewer = core.Caller{Username: "carol", Role: core.RoleViewer}

	f.op = core.NewOperation("Crimson Dawn", "", "alice")
	require.NoError(t, f.operations.CreateOperation(f.op))

	f.tool = core.NewTool("impacket", "")
	require.NoError(t, f.tools.CreateTool(f.tool))

	f.targetA = core.NewTarget("dc01", "", true)
	f.targetB = core.NewTarget("ws17", "", false)
	require.NoError(t, f.targets.CreateTarget(f.targetA))
	require.NoError(t, f.targets.CreateTarget(f.targetB))

	require.NoError(t, f.mitre.ImportBundle(&mitreBundle))

	return f
}

func strPtr(s string) *string { return &s }

func TestCreate_ValidatesReferences(t *testing.T) {
	f := setupServiceFixture(t)

	// Unknown MITRE technique
	_, err := f.techniques.Create(f.admin, CreateTechniqueInput{
		OperationID:      f.op.ID,
		MitreTechniqueID: "T9999",
	})
	assert.Equal(t, KindBadRequest, KindOf(err))

	// Sub-technique paired with the wrong parent
	_, err = f.techniques.Create(f.admin, CreateTechniqueInput{
		OperationID:         f.op.ID,
		MitreTechniqueID:    "T1059",
		MitreSubTechniqueID: "T1021.001",
	})
	assert.Equal(t, KindBadRequest, KindOf(err))

	// Unknown tool
	_, err = f.techniques.Create(f.admin, CreateTechniqueInput{
		OperationID: f.op.ID,
		ToolIDs:     []string{"11111111-1111-1111-1111-111111111111"},
	})
	assert.Equal(t, KindBadRequest, KindOf(err))

	// Duplicate engagement targets
	_, err = f.techniques.Create(f.admin, CreateTechniqueInput{
		OperationID: f.op.ID,
		Engagements: []EngagementInput{
			{TargetID: f.targetA.ID, Status: core.EngagementStatusUnknown},
			{TargetID: f.targetA.ID, Status: core.EngagementStatusFailed},
		},
	})
	assert.Equal(t, KindBadRequest, KindOf(err))

	// End before start
	start := time.Now().UTC()
	end := start.Add(-time.Hour)
	_, err = f.techniques.Create(f.admin, CreateTechniqueInput{
		OperationID: f.op.ID,
		StartTime:   &start,
		EndTime:     &end,
	})
	assert.Equal(t, KindBadRequest, KindOf(err))

	// Missing operation
	_, err = f.techniques.Create(f.admin, CreateTechniqueInput{
		OperationID: "22222222-2222-2222-2222-222222222222",
	})
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestCreate_ReturnsHydratedRecord(t *testing.T) {
	f := setupServiceFixture(t)

	created, err := f.techniques.Create(f.admin, CreateTechniqueInput{
		OperationID:         f.op.ID,
		Description:         "remote service exec",
		MitreTechniqueID:    "T1021",
		MitreSubTechniqueID: "T1021.001",
		ToolIDs:             []string{f.tool.ID},
		Engagements: []EngagementInput{
			{TargetID: f.targetA.ID, Status: core.EngagementStatusSucceeded},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, created.Operation)
	assert.Equal(t, "Crimson Dawn", created.Operation.Name)
	require.Len(t, created.Tools, 1)
	require.Len(t, created.TargetEngagements, 1)
	assert.Equal(t, core.EngagementStatusSucceeded, created.TargetEngagements[0].Status)

	entries, err := f.auditLog.ListRecent("", 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "technique.created", entries[0].Event)
	assert.Equal(t, "alice", entries[0].Actor)
}

// lastAuditPayload returns the decoded payload of the newest entry for an
// event type
func lastAuditPayload(t *testing.T, f *serviceFixture, event string) map[string]interface{} {
	t.Helper()

	entries, err := f.auditLog.ListRecent("", 20)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Event == event {
			var payload map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(e.Payload), &payload))
			return payload
		}
	}
	t.Fatalf("no %s audit entry", event)
	return nil
}

func TestMutationAuditTrail(t *testing.T) {
	f := setupServiceFixture(t)

	created, err := f.techniques.Create(f.admin, CreateTechniqueInput{
		OperationID: f.op.ID,
		Description: "phishing pretext",
	})
	require.NoError(t, err)

	payload := lastAuditPayload(t, f, "technique.created")
	assert.Equal(t, "phishing pretext", payload["description"])
	assert.Equal(t, f.op.ID, payload["operationId"])
	assert.Equal(t, "Crimson Dawn", payload["operationName"])

	_, err = f.techniques.Update(f.admin, created.ID, UpdateTechniqueInput{
		Description: strPtr("spearphish HR"),
	})
	require.NoError(t, err)
	payload = lastAuditPayload(t, f, "technique.updated")
	assert.Equal(t, "spearphish HR", payload["description"])
	assert.Equal(t, f.op.ID, payload["operationId"])
	assert.Equal(t, "Crimson Dawn", payload["operationName"])

	second, err := f.techniques.Create(f.admin, CreateTechniqueInput{
		OperationID: f.op.ID,
		Description: "lateral move",
	})
	require.NoError(t, err)

	// The reorder event carries the full new order
	require.NoError(t, f.techniques.Reorder(f.admin, f.op.ID, []string{second.ID, created.ID}))
	payload = lastAuditPayload(t, f, "techniques.reordered")
	assert.Equal(t, f.op.ID, payload["operationId"])
	assert.Equal(t, "Crimson Dawn", payload["operationName"])
	assert.Equal(t, []interface{}{second.ID, created.ID}, payload["techniqueIds"])

	require.NoError(t, f.techniques.Delete(f.admin, created.ID))
	payload = lastAuditPayload(t, f, "technique.deleted")
	assert.Equal(t, "spearphish HR", payload["description"])
	assert.Equal(t, f.op.ID, payload["operationId"])
	assert.Equal(t, "Crimson Dawn", payload["operationName"])
}

func TestDescriptionIsTrimmed(t *testing.T) {
	f := setupServiceFixture(t)

	created, err := f.techniques.Create(f.admin, CreateTechniqueInput{
		OperationID: f.op.ID,
		Description: "  ran mimikatz  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "ran mimikatz", created.Description)

	updated, err := f.techniques.Update(f.admin, created.ID, UpdateTechniqueInput{
		Description: strPtr("\tdumped lsass \n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "dumped lsass", updated.Description)
}

func TestAccess_ReadMasksAsNotFound_MutationIsForbidden(t *testing.T) {
	f := setupServiceFixture(t)

	created, err := f.techniques.Create(f.admin, CreateTechniqueInput{OperationID: f.op.ID})
	require.NoError(t, err)

	// carol is not a member: reads mask existence
	_, err = f.techniques.GetByID(f.viewer, created.ID)
	assert.Equal(t, KindNotFound, KindOf(err))

	// viewers can never mutate, members or not
	_, err = f.techniques.Update(f.viewer, created.ID, UpdateTechniqueInput{Description: strPtr("x")})
	assert.Equal(t, KindNotFound, KindOf(err), "non-member viewer cannot even see the record")

	require.NoError(t, f.users.AddOperationMember(f.op.ID, "carol", "alice"))
	got, err := f.techniques.GetByID(f.viewer, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	// Now the record is visible but still read-only for a viewer
	_, err = f.techniques.Update(f.viewer, created.ID, UpdateTechniqueInput{Description: strPtr("x")})
	assert.Equal(t, KindForbidden, KindOf(err))
	err = f.techniques.Delete(f.viewer, created.ID)
	assert.Equal(t, KindForbidden, KindOf(err))

	// Operators view everything but modify only member operations
	_, err = f.techniques.GetByID(f.operator, created.ID)
	require.NoError(t, err)
	_, err = f.techniques.Update(f.operator, created.ID, UpdateTechniqueInput{Description: strPtr("x")})
	assert.Equal(t, KindForbidden, KindOf(err))

	require.NoError(t, f.users.AddOperationMember(f.op.ID, "bob", "alice"))
	_, err = f.techniques.Update(f.operator, created.ID, UpdateTechniqueInput{Description: strPtr("x")})
	require.NoError(t, err)
}

func TestUpdate_PartialSemantics(t *testing.T) {
	f := setupServiceFixture(t)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	created, err := f.techniques.Create(f.admin, CreateTechniqueInput{
		OperationID: f.op.ID,
		StartTime:   &start,
		ToolIDs:     []string{f.tool.ID},
	})
	require.NoError(t, err)

	// An update that omits toolIds keeps the tool set
	updated, err := f.techniques.Update(f.admin, created.ID, UpdateTechniqueInput{
		Description: strPtr("updated"),
	})
	require.NoError(t, err)
	assert.Len(t, updated.Tools, 1)

	// An explicit empty list clears it
	updated, err = f.techniques.Update(f.admin, created.ID, UpdateTechniqueInput{
		ToolIDsSet: true,
		ToolIDs:    []string{},
	})
	require.NoError(t, err)
	assert.Empty(t, updated.Tools)

	// Moving only the end time is checked against the stored start time
	badEnd := start.Add(-time.Hour)
	_, err = f.techniques.Update(f.admin, created.ID, UpdateTechniqueInput{
		EndTimeSet: true,
		EndTime:    &badEnd,
	})
	assert.Equal(t, KindBadRequest, KindOf(err))

	goodEnd := start.Add(time.Hour)
	updated, err = f.techniques.Update(f.admin, created.ID, UpdateTechniqueInput{
		EndTimeSet: true,
		EndTime:    &goodEnd,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.EndTime)
	assert.True(t, updated.EndTime.Equal(goodEnd))
}

func TestUpdate_EngagementDiff(t *testing.T) {
	f := setupServiceFixture(t)

	created, err := f.techniques.Create(f.admin, CreateTechniqueInput{
		OperationID: f.op.ID,
		Engagements: []EngagementInput{
			{TargetID: f.targetA.ID, Status: core.EngagementStatusUnknown},
			{TargetID: f.targetB.ID, Status: core.EngagementStatusFailed},
		},
	})
	require.NoError(t, err)

	updated, err := f.techniques.Update(f.admin, created.ID, UpdateTechniqueInput{
		EngagementsSet: true,
		Engagements: []EngagementInput{
			{TargetID: f.targetB.ID, Status: core.EngagementStatusSucceeded},
		},
	})
	require.NoError(t, err)
	require.Len(t, updated.TargetEngagements, 1)
	assert.Equal(t, f.targetB.ID, updated.TargetEngagements[0].TargetID)
	assert.Equal(t, core.EngagementStatusSucceeded, updated.TargetEngagements[0].Status)
}

func TestDelete_SecondDeleteIsNotFound(t *testing.T) {
	f := setupServiceFixture(t)

	created, err := f.techniques.Create(f.admin, CreateTechniqueInput{OperationID: f.op.ID})
	require.NoError(t, err)

	require.NoError(t, f.techniques.Delete(f.admin, created.ID))
	err = f.techniques.Delete(f.admin, created.ID)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestReorder_RejectsForeignAndDuplicateIDs(t *testing.T) {
	f := setupServiceFixture(t)

	a, err := f.techniques.Create(f.admin, CreateTechniqueInput{OperationID: f.op.ID, Description: "a"})
	require.NoError(t, err)
	b, err := f.techniques.Create(f.admin, CreateTechniqueInput{OperationID: f.op.ID, Description: "b"})
	require.NoError(t, err)

	otherOp := core.NewOperation("Other", "", "alice")
	require.NoError(t, f.operations.CreateOperation(otherOp))
	foreign, err := f.techniques.Create(f.admin, CreateTechniqueInput{OperationID: otherOp.ID})
	require.NoError(t, err)

	err = f.techniques.Reorder(f.admin, f.op.ID, []string{a.ID, foreign.ID})
	assert.Equal(t, KindBadRequest, KindOf(err))

	err = f.techniques.Reorder(f.admin, f.op.ID, []string{a.ID, a.ID})
	assert.Equal(t, KindBadRequest, KindOf(err))

	// Nothing changed
	got, err := f.techniques.GetByID(f.admin, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.SortOrder)

	// A valid reorder applies positions in order
	require.NoError(t, f.techniques.Reorder(f.admin, f.op.ID, []string{b.ID, a.ID}))
	got, err = f.techniques.GetByID(f.admin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.SortOrder)
	got, err = f.techniques.GetByID(f.admin, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SortOrder)
}

func TestList_PaginatesAndScopes(t *testing.T) {
	f := setupServiceFixture(t)

	var ids []string
	for _, name := range []string{"one", "two", "three"} {
		created, err := f.techniques.Create(f.admin, CreateTechniqueInput{
			OperationID: f.op.ID,
			Description: name,
		})
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	page1, err := f.techniques.List(f.admin, core.TechniqueFilters{OperationID: f.op.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1.Items, 2)
	require.NotEmpty(t, page1.NextCursor)
	assert.Equal(t, ids[0], page1.Items[0].ID)
	assert.Equal(t, ids[1], page1.Items[1].ID)

	page2, err := f.techniques.List(f.admin, core.TechniqueFilters{
		OperationID: f.op.ID,
		Limit:       2,
		Cursor:      page1.NextCursor,
	})
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	assert.Empty(t, page2.NextCursor)
	assert.Equal(t, ids[2], page2.Items[0].ID)

	// A non-member viewer sees an empty page, not an error
	viewerPage, err := f.techniques.List(f.viewer, core.TechniqueFilters{OperationID: f.op.ID})
	require.NoError(t, err)
	assert.Empty(t, viewerPage.Items)

	// Membership makes the same query return results
	require.NoError(t, f.users.AddOperationMember(f.op.ID, "carol", "alice"))
	viewerPage, err = f.techniques.List(f.viewer, core.TechniqueFilters{OperationID: f.op.ID})
	require.NoError(t, err)
	assert.Len(t, viewerPage.Items, 3)
}

func TestOperationService_AccessRules(t *testing.T) {
	f := setupServiceFixture(t)

	// Viewers cannot create operations
	_, err := f.opService.Create(f.viewer, "Nope", "")
	assert.Equal(t, KindForbidden, KindOf(err))

	// Operators can; they become members of what they create
	op, err := f.opService.Create(f.operator, "Bob Op", "")
	require.NoError(t, err)
	member, err := f.users.IsOperationMember(op.ID, "bob")
	require.NoError(t, err)
	assert.True(t, member)

	// Only admins delete operations
	err = f.opService.Delete(f.operator, op.ID)
	assert.Equal(t, KindForbidden, KindOf(err))
	require.NoError(t, f.opService.Delete(f.admin, op.ID))

	// Viewer listing is scoped to membership
	ops, err := f.opService.List(f.viewer)
	require.NoError(t, err)
	assert.Empty(t, ops)
	require.NoError(t, f.users.AddOperationMember(f.op.ID, "carol", "alice"))
	ops, err = f.opService.List(f.viewer)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, f.op.ID, ops[0].ID)
}
