package storage

import (
	"path/filepath"
	"testing"
	"time"

	"redtrace/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestSQLite creates a test SQLite database
func setupTestSQLite(t *testing.T) *SQLite {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := zap.NewNop().Sugar()

	sqlite, err := NewSQLite(dbPath, logger)
	require.NoError(t, err, "Failed to create SQLite database")
	t.Cleanup(func() { _ = sqlite.Close() })
	return sqlite
}

type techniqueFixture struct {
	db         *SQLite
	techniques *SQLiteTechniqueStorage
	operations *SQLiteOperationStorage
	tools      *SQLiteToolStorage
	targets    *SQLiteTargetStorage

	op      *core.Operation
	toolA   *core.Tool
	toolB   *core.Tool
	targetA *core.Target
	targetB *core.Target
}

func setupTechniqueFixture(t *testing.T) *techniqueFixture {
	t.Helper()

	db := setupTestSQLite(t)
	logger := zap.NewNop().Sugar()

	f := &techniqueFixture{
		db:         db,
		techniques: NewSQLiteTechniqueStorage(db, logger),
		operations: NewSQLiteOperationStorage(db, logger),
		tools:      NewSQLiteToolStorage(db, logger),
		targets:    NewSQLiteTargetStorage(db, logger),
	}

	f.op = core.NewOperation("Crimson Dawn", "quarterly purple team", "")
	require.NoError(t, f.operations.CreateOperation(f.op))

	f.toolA = core.NewTool("impacket", "")
	f.toolB = core.NewTool("mimikatz", "")
	require.NoError(t, f.tools.CreateTool(f.toolA))
	require.NoError(t, f.tools.CreateTool(f.toolB))

	f.targetA = core.NewTarget("dc01", "domain controller", true)
	f.targetB = core.NewTarget("ws17", "workstation", false)
	require.NoError(t, f.targets.CreateTarget(f.targetA))
	require.NoError(t, f.targets.CreateTarget(f.targetB))

	return f
}

func TestCreateTechnique_AppendsSortOrder(t *testing.T) {
	f := setupTechniqueFixture(t)

	first := core.NewTechnique(f.op.ID, "initial access")
	require.NoError(t, f.techniques.CreateTechnique(first, nil, nil))
	assert.Equal(t, 0, first.SortOrder)

	second := core.NewTechnique(f.op.ID, "lateral movement")
	require.NoError(t, f.techniques.CreateTechnique(second, nil, nil))
	assert.Equal(t, 1, second.SortOrder)
}

func TestGetTechnique_Hydrated(t *testing.T) {
	f := setupTechniqueFixture(t)

	tech := core.NewTechnique(f.op.ID, "credential dumping")
	engagements := []core.TargetEngagement{
		{TargetID: f.targetA.ID, Status: core.EngagementStatusSucceeded},
		{TargetID: f.targetB.ID, Status: core.EngagementStatusUnknown},
	}
	require.NoError(t, f.techniques.CreateTechnique(tech, []string{f.toolA.ID, f.toolB.ID}, engagements))

	got, err := f.techniques.GetTechnique(tech.ID)
	require.NoError(t, err)

	require.NotNil(t, got.Operation)
	assert.Equal(t, f.op.ID, got.Operation.ID)
	assert.Equal(t, "Crimson Dawn", got.Operation.Name)

	require.Len(t, got.Tools, 2)
	require.Len(t, got.TargetEngagements, 2)

	byTarget := map[string]core.TargetEngagement{}
	for _, e := range got.TargetEngagements {
		require.NotNil(t, e.Target, "engagement should carry its target")
		byTarget[e.TargetID] = e
	}
	assert.Equal(t, core.EngagementStatusSucceeded, byTarget[f.targetA.ID].Status)
	assert.True(t, byTarget[f.targetA.ID].Target.IsCrownJewel)
	assert.Equal(t, core.EngagementStatusUnknown, byTarget[f.targetB.ID].Status)
}

func TestGetTechnique_NotFound(t *testing.T) {
	f := setupTechniqueFixture(t)

	_, err := f.techniques.GetTechnique("00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrTechniqueNotFound)
}

func TestUpdateTechnique_ToolReplacement(t *testing.T) {
	f := setupTechniqueFixture(t)

	tech := core.NewTechnique(f.op.ID, "execution")
	require.NoError(t, f.techniques.CreateTechnique(tech, []string{f.toolA.ID}, nil))

	// Absent tool list leaves associations untouched
	desc := "execution via scheduled task"
	require.NoError(t, f.techniques.UpdateTechnique(tech.ID, &TechniqueUpdate{Description: &desc}))
	got, err := f.techniques.GetTechnique(tech.ID)
	require.NoError(t, err)
	assert.Equal(t, desc, got.Description)
	require.Len(t, got.Tools, 1)

	// Present list replaces the whole set
	require.NoError(t, f.techniques.UpdateTechnique(tech.ID, &TechniqueUpdate{
		SetTools: true,
		ToolIDs:  []string{f.toolB.ID},
	}))
	got, err = f.techniques.GetTechnique(tech.ID)
	require.NoError(t, err)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, f.toolB.ID, got.Tools[0].ID)

	// Present-but-empty list clears every association
	require.NoError(t, f.techniques.UpdateTechnique(tech.ID, &TechniqueUpdate{
		SetTools: true,
		ToolIDs:  []string{},
	}))
	got, err = f.techniques.GetTechnique(tech.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Tools)
}

func TestUpdateTechnique_EngagementReconciliation(t *testing.T) {
	f := setupTechniqueFixture(t)

	tech := core.NewTechnique(f.op.ID, "exfiltration")
	require.NoError(t, f.techniques.CreateTechnique(tech, nil, []core.TargetEngagement{
		{TargetID: f.targetA.ID, Status: core.EngagementStatusUnknown},
		{TargetID: f.targetB.ID, Status: core.EngagementStatusFailed},
	}))

	got, err := f.techniques.GetTechnique(tech.ID)
	require.NoError(t, err)
	keptID := ""
	for _, e := range got.TargetEngagements {
		if e.TargetID == f.targetA.ID {
			keptID = e.ID
		}
	}
	require.NotEmpty(t, keptID)

	// Keep target A with a new status, drop target B
	require.NoError(t, f.techniques.UpdateTechnique(tech.ID, &TechniqueUpdate{
		SetEngagements: true,
		Engagements: []core.TargetEngagement{
			{TargetID: f.targetA.ID, Status: core.EngagementStatusSucceeded},
		},
	}))

	got, err = f.techniques.GetTechnique(tech.ID)
	require.NoError(t, err)
	require.Len(t, got.TargetEngagements, 1)
	assert.Equal(t, f.targetA.ID, got.TargetEngagements[0].TargetID)
	assert.Equal(t, core.EngagementStatusSucceeded, got.TargetEngagements[0].Status)
	assert.Equal(t, keptID, got.TargetEngagements[0].ID, "upsert should keep the existing row")

	// Empty set clears everything
	require.NoError(t, f.techniques.UpdateTechnique(tech.ID, &TechniqueUpdate{
		SetEngagements: true,
		Engagements:    []core.TargetEngagement{},
	}))
	got, err = f.techniques.GetTechnique(tech.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TargetEngagements)
}

func TestUpdateTechnique_TriStateExecution(t *testing.T) {
	f := setupTechniqueFixture(t)

	tech := core.NewTechnique(f.op.ID, "persistence")
	require.NoError(t, f.techniques.CreateTechnique(tech, nil, nil))

	yes := true
	require.NoError(t, f.techniques.UpdateTechnique(tech.ID, &TechniqueUpdate{
		SetExecuted:          true,
		ExecutedSuccessfully: &yes,
	}))
	got, err := f.techniques.GetTechnique(tech.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExecutedSuccessfully)
	assert.True(t, *got.ExecutedSuccessfully)

	// Explicit null clears the assessment
	require.NoError(t, f.techniques.UpdateTechnique(tech.ID, &TechniqueUpdate{
		SetExecuted:          true,
		ExecutedSuccessfully: nil,
	}))
	got, err = f.techniques.GetTechnique(tech.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExecutedSuccessfully)
}

func TestUpdateTechnique_NotFound(t *testing.T) {
	f := setupTechniqueFixture(t)

	desc := "nope"
	err := f.techniques.UpdateTechnique("00000000-0000-0000-0000-000000000000", &TechniqueUpdate{Description: &desc})
	assert.ErrorIs(t, err, ErrTechniqueNotFound)
}

func TestDeleteTechnique_CascadesAndReportsMissing(t *testing.T) {
	f := setupTechniqueFixture(t)

	tech := core.NewTechnique(f.op.ID, "cleanup")
	require.NoError(t, f.techniques.CreateTechnique(tech, []string{f.toolA.ID}, []core.TargetEngagement{
		{TargetID: f.targetA.ID, Status: core.EngagementStatusSucceeded},
	}))

	require.NoError(t, f.techniques.DeleteTechnique(tech.ID))
	assert.ErrorIs(t, f.techniques.DeleteTechnique(tech.ID), ErrTechniqueNotFound)

	var engagements int
	require.NoError(t, f.db.ReadDB.QueryRow(
		"SELECT COUNT(*) FROM target_engagements WHERE technique_id = ?", tech.ID,
	).Scan(&engagements))
	assert.Zero(t, engagements, "engagements should cascade on delete")
}

func TestReorderTechniques_DenseZeroBased(t *testing.T) {
	f := setupTechniqueFixture(t)

	a := core.NewTechnique(f.op.ID, "a")
	b := core.NewTechnique(f.op.ID, "b")
	c := core.NewTechnique(f.op.ID, "c")
	for _, tech := range []*core.Technique{a, b, c} {
		require.NoError(t, f.techniques.CreateTechnique(tech, nil, nil))
	}

	require.NoError(t, f.techniques.ReorderTechniques(f.op.ID, []string{c.ID, a.ID, b.ID}))

	wantOrder := map[string]int{c.ID: 0, a.ID: 1, b.ID: 2}
	for id, want := range wantOrder {
		got, err := f.techniques.GetTechnique(id)
		require.NoError(t, err)
		assert.Equal(t, want, got.SortOrder)
	}
}

func TestReorderTechniques_ForeignIDRollsBack(t *testing.T) {
	f := setupTechniqueFixture(t)

	a := core.NewTechnique(f.op.ID, "a")
	require.NoError(t, f.techniques.CreateTechnique(a, nil, nil))

	otherOp := core.NewOperation("Other", "", "")
	require.NoError(t, f.operations.CreateOperation(otherOp))
	foreign := core.NewTechnique(otherOp.ID, "foreign")
	require.NoError(t, f.techniques.CreateTechnique(foreign, nil, nil))

	err := f.techniques.ReorderTechniques(f.op.ID, []string{foreign.ID, a.ID})
	require.Error(t, err)

	// The transaction must roll back: a keeps its original order and the
	// foreign technique is untouched.
	got, err := f.techniques.GetTechnique(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.SortOrder)
	gotForeign, err := f.techniques.GetTechnique(foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotForeign.SortOrder)
}

func TestListTechniques_CursorPagination(t *testing.T) {
	f := setupTechniqueFixture(t)

	var created []*core.Technique
	for _, name := range []string{"one", "two", "three"} {
		tech := core.NewTechnique(f.op.ID, name)
		require.NoError(t, f.techniques.CreateTechnique(tech, nil, nil))
		created = append(created, tech)
		time.Sleep(2 * time.Millisecond)
	}

	filters := core.TechniqueFilters{OperationID: f.op.ID}
	page1, err := f.techniques.ListTechniques(filters, nil, true, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, created[0].ID, page1[0].ID)
	assert.Equal(t, created[1].ID, page1[1].ID)

	filters.Cursor = page1[1].ID
	page2, err := f.techniques.ListTechniques(filters, nil, true, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, created[2].ID, page2[0].ID)
}

func TestListTechniques_OperationScoping(t *testing.T) {
	f := setupTechniqueFixture(t)

	visible := core.NewTechnique(f.op.ID, "visible")
	require.NoError(t, f.techniques.CreateTechnique(visible, nil, nil))

	hiddenOp := core.NewOperation("Hidden", "", "")
	require.NoError(t, f.operations.CreateOperation(hiddenOp))
	hidden := core.NewTechnique(hiddenOp.ID, "hidden")
	require.NoError(t, f.techniques.CreateTechnique(hidden, nil, nil))

	// Restricted to one operation id
	got, err := f.techniques.ListTechniques(core.TechniqueFilters{}, []string{f.op.ID}, false, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, visible.ID, got[0].ID)

	// Empty accessible set yields nothing
	got, err = f.techniques.ListTechniques(core.TechniqueFilters{}, nil, false, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
