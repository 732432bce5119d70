package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"redtrace/access"
	"redtrace/audit"
	"redtrace/config"
	"redtrace/core"
	"redtrace/mitre"
	"redtrace/service"
	"redtrace/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type apiFixture struct {
	api    *API
	users  *storage.SQLiteUserStorage
	op     *core.Operation
	tool   *core.Tool
	target *core.Target
}

func testConfig(authEnabled bool) *config.Config {
	cfg := &config.Config{}
	cfg.API.Port = 8081
	cfg.API.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.API.RateLimit.RequestsPerSecond = 1000
	cfg.API.RateLimit.Burst = 1000
	cfg.Auth.Enabled = authEnabled
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Auth.JWTExpiry = time.Hour
	cfg.Auth.BcryptCost = bcrypt.MinCost
	return cfg
}

func setupAPIFixture(t *testing.T, authEnabled bool) *apiFixture {
	t.Helper()

	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users := storage.NewSQLiteUserStorage(db, logger)
	operations := storage.NewSQLiteOperationStorage(db, logger)
	techniques := storage.NewSQLiteTechniqueStorage(db, logger)
	tools := storage.NewSQLiteToolStorage(db, logger)
	targets := storage.NewSQLiteTargetStorage(db, logger)
	mitreStore := storage.NewSQLiteMitreStorage(db, logger)
	auditLog := storage.NewSQLiteAuditStorage(db, logger)

	checker := access.NewRoleChecker(users, logger)
	recorder := audit.NewRecorder(auditLog, logger)
	techniqueService := service.NewTechniqueService(
		techniques, operations, tools, targets, mitreStore, checker, recorder, logger,
	)
	operationService := service.NewOperationService(operations, users, checker, recorder, logger)

	f := &apiFixture{
		users: users,
	}
	f.api = NewAPI(
		techniqueService, operationService, tools, targets, mitreStore, users, auditLog,
		testConfig(authEnabled), logger,
	)
	t.Cleanup(func() { close(f.api.stopCh) })

	f.op = core.NewOperation("Test Op", "", "")
	require.NoError(t, operations.CreateOperation(f.op))
	f.tool = core.NewTool("impacket", "")
	require.NoError(t, tools.CreateTool(f.tool))
	f.target = core.NewTarget("dc01", "", true)
	require.NoError(t, targets.CreateTarget(f.target))
	require.NoError(t, mitreStore.ImportBundle(&mitre.Bundle{
		Tactics:    []mitre.Tactic{{ID: "TA0008", Name: "Lateral Movement"}},
		Techniques: []mitre.Technique{{ID: "T1021", Name: "Remote Services", TacticID: "TA0008"}},
	}))

	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.api.Router().ServeHTTP(w, req)
	return w
}

func TestTechniqueLifecycleOverHTTP(t *testing.T) {
	f := setupAPIFixture(t, false)

	// Create
	w := f.do(t, http.MethodPost, "/api/techniques", map[string]interface{}{
		"operationId":      f.op.ID,
		"description":      "remote service exec",
		"mitreTechniqueId": "T1021",
		"toolIds":          []string{f.tool.ID},
		"targetEngagements": []map[string]interface{}{
			{"targetId": f.target.ID, "status": "succeeded"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created core.Technique
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Len(t, created.Tools, 1)
	require.Len(t, created.TargetEngagements, 1)
	assert.Equal(t, core.EngagementStatusSucceeded, created.TargetEngagements[0].Status)

	// Update omitting toolIds keeps them; sending [] clears them
	w = f.do(t, http.MethodPut, "/api/techniques/"+created.ID, map[string]interface{}{
		"description": "updated",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated core.Technique
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "updated", updated.Description)
	assert.Len(t, updated.Tools, 1)

	w = f.do(t, http.MethodPut, "/api/techniques/"+created.ID, map[string]interface{}{
		"toolIds": []string{},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Empty(t, updated.Tools)

	// Explicit null clears the tri-state outcome
	w = f.do(t, http.MethodPut, "/api/techniques/"+created.ID,
		json.RawMessage(`{"executedSuccessfully": true}`))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.NotNil(t, updated.ExecutedSuccessfully)

	w = f.do(t, http.MethodPut, "/api/techniques/"+created.ID,
		json.RawMessage(`{"executedSuccessfully": null}`))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Nil(t, updated.ExecutedSuccessfully)

	// List with pagination params
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/techniques?operationId=%s&limit=10", f.op.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page techniquePageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Items, 1)
	assert.Empty(t, page.NextCursor)

	// Delete, then 404 on the second attempt
	w = f.do(t, http.MethodDelete, "/api/techniques/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodDelete, "/api/techniques/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	f := setupAPIFixture(t, false)

	// Bad UUID
	w := f.do(t, http.MethodGet, "/api/techniques/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown technique
	w = f.do(t, http.MethodGet, "/api/techniques/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Unknown MITRE reference
	w = f.do(t, http.MethodPost, "/api/techniques", map[string]interface{}{
		"operationId":      f.op.ID,
		"mitreTechniqueId": "T9999",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Reorder with a foreign technique id
	w = f.do(t, http.MethodPost, "/api/operations/"+f.op.ID+"/techniques/reorder", map[string]interface{}{
		"techniqueIds": []string{"33333333-3333-3333-3333-333333333333"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	f := setupAPIFixture(t, true)

	w := f.do(t, http.MethodGet, "/api/techniques", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Health stays open
	w = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoginAndAuthenticatedRequest(t *testing.T) {
	f := setupAPIFixture(t, true)

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, f.users.CreateUser(&core.User{
		Username:     "alice",
		PasswordHash: string(hash),
		Role:         core.RoleAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	// Wrong password is rejected
	w := f.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Correct credentials issue a token that authenticates requests
	w = f.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)
	assert.Equal(t, "admin", login.Role)

	req := httptest.NewRequest(http.MethodGet, "/api/techniques", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec := httptest.NewRecorder()
	f.api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
