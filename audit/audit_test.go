package audit

import (
	"path/filepath"
	"testing"

	"redtrace/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecorderEvent(t *testing.T) {
	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.NewSQLiteAuditStorage(db, logger)
	recorder := NewRecorder(store, logger)

	recorder.Event("alice", "technique.created", "tech-1", "op-1", map[string]interface{}{
		"toolCount": 2,
	})
	recorder.Event("bob", "technique.deleted", "tech-2", "op-1", nil)

	entries, err := store.ListRecent("", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first
	assert.Equal(t, "technique.deleted", entries[0].Event)
	assert.Equal(t, "bob", entries[0].Actor)
	assert.Empty(t, entries[0].Payload)

	assert.Equal(t, "technique.created", entries[1].Event)
	assert.JSONEq(t, `{"toolCount": 2}`, entries[1].Payload)
}

func TestRecorderEvent_StoreFailureDoesNotPanic(t *testing.T) {
	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)

	store := storage.NewSQLiteAuditStorage(db, logger)
	recorder := NewRecorder(store, logger)

	// A closed database makes the append fail; recording must swallow it.
	require.NoError(t, db.Close())
	recorder.Event("alice", "technique.created", "tech-1", "op-1", nil)
}
