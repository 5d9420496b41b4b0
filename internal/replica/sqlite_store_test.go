package replica

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/models"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "replica.db"),
		events.NewTestLogger(events.ErrorLevel, "text", io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func registerTestGraph(t *testing.T, store *SQLiteStore, repoID string) {
	t.Helper()
	require.NoError(t, store.RegisterGraph(&models.GraphMeta{
		RepoID:        repoID,
		GraphUUID:     "graph-" + repoID,
		UserUUID:      "user-1",
		RemoteEnabled: true,
	}))
}

func TestRegisterAndQueryGraph(t *testing.T) {
	store := testStore(t)
	registerTestGraph(t, store, "repo-1")

	meta, err := store.GraphInfo("repo-1")
	require.NoError(t, err)
	assert.Equal(t, "graph-repo-1", meta.GraphUUID)
	assert.Equal(t, "user-1", meta.UserUUID)
	assert.True(t, meta.RemoteEnabled)

	// Re-registration updates in place.
	require.NoError(t, store.RegisterGraph(&models.GraphMeta{
		RepoID:    "repo-1",
		GraphUUID: "graph-new",
	}))
	meta, err = store.GraphInfo("repo-1")
	require.NoError(t, err)
	assert.Equal(t, "graph-new", meta.GraphUUID)
	assert.False(t, meta.RemoteEnabled)
}

func TestGraphInfoNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GraphInfo("nope")
	assert.ErrorIs(t, err, ErrGraphNotFound)
}

func TestEnqueueAndPending(t *testing.T) {
	store := testStore(t)
	registerTestGraph(t, store, "repo-1")

	n, err := store.UnpushedCount("repo-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	ops := []models.Operation{
		{Type: "save-block", BlockUUID: "b1", Data: json.RawMessage(`{"content":"one"}`)},
		{Type: "delete-block", BlockUUID: "b2"},
	}
	require.NoError(t, store.EnqueueOps("repo-1", ops))

	n, err = store.UnpushedCount("repo-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	batch, err := store.PendingOps("repo-1")
	require.NoError(t, err)
	require.Len(t, batch.Ops, 2)
	require.Len(t, batch.IDs, 2)
	assert.Equal(t, "save-block", batch.Ops[0].Type)
	assert.Equal(t, "delete-block", batch.Ops[1].Type)
	assert.Equal(t, int64(0), batch.TXBefore)
}

func TestEnqueueRejectsEmptyOpType(t *testing.T) {
	store := testStore(t)

	err := store.EnqueueOps("repo-1", []models.Operation{{Type: ""}})
	assert.ErrorIs(t, err, ErrBadOperation)

	n, err := store.UnpushedCount("repo-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClearPushedRemovesExactBatch(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.EnqueueOps("repo-1", []models.Operation{{Type: "save-block", BlockUUID: "b1"}}))

	batch, err := store.PendingOps("repo-1")
	require.NoError(t, err)

	// New work arriving between read and clear must survive the clear.
	require.NoError(t, store.EnqueueOps("repo-1", []models.Operation{{Type: "save-block", BlockUUID: "b2"}}))

	require.NoError(t, store.ClearPushed("repo-1", batch))

	remaining, err := store.PendingOps("repo-1")
	require.NoError(t, err)
	require.Len(t, remaining.Ops, 1)
	assert.Equal(t, "b2", remaining.Ops[0].BlockUUID)
}

func TestApplyTransactionAdvancesWatermark(t *testing.T) {
	store := testStore(t)

	ops := []models.Operation{
		{Type: "save-block", BlockUUID: "b1", Data: json.RawMessage(`{"content":"x"}`)},
	}
	require.NoError(t, store.ApplyTransaction("repo-1", ops, 5))

	tx, err := store.RemoteTX("repo-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), tx)

	require.NoError(t, store.ApplyTransaction("repo-1", ops, 6))
	tx, err = store.RemoteTX("repo-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), tx)
}

func TestApplyTransactionSkipsReplay(t *testing.T) {
	store := testStore(t)

	ops := []models.Operation{{Type: "save-block", BlockUUID: "b1"}}
	require.NoError(t, store.ApplyTransaction("repo-1", ops, 5))

	// Replays at or below the watermark are absorbed silently.
	require.NoError(t, store.ApplyTransaction("repo-1", ops, 5))
	require.NoError(t, store.ApplyTransaction("repo-1", ops, 3))

	tx, err := store.RemoteTX("repo-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), tx)
}

func TestApplyTransactionRejectsMalformedOps(t *testing.T) {
	store := testStore(t)

	err := store.ApplyTransaction("repo-1", []models.Operation{{Type: ""}}, 5)
	assert.ErrorIs(t, err, ErrBadOperation)

	err = store.ApplyTransaction("repo-1", []models.Operation{
		{Type: "save-block", Data: json.RawMessage(`{broken`)},
	}, 5)
	assert.ErrorIs(t, err, ErrBadOperation)

	// A rejected transaction leaves the watermark untouched.
	tx, err := store.RemoteTX("repo-1")
	require.NoError(t, err)
	assert.Zero(t, tx)
}

func TestSetRemoteTX(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.SetRemoteTX("repo-1", 9))
	tx, err := store.RemoteTX("repo-1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), tx)
}

func TestSessionLog(t *testing.T) {
	store := testStore(t)

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.AppendLog("repo-1", models.LogEntry{
			Level:   "info",
			Message: fmt.Sprintf("entry %d", i),
		}))
	}

	entries, err := store.RecentLog("repo-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 3", entries[0].Message)
	assert.Equal(t, "entry 5", entries[2].Message)

	other, err := store.RecentLog("repo-2", 3)
	require.NoError(t, err)
	assert.Empty(t, other)
}
