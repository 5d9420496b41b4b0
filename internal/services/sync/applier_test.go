package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/graphsync/internal/models"
	"github.com/TheMichaelB/graphsync/internal/replica"
)

func testSession() *models.Session {
	return &models.Session{
		RepoID:    "repo-1",
		GraphUUID: "graph-1",
		UserUUID:  "user-1",
	}
}

func TestApplierCommitsBatches(t *testing.T) {
	store := replica.NewMemStore()
	applier := NewApplier(store, testLogger())
	sess := testSession()

	batches := []*models.UpdateBatch{
		{GraphUUID: "graph-1", TX: 1, Ops: []models.Operation{{Type: "save-block", BlockUUID: "b1"}}},
		{GraphUUID: "graph-1", TX: 2, Ops: []models.Operation{{Type: "delete-block", BlockUUID: "b1"}}},
	}
	for _, batch := range batches {
		require.NoError(t, applier.Apply(context.Background(), sess, batch))
	}

	applied := store.Applied("repo-1")
	require.Len(t, applied, 2)
	assert.Equal(t, int64(1), applied[0].TX)
	assert.Equal(t, int64(2), applied[1].TX)

	tx, err := store.RemoteTX("repo-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tx)

	entries, err := store.RecentLog("repo-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Message, "applied remote tx 1")
}

func TestApplierWrapsStoreFailure(t *testing.T) {
	store := replica.NewMemStore()
	store.ApplyErr = errors.New("constraint violated")
	applier := NewApplier(store, testLogger())

	err := applier.Apply(context.Background(), testSession(), &models.UpdateBatch{
		GraphUUID: "graph-1",
		TX:        3,
		Ops:       []models.Operation{{Type: "save-block"}},
	})

	var applyErr *models.ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, "graph-1", applyErr.GraphUUID)
	assert.Equal(t, int64(3), applyErr.TX)
	assert.ErrorIs(t, err, store.ApplyErr)
}

func TestApplierHonorsCancelledContext(t *testing.T) {
	store := replica.NewMemStore()
	applier := NewApplier(store, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := applier.Apply(ctx, testSession(), &models.UpdateBatch{TX: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.Applied("repo-1"))
}
