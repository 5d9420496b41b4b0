package sync

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/models"
	"github.com/TheMichaelB/graphsync/internal/replica"
)

func testLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
}

func newTestDetector(store replica.Store, autoPush bool) (*detector, *atomic.Bool) {
	flag := &atomic.Bool{}
	flag.Store(autoPush)
	return &detector{
		interval: 10 * time.Millisecond,
		store:    store,
		repoID:   "repo-1",
		autoPush: flag,
		logger:   testLogger(),
	}, flag
}

func TestDetectorSilentWhenClean(t *testing.T) {
	store := replica.NewMemStore()
	det, _ := newTestDetector(store, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pulses := det.run(ctx)

	select {
	case <-pulses:
		t.Fatal("pulse emitted with no unpushed operations")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDetectorPulsesWhenDirty(t *testing.T) {
	store := replica.NewMemStore()
	require.NoError(t, store.EnqueueOps("repo-1", []models.Operation{{Type: "save-block"}}))
	det, _ := newTestDetector(store, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pulses := det.run(ctx)

	select {
	case _, ok := <-pulses:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no pulse for dirty replica")
	}
}

func TestDetectorAutoPushGate(t *testing.T) {
	store := replica.NewMemStore()
	require.NoError(t, store.EnqueueOps("repo-1", []models.Operation{{Type: "save-block"}}))
	det, flag := newTestDetector(store, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pulses := det.run(ctx)

	select {
	case <-pulses:
		t.Fatal("pulse emitted with auto-push disabled")
	case <-time.After(50 * time.Millisecond):
	}

	// Re-enabling resumes pulses on the next interval.
	flag.Store(true)
	select {
	case <-pulses:
	case <-time.After(time.Second):
		t.Fatal("no pulse after re-enabling auto-push")
	}
}

func TestDetectorClosesOnCancel(t *testing.T) {
	store := replica.NewMemStore()
	det, _ := newTestDetector(store, true)

	ctx, cancel := context.WithCancel(context.Background())
	pulses := det.run(ctx)
	cancel()

	select {
	case _, ok := <-pulses:
		assert.False(t, ok, "channel should close without a pulse")
	case <-time.After(time.Second):
		t.Fatal("pulse channel not closed after cancel")
	}
}
