package graphs

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/models"
	"github.com/TheMichaelB/graphsync/internal/transport"
)

func newTestService(conn *transport.MockConn) *Service {
	return NewService(transport.NewMockProvider(conn),
		events.NewTestLogger(events.ErrorLevel, "text", io.Discard))
}

func TestListGraphs(t *testing.T) {
	conn := transport.NewMockConn()
	conn.Responses[models.ActionListGraphs] = &models.Frame{
		ReqID: "r",
		Raw: []byte(`{"req-id":"r","graphs":[
		    {"graph-uuid":"g1","graph-name":"notes","t":12},
		    {"graph-uuid":"g2","graph-name":"work","t":3}]}`),
	}

	svc := newTestService(conn)
	graphs, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, graphs, 2)
	assert.Equal(t, "notes", graphs[0].GraphName)
	assert.Equal(t, int64(12), graphs[0].TX)

	calls := conn.CallsFor(models.ActionListGraphs)
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].ReqID)
}

func TestDeleteGraph(t *testing.T) {
	conn := transport.NewMockConn()
	svc := newTestService(conn)

	require.NoError(t, svc.Delete(context.Background(), "g1"))

	calls := conn.CallsFor(models.ActionDeleteGraph)
	require.Len(t, calls, 1)
	assert.Equal(t, "g1", calls[0].GraphUUID)
}

func TestDeleteGraphServerRejection(t *testing.T) {
	conn := transport.NewMockConn()
	conn.Responses[models.ActionDeleteGraph] = &models.Frame{
		ReqID:     "r",
		ExData:    []byte(`{"type":"graph-not-exist"}`),
		ExMessage: "graph not found",
	}

	svc := newTestService(conn)
	err := svc.Delete(context.Background(), "g1")

	var srvErr *models.ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, "graph not found", srvErr.Message)
}

func TestUsersInfo(t *testing.T) {
	conn := transport.NewMockConn()
	conn.Responses[models.ActionGetUsersInfo] = &models.Frame{
		ReqID: "r",
		Raw:   []byte(`{"req-id":"r","users":[{"user-uuid":"u1","user-name":"ada"}]}`),
	}

	svc := newTestService(conn)
	users, err := svc.UsersInfo(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "ada", users[0].UserName)
}

func TestGrantAccess(t *testing.T) {
	conn := transport.NewMockConn()
	svc := newTestService(conn)

	require.NoError(t, svc.GrantAccess(context.Background(), "g1", []string{"u1", "u2"}))

	calls := conn.CallsFor(models.ActionGrantAccess)
	require.Len(t, calls, 1)
	assert.Equal(t, "g1", calls[0].GraphUUID)
	assert.Equal(t, []string{"u1", "u2"}, calls[0].TargetUserUUIDs)
}

func TestBlockContentVersions(t *testing.T) {
	conn := transport.NewMockConn()
	conn.Responses[models.ActionQueryBlockContentVersions] = &models.Frame{
		ReqID: "r",
		Raw: []byte(`{"req-id":"r","versions":[
		    {"block-uuid":"b1","version":2,"created-at":"2026-08-01T10:00:00Z"}]}`),
	}

	svc := newTestService(conn)
	versions, err := svc.BlockContentVersions(context.Background(), "g1", []string{"b1"})
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "b1", versions[0].BlockUUID)
	assert.Equal(t, int64(2), versions[0].Version)

	calls := conn.CallsFor(models.ActionQueryBlockContentVersions)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"b1"}, calls[0].BlockUUIDs)
}

func TestSnapshotGraph(t *testing.T) {
	conn := transport.NewMockConn()
	conn.Responses[models.ActionSnapshotGraph] = &models.Frame{
		ReqID: "r",
		Raw:   []byte(`{"req-id":"r","snapshot":{"snapshot-uuid":"s1","created-at":"2026-08-01T10:00:00Z"}}`),
	}

	svc := newTestService(conn)
	snap, err := svc.Snapshot(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.SnapshotUUID)
}

func TestSnapshotList(t *testing.T) {
	conn := transport.NewMockConn()
	conn.Responses[models.ActionSnapshotList] = &models.Frame{
		ReqID: "r",
		Raw: []byte(`{"req-id":"r","snapshot-list":[
		    {"snapshot-uuid":"s1","created-at":"2026-08-01T10:00:00Z"},
		    {"snapshot-uuid":"s2","created-at":"2026-08-02T10:00:00Z"}]}`),
	}

	svc := newTestService(conn)
	snaps, err := svc.SnapshotList(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "s2", snaps[1].SnapshotUUID)
}

func TestCallFailsWhenAcquireFails(t *testing.T) {
	provider := transport.NewMockProvider(transport.NewMockConn())
	provider.AcquireErr = &models.ConnectionTimeoutError{URL: "wss://sync.test/rtc", Attempts: 10}
	svc := NewService(provider, events.NewTestLogger(events.ErrorLevel, "text", io.Discard))

	_, err := svc.List(context.Background())
	var timeoutErr *models.ConnectionTimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}
