package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/graphsync/internal/models"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// echoServer runs handler for each websocket connection.
func echoServer(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTest(t *testing.T, wsURL string) Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL, ConnOptions{PingInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCallCorrelation(t *testing.T) {
	url := echoServer(t, func(ws *websocket.Conn) {
		for {
			var req map[string]interface{}
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			resp := map[string]interface{}{
				"req-id": req["req-id"],
				"graphs": []map[string]string{{"graph-uuid": "g1", "graph-name": "notes"}},
			}
			if err := ws.WriteJSON(resp); err != nil {
				return
			}
		}
	})

	c := dialTest(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frame, err := c.Call(ctx, &models.Request{
		Action: models.ActionListGraphs,
		ReqID:  "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", frame.ReqID)
	assert.False(t, frame.Failed())

	var payload struct {
		Graphs []models.GraphInfo `json:"graphs"`
	}
	require.NoError(t, frame.Decode(&payload))
	require.Len(t, payload.Graphs, 1)
	assert.Equal(t, "g1", payload.Graphs[0].GraphUUID)
}

func TestCallOutOfOrderResponses(t *testing.T) {
	url := echoServer(t, func(ws *websocket.Conn) {
		var reqs []map[string]interface{}
		for len(reqs) < 2 {
			var req map[string]interface{}
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			reqs = append(reqs, req)
		}
		// Answer in reverse arrival order.
		for i := len(reqs) - 1; i >= 0; i-- {
			_ = ws.WriteJSON(map[string]interface{}{"req-id": reqs[i]["req-id"]})
		}
	})

	c := dialTest(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make(chan string, 2)
	for _, id := range []string{"a", "b"} {
		go func(id string) {
			frame, err := c.Call(ctx, &models.Request{Action: models.ActionListGraphs, ReqID: id})
			if err != nil {
				results <- "err:" + err.Error()
				return
			}
			results <- frame.ReqID
		}(id)
	}

	got := map[string]bool{<-results: true, <-results: true}
	assert.True(t, got["a"], "caller a got its own frame")
	assert.True(t, got["b"], "caller b got its own frame")
}

func TestPushUpdateDelivery(t *testing.T) {
	url := echoServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteJSON(map[string]interface{}{
			"req-id":     models.PushUpdatesReqID,
			"graph-uuid": "g1",
			"t":          7,
			"ops": []map[string]interface{}{
				{"op": "save-block", "block-uuid": "b1", "data": map[string]string{"content": "x"}},
			},
		})
		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := dialTest(t, url)

	select {
	case res := <-c.Updates():
		require.NoError(t, res.Err)
		require.NotNil(t, res.Batch)
		assert.Equal(t, "g1", res.Batch.GraphUUID)
		assert.Equal(t, int64(7), res.Batch.TX)
		require.Len(t, res.Batch.Ops, 1)
		assert.Equal(t, "save-block", res.Batch.Ops[0].Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no push update received")
	}
}

func TestMalformedPushUpdateEndsStream(t *testing.T) {
	url := echoServer(t, func(ws *websocket.Conn) {
		// An undecodable batch followed by a valid one; the valid batch
		// must not be delivered past the corruption point.
		_ = ws.WriteJSON(map[string]interface{}{
			"req-id":     models.PushUpdatesReqID,
			"graph-uuid": "g1",
			"t":          1,
			"ops":        "not-an-array",
		})
		_ = ws.WriteJSON(map[string]interface{}{
			"req-id":     models.PushUpdatesReqID,
			"graph-uuid": "g1",
			"t":          2,
			"ops":        []map[string]interface{}{{"op": "save-block"}},
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := dialTest(t, url)

	select {
	case res := <-c.Updates():
		require.Error(t, res.Err)
		assert.ErrorContains(t, res.Err, "malformed update batch")
		require.NotNil(t, res.Batch)
		assert.Equal(t, "g1", res.Batch.GraphUUID)
		assert.Equal(t, int64(1), res.Batch.TX)
	case <-time.After(5 * time.Second):
		t.Fatal("stream error not delivered")
	}

	// The error is the stream's last element and the connection closes;
	// tx 2 never arrives.
	select {
	case res, ok := <-c.Updates():
		assert.False(t, ok, "unexpected result after stream error: %+v", res)
	case <-time.After(5 * time.Second):
		t.Fatal("update stream not closed after error")
	}

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection not closed after stream error")
	}
	assert.Equal(t, StateClosed, c.State())
}

func TestCallServerFailure(t *testing.T) {
	url := echoServer(t, func(ws *websocket.Conn) {
		var req map[string]interface{}
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		_ = ws.WriteJSON(map[string]interface{}{
			"req-id":     req["req-id"],
			"ex-data":    map[string]string{"type": "graph-not-found"},
			"ex-message": "graph not found",
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := dialTest(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frame, err := c.Call(ctx, &models.Request{Action: models.ActionDeleteGraph, ReqID: "req-1"})
	require.NoError(t, err)
	require.True(t, frame.Failed())

	var srvErr *models.ServerError
	require.ErrorAs(t, frame.Err(), &srvErr)
	assert.Equal(t, "graph not found", srvErr.Message)
}

func TestCallAfterClose(t *testing.T) {
	url := echoServer(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := dialTest(t, url)
	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}

	_, err := c.Call(context.Background(), &models.Request{
		Action: models.ActionListGraphs,
		ReqID:  "req-1",
	})
	assert.ErrorIs(t, err, models.ErrConnClosed)
	assert.Equal(t, StateClosed, c.State())
}

func TestCallUnblockedByRemoteClose(t *testing.T) {
	url := echoServer(t, func(ws *websocket.Conn) {
		// Read the request, then hang up without answering.
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	})

	c := dialTest(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Call(ctx, &models.Request{Action: models.ActionListGraphs, ReqID: "req-1"})
	assert.ErrorIs(t, err, models.ErrConnClosed)
}

func TestDialBearerHeader(t *testing.T) {
	headerCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headerCh <- r.Header.Get("Authorization")
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), ConnOptions{
		Token:        "secret",
		PingInterval: time.Minute,
	})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "Bearer secret", <-headerCh)
}

func TestCallRequiresReqID(t *testing.T) {
	url := echoServer(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := dialTest(t, url)
	_, err := c.Call(context.Background(), &models.Request{Action: models.ActionListGraphs})
	assert.ErrorContains(t, err, "request id required")
}
