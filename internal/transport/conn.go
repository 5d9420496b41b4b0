package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/models"
)

// ConnOptions configure a dialed connection.
type ConnOptions struct {
	Token        string
	PingInterval time.Duration
	PongTimeout  time.Duration
	OnState      func(ConnState)
	Logger       *events.Logger
}

// wsConn implements Conn over a gorilla websocket.
type wsConn struct {
	url    string
	logger *events.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	state   ConnState
	pending map[string]chan *models.Frame
	onState func(ConnState)

	writeMu sync.Mutex

	updates chan UpdateResult
	done    chan struct{}
	once    sync.Once

	pingInterval time.Duration
	pongTimeout  time.Duration
}

// Dial opens a websocket connection and starts its read and ping loops.
func Dial(ctx context.Context, wsURL string, opts ConnOptions) (Conn, error) {
	headers := http.Header{}
	if opts.Token != "" {
		headers.Set("Authorization", "Bearer "+opts.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	ws, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect failed: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	}

	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	pongTimeout := opts.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 10 * time.Second
	}

	c := &wsConn{
		url:          wsURL,
		logger:       logger.WithField("component", "ws_conn"),
		ws:           ws,
		state:        StateOpen,
		pending:      make(map[string]chan *models.Frame),
		onState:      opts.OnState,
		updates:      make(chan UpdateResult, 64),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}

	if c.onState != nil {
		c.onState(StateOpen)
	}

	go c.readLoop()
	go c.pingLoop()

	c.logger.Info("Connection open")
	return c, nil
}

// Call sends a request and waits for the frame with the matching req-id.
func (c *wsConn) Call(ctx context.Context, req *models.Request) (*models.Frame, error) {
	if req.ReqID == "" {
		return nil, errors.New("request id required")
	}

	ch := make(chan *models.Frame, 1)

	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return nil, models.ErrConnClosed
	}
	c.pending[req.ReqID] = ch
	c.mu.Unlock()

	if err := c.Send(req); err != nil {
		c.dropPending(req.ReqID)
		return nil, err
	}

	select {
	case frame := <-ch:
		return frame, nil
	case <-ctx.Done():
		c.dropPending(req.ReqID)
		return nil, ctx.Err()
	case <-c.done:
		return nil, models.ErrConnClosed
	}
}

// Send writes a request frame.
func (c *wsConn) Send(req *models.Request) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return models.ErrConnClosed
	}
	ws := c.ws
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteJSON(req); err != nil {
		return fmt.Errorf("send %s: %w", req.Action, err)
	}
	return nil
}

func (c *wsConn) Updates() <-chan UpdateResult {
	return c.updates
}

func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

func (c *wsConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the connection down. Safe to call more than once.
func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		c.setState(StateClosing)

		c.writeMu.Lock()
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
		c.setState(StateClosed)
		close(c.done)
		c.failPending()
	})
	return err
}

func (c *wsConn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	notify := c.onState
	c.mu.Unlock()

	if notify != nil {
		notify(s)
	}
}

func (c *wsConn) dropPending(reqID string) {
	c.mu.Lock()
	delete(c.pending, reqID)
	c.mu.Unlock()
}

// failPending wakes every Call waiter; they observe done and return
// ErrConnClosed.
func (c *wsConn) failPending() {
	c.mu.Lock()
	c.pending = make(map[string]chan *models.Frame)
	c.mu.Unlock()
}

// readLoop reads frames and demultiplexes them: correlated responses wake
// their waiters, push-updates flow to the updates channel.
func (c *wsConn) readLoop() {
	defer func() {
		_ = c.Close()
		close(c.updates)
	}()

	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
		c.ws.SetPongHandler(func(string) error {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
			return nil
		})

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.WithError(err).Error("Read error")
			}
			return
		}

		frame, err := models.ParseFrame(data)
		if err != nil {
			c.logger.WithError(err).Warn("Dropping unparseable frame")
			continue
		}

		if frame.IsPushUpdate() {
			var batch models.UpdateBatch
			if err := frame.Decode(&batch); err != nil {
				// Skipping an update would desynchronize the replica, so an
				// undecodable batch ends the stream. The envelope may still
				// parse even when the ops are the wrong shape.
				var head struct {
					GraphUUID string `json:"graph-uuid"`
					TX        int64  `json:"t"`
				}
				_ = json.Unmarshal(frame.Raw, &head)

				streamErr := fmt.Errorf("malformed update batch: %w", err)
				c.logger.WithError(streamErr).Error("Update stream corrupt, closing connection")
				select {
				case c.updates <- UpdateResult{
					Batch: &models.UpdateBatch{GraphUUID: head.GraphUUID, TX: head.TX},
					Err:   streamErr,
				}:
				case <-c.done:
				}
				return
			}
			select {
			case c.updates <- UpdateResult{Batch: &batch}:
			case <-c.done:
				return
			}
			continue
		}

		c.mu.Lock()
		waiter, ok := c.pending[frame.ReqID]
		if ok {
			delete(c.pending, frame.ReqID)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.WithField("req_id", frame.ReqID).Debug("Unmatched response frame")
			continue
		}
		waiter <- frame
	}
}

// pingLoop keeps the connection alive.
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.WithError(err).Debug("Ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}
