package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/graphsync/internal/config"
	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/models"
)

// TokenFunc supplies the bearer token used to construct the connection URL.
type TokenFunc func() (string, error)

// DialFunc opens one connection attempt. Replaced in tests.
type DialFunc func(ctx context.Context, wsURL string, opts ConnOptions) (Conn, error)

// Manager owns creation, reuse, and retry of connections. Handles are
// memoized by URL: repeated Acquire calls return the same open handle, and
// a closed handle is evicted and replaced on the next call.
type Manager struct {
	cfg    *config.APIConfig
	token  TokenFunc
	logger *events.Logger
	dial   DialFunc

	mu    sync.Mutex
	conns map[string]Conn

	graphMu   sync.Mutex
	graphUUID string

	states chan ConnState
	last   atomic.Int32
}

// NewManager creates a connection manager.
func NewManager(cfg *config.APIConfig, token TokenFunc, logger *events.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		token:  token,
		logger: logger.WithField("component", "conn_manager"),
		dial:   Dial,
		conns:  make(map[string]Conn),
		states: make(chan ConnState, 32),
	}
	m.last.Store(int32(StateClosed))
	return m
}

// Acquire returns the current open handle for the configured URL, dialing
// a new one with bounded retry when none exists. Each attempt is bounded
// by the configured open timeout; exhausting the budget yields a
// ConnectionTimeoutError.
func (m *Manager) Acquire(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, err := m.token()
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	connURL, err := m.buildURL(token)
	if err != nil {
		return nil, err
	}

	if c, ok := m.conns[connURL]; ok {
		select {
		case <-c.Done():
			delete(m.conns, connURL)
		default:
			return c, nil
		}
	}

	var lastErr error
	delay := m.cfg.RetryDelay

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			m.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying connection")

			select {
			case <-time.After(delay):
				delay += m.cfg.RetryDelay
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		m.publish(StateConnecting)

		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.OpenTimeout)
		c, err := m.dial(dialCtx, connURL, m.connOptions(token))
		cancel()

		if err != nil {
			lastErr = err
			m.publish(StateClosed)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.WithError(err).WithField("attempt", attempt).Warn("Connection attempt failed")
			continue
		}

		if err := m.handshake(ctx, c); err != nil {
			lastErr = err
			_ = c.Close()
			m.logger.WithError(err).WithField("attempt", attempt).Warn("Handshake failed")
			continue
		}

		m.conns[connURL] = c
		go m.evictOnClose(connURL, c)
		return c, nil
	}

	return nil, &models.ConnectionTimeoutError{
		URL:      m.cfg.URL,
		Attempts: m.cfg.MaxAttempts,
		Err:      lastErr,
	}
}

// Subscribe records the graph to observe on every new connection. Live
// connections are re-subscribed immediately.
func (m *Manager) Subscribe(graphUUID string) {
	m.graphMu.Lock()
	m.graphUUID = graphUUID
	m.graphMu.Unlock()

	m.mu.Lock()
	conns := make([]Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		go func(c Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
			defer cancel()
			if err := m.handshake(ctx, c); err != nil {
				m.logger.WithError(err).Warn("Re-subscribe failed")
			}
		}(c)
	}
}

// States exposes connection lifecycle transitions.
func (m *Manager) States() <-chan ConnState {
	return m.states
}

// CurrentState returns the most recently published state.
func (m *Manager) CurrentState() ConnState {
	return ConnState(m.last.Load())
}

// Close tears down all cached connections.
func (m *Manager) Close() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]Conn)
	m.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// handshake registers the session's graph subscription before the handle
// is handed out. Skipped when no graph is subscribed (control-plane use).
func (m *Manager) handshake(ctx context.Context, c Conn) error {
	graph := m.subscribedGraph()
	if graph == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	frame, err := c.Call(ctx, &models.Request{
		Action:    models.ActionRegisterGraphUpdates,
		ReqID:     uuid.NewString(),
		GraphUUID: graph,
	})
	if err != nil {
		return fmt.Errorf("register graph updates: %w", err)
	}
	if frame.Failed() {
		return fmt.Errorf("register graph updates: %w", frame.Err())
	}

	m.logger.WithField("graph_uuid", graph).Debug("Subscribed to graph updates")
	return nil
}

func (m *Manager) subscribedGraph() string {
	m.graphMu.Lock()
	defer m.graphMu.Unlock()
	return m.graphUUID
}

// connOptions carries the token so the bearer header accompanies the
// query parameter; either mechanism satisfies the server.
func (m *Manager) connOptions(token string) ConnOptions {
	return ConnOptions{
		Token:        token,
		PingInterval: m.cfg.PingInterval,
		OnState:      m.publish,
		Logger:       m.logger,
	}
}

func (m *Manager) evictOnClose(connURL string, c Conn) {
	<-c.Done()
	m.mu.Lock()
	if m.conns[connURL] == c {
		delete(m.conns, connURL)
	}
	m.mu.Unlock()
}

func (m *Manager) publish(s ConnState) {
	m.last.Store(int32(s))
	select {
	case m.states <- s:
	default:
		// Slow observers miss transitions, never block the manager.
	}
}

// buildURL converts the configured endpoint to a ws(s) URL carrying the
// bearer token as a query parameter.
func (m *Manager) buildURL(token string) (string, error) {
	raw := m.cfg.URL
	if strings.HasPrefix(raw, "http") {
		raw = "ws" + raw[4:]
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
