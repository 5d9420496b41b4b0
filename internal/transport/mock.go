package transport

import (
	"context"
	"sync"

	"github.com/TheMichaelB/graphsync/internal/models"
)

// MockConn provides a scriptable Conn for testing.
type MockConn struct {
	mu sync.Mutex

	// Response configuration, keyed by action. CallFunc overrides when set.
	Responses map[models.Action]*models.Frame
	CallErr   error
	CallFunc  func(req *models.Request) (*models.Frame, error)

	// Request tracking
	Calls []*models.Request
	Sends []*models.Request

	updates chan UpdateResult
	done    chan struct{}
	closed  bool
}

// NewMockConn creates an open mock connection.
func NewMockConn() *MockConn {
	return &MockConn{
		Responses: make(map[models.Action]*models.Frame),
		updates:   make(chan UpdateResult, 64),
		done:      make(chan struct{}),
	}
}

// Call records the request and returns the scripted response.
func (c *MockConn) Call(ctx context.Context, req *models.Request) (*models.Frame, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, req)
	fn := c.CallFunc
	err := c.CallErr
	resp := c.Responses[req.Action]
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil, models.ErrConnClosed
	}
	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	return &models.Frame{ReqID: req.ReqID, Raw: []byte(`{}`)}, nil
}

// Send records the request.
func (c *MockConn) Send(req *models.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return models.ErrConnClosed
	}
	c.Sends = append(c.Sends, req)
	return nil
}

// PushUpdate feeds a server-initiated batch to consumers.
func (c *MockConn) PushUpdate(batch *models.UpdateBatch) {
	c.updates <- UpdateResult{Batch: batch}
}

// PushUpdateError feeds a fatal stream error to consumers.
func (c *MockConn) PushUpdateError(err error) {
	c.updates <- UpdateResult{Err: err}
}

func (c *MockConn) Updates() <-chan UpdateResult {
	return c.updates
}

func (c *MockConn) Done() <-chan struct{} {
	return c.done
}

func (c *MockConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return StateClosed
	}
	return StateOpen
}

// Close marks the connection closed and ends the update stream.
func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	close(c.updates)
	return nil
}

// CallsFor returns recorded calls for one action.
func (c *MockConn) CallsFor(action models.Action) []*models.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*models.Request
	for _, req := range c.Calls {
		if req.Action == action {
			out = append(out, req)
		}
	}
	return out
}

// MockProvider hands out scripted connections.
type MockProvider struct {
	mu sync.Mutex

	// Conns are returned in order; the last one repeats. AcquireErr wins
	// when set.
	Conns      []Conn
	AcquireErr error

	Acquires int
	Graph    string

	states chan ConnState
	last   ConnState
}

// NewMockProvider creates a provider returning the given connections.
func NewMockProvider(conns ...Conn) *MockProvider {
	return &MockProvider{
		Conns:  conns,
		states: make(chan ConnState, 32),
		last:   StateClosed,
	}
}

func (p *MockProvider) Acquire(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Acquires++
	if p.AcquireErr != nil {
		return nil, p.AcquireErr
	}
	if len(p.Conns) == 0 {
		return nil, models.ErrConnClosed
	}

	idx := p.Acquires - 1
	if idx >= len(p.Conns) {
		idx = len(p.Conns) - 1
	}
	p.last = StateOpen
	return p.Conns[idx], nil
}

func (p *MockProvider) Subscribe(graphUUID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Graph = graphUUID
}

func (p *MockProvider) States() <-chan ConnState {
	return p.states
}

// PublishState pushes a state transition to observers.
func (p *MockProvider) PublishState(s ConnState) {
	p.mu.Lock()
	p.last = s
	p.mu.Unlock()
	select {
	case p.states <- s:
	default:
	}
}

func (p *MockProvider) CurrentState() ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *MockProvider) Close() error {
	p.mu.Lock()
	conns := p.Conns
	p.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}
