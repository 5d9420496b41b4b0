package client

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/TheMichaelB/graphsync/internal/auth"
	"github.com/TheMichaelB/graphsync/internal/config"
	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/replica"
	"github.com/TheMichaelB/graphsync/internal/services/graphs"
	syncsvc "github.com/TheMichaelB/graphsync/internal/services/sync"
	"github.com/TheMichaelB/graphsync/internal/transport"
)

// Client provides the high-level API for graphsync operations.
type Client struct {
	Graphs  *graphs.Service
	Sync    *syncsvc.Manager
	Replica replica.Store

	config   *config.Config
	logger   *events.Logger
	provider transport.Provider
}

// New creates a client from config.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	tokens := auth.FromConfig(&cfg.Auth)

	manager := transport.NewManager(&cfg.API, tokens.Token, logger)

	if dir := filepath.Dir(cfg.Storage.ReplicaDB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	store, err := replica.NewSQLiteStore(cfg.Storage.ReplicaDB, logger)
	if err != nil {
		return nil, fmt.Errorf("open replica store: %w", err)
	}

	return &Client{
		Graphs:   graphs.NewService(manager, logger),
		Sync:     syncsvc.NewManager(store, manager, tokens.Token, &cfg.Sync, &cfg.API, logger),
		Replica:  store,
		config:   cfg,
		logger:   logger,
		provider: manager,
	}, nil
}

// ConnStates exposes the connection lifecycle sequence.
func (c *Client) ConnStates() <-chan transport.ConnState {
	return c.provider.States()
}

// Close releases the client's resources.
func (c *Client) Close() error {
	c.Sync.Stop()

	var firstErr error
	if err := c.provider.Close(); err != nil {
		firstErr = err
	}
	if err := c.Replica.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
