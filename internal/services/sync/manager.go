package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheMichaelB/graphsync/internal/config"
	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/models"
	"github.com/TheMichaelB/graphsync/internal/replica"
	"github.com/TheMichaelB/graphsync/internal/transport"
)

// Manager is the session registry: it starts at most one sync loop per
// process, holds the active session's handles, and releases the
// exclusivity flag on every loop exit path. It is an explicit, injectable
// value; a single default instance is wired at the top level.
type Manager struct {
	store    replica.Store
	provider transport.Provider
	token    transport.TokenFunc

	syncCfg *config.SyncConfig
	apiCfg  *config.APIConfig
	logger  *events.Logger

	// Exclusivity flag: held iff a loop is actively running. Acquired by
	// compare-and-set in Start, released by the loop goroutine's defer.
	running atomic.Bool

	mu      sync.Mutex
	current *active
}

type active struct {
	sess     *models.Session
	loop     *Loop
	cancel   context.CancelFunc
	autoPush *atomic.Bool
	done     chan struct{}
}

// StartParams identify the session to start.
type StartParams struct {
	RepoID     string
	DateFormat string // session log timestamp layout; config default if empty
}

// NewManager creates a session manager.
func NewManager(
	store replica.Store,
	provider transport.Provider,
	token transport.TokenFunc,
	syncCfg *config.SyncConfig,
	apiCfg *config.APIConfig,
	logger *events.Logger,
) *Manager {
	return &Manager{
		store:    store,
		provider: provider,
		token:    token,
		syncCfg:  syncCfg,
		apiCfg:   apiCfg,
		logger:   logger.WithField("component", "sync_manager"),
	}
}

// Start begins a sync loop for the repo. It validates the session, takes
// the exclusivity flag, and returns once the initial connection
// acquisition succeeds. Start-time failures are returned synchronously
// with the flag released and no loop registered.
func (m *Manager) Start(ctx context.Context, params StartParams) error {
	meta, err := m.store.GraphInfo(params.RepoID)
	if err != nil {
		if errors.Is(err, replica.ErrGraphNotFound) {
			return models.ErrNoLocalReplica
		}
		return err
	}
	if !meta.RemoteEnabled {
		return models.ErrNotSyncableGraph
	}

	token, err := m.token()
	if err != nil {
		return err
	}

	if !m.running.CompareAndSwap(false, true) {
		return models.ErrLockHeld
	}

	dateFormat := params.DateFormat
	if dateFormat == "" {
		dateFormat = m.syncCfg.DateFormat
	}

	sess := &models.Session{
		RepoID:     params.RepoID,
		GraphUUID:  meta.GraphUUID,
		UserUUID:   meta.UserUUID,
		Token:      token,
		DateFormat: dateFormat,
	}

	m.provider.Subscribe(meta.GraphUUID)

	autoPush := &atomic.Bool{}
	autoPush.Store(m.syncCfg.AutoPush)

	loop := newLoop(
		sess,
		m.store,
		m.provider,
		NewApplier(m.store, m.logger),
		NewPusher(m.store, m.provider,
			m.apiCfg.RequestTimeout,
			time.Duration(m.syncCfg.RejectIntervals)*m.syncCfg.PollInterval,
			m.logger),
		autoPush,
		m.syncCfg.PollInterval,
		m.logger,
	)

	// The loop outlives the start call; it is bound to its own context
	// and stopped through cancel, not through the caller's ctx.
	runCtx, cancel := context.WithCancel(context.Background())

	act := &active{
		sess:     sess,
		loop:     loop,
		cancel:   cancel,
		autoPush: autoPush,
		done:     make(chan struct{}),
	}

	started := make(chan error, 1)

	go func() {
		defer close(act.done)
		defer m.running.Store(false)
		// Stop the detector and update source even when the loop exits on
		// its own (failure, source exhaustion).
		defer cancel()
		loop.run(runCtx, started)
	}()

	if err := <-started; err != nil {
		cancel()
		<-act.done
		return err
	}

	m.mu.Lock()
	m.current = act
	m.mu.Unlock()

	m.logger.WithFields(map[string]interface{}{
		"repo_id":    sess.RepoID,
		"graph_uuid": sess.GraphUUID,
	}).Info("Sync session started")

	return nil
}

// Stop cancels the active loop and waits for it to release the
// exclusivity flag. A subsequent Start succeeds.
func (m *Manager) Stop() {
	m.mu.Lock()
	act := m.current
	m.current = nil
	m.mu.Unlock()

	if act == nil {
		return
	}

	act.cancel()
	<-act.done
}

// ToggleAutoPush flips the active session's auto-push flag. The next
// polling interval observes the new value. Reports the new value and
// whether a session was active.
func (m *Manager) ToggleAutoPush() (enabled, ok bool) {
	m.mu.Lock()
	act := m.current
	m.mu.Unlock()

	if act == nil {
		return false, false
	}

	for {
		old := act.autoPush.Load()
		if act.autoPush.CompareAndSwap(old, !old) {
			m.logger.WithField("auto_push", !old).Info("Toggled auto-push")
			return !old, true
		}
	}
}

// DebugState returns a point-in-time snapshot of the session.
func (m *Manager) DebugState() *models.DebugState {
	m.mu.Lock()
	act := m.current
	m.mu.Unlock()

	state := &models.DebugState{
		ConnectionState: m.provider.CurrentState().String(),
		LoopState:       StateIdle.String(),
	}

	if act == nil {
		return state
	}

	state.RepoID = act.sess.RepoID
	state.GraphUUID = act.sess.GraphUUID
	state.UserUUID = act.sess.UserUUID
	state.AutoPush = act.autoPush.Load()
	state.LoopState = act.loop.State().String()

	if n, err := m.store.UnpushedCount(act.sess.RepoID); err == nil {
		state.UnpushedCount = n
	}

	return state
}
