package replica

import (
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/graphsync/internal/models"
)

// MemStore is an in-memory Store for tests and ephemeral sessions.
type MemStore struct {
	mu sync.Mutex

	graphs  map[string]*models.GraphMeta
	pending map[string][]pendingOp
	applied map[string][]AppliedTX
	remote  map[string]int64
	logs    map[string][]models.LogEntry
	nextID  int64

	// Error injection for tests.
	ApplyErr   error
	PendingErr error
}

type pendingOp struct {
	id int64
	op models.Operation
}

// AppliedTX records one applied remote transaction, in apply order.
type AppliedTX struct {
	TX  int64
	Ops []models.Operation
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		graphs:  make(map[string]*models.GraphMeta),
		pending: make(map[string][]pendingOp),
		applied: make(map[string][]AppliedTX),
		remote:  make(map[string]int64),
		logs:    make(map[string][]models.LogEntry),
		nextID:  1,
	}
}

func (s *MemStore) RegisterGraph(meta *models.GraphMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *meta
	s.graphs[meta.RepoID] = &copied
	return nil
}

func (s *MemStore) GraphInfo(repoID string) (*models.GraphMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.graphs[repoID]
	if !ok {
		return nil, ErrGraphNotFound
	}
	copied := *meta
	return &copied, nil
}

func (s *MemStore) EnqueueOps(repoID string, ops []models.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		if op.Type == "" {
			return fmt.Errorf("%w: empty op type", ErrBadOperation)
		}
		s.pending[repoID] = append(s.pending[repoID], pendingOp{id: s.nextID, op: op})
		s.nextID++
	}
	return nil
}

func (s *MemStore) UnpushedCount(repoID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[repoID]), nil
}

func (s *MemStore) PendingOps(repoID string) (*OpBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PendingErr != nil {
		return nil, s.PendingErr
	}

	batch := &OpBatch{TXBefore: s.remote[repoID]}
	for _, p := range s.pending[repoID] {
		batch.IDs = append(batch.IDs, p.id)
		batch.Ops = append(batch.Ops, p.op)
	}
	return batch, nil
}

func (s *MemStore) ClearPushed(repoID string, batch *OpBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := make(map[int64]bool, len(batch.IDs))
	for _, id := range batch.IDs {
		cleared[id] = true
	}

	var kept []pendingOp
	for _, p := range s.pending[repoID] {
		if !cleared[p.id] {
			kept = append(kept, p)
		}
	}
	s.pending[repoID] = kept
	return nil
}

func (s *MemStore) ApplyTransaction(repoID string, ops []models.Operation, tx int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ApplyErr != nil {
		return s.ApplyErr
	}

	for _, op := range ops {
		if op.Type == "" {
			return fmt.Errorf("%w: empty op type in tx %d", ErrBadOperation, tx)
		}
	}

	if tx != 0 && tx <= s.remote[repoID] {
		return nil
	}

	s.applied[repoID] = append(s.applied[repoID], AppliedTX{TX: tx, Ops: ops})
	s.remote[repoID] = tx
	return nil
}

func (s *MemStore) RemoteTX(repoID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote[repoID], nil
}

func (s *MemStore) SetRemoteTX(repoID string, tx int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote[repoID] = tx
	return nil
}

func (s *MemStore) AppendLog(repoID string, entry models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	s.logs[repoID] = append(s.logs[repoID], entry)
	return nil
}

func (s *MemStore) RecentLog(repoID string, n int) ([]models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.logs[repoID]
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]models.LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Applied returns applied transactions in apply order.
func (s *MemStore) Applied(repoID string) []AppliedTX {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AppliedTX, len(s.applied[repoID]))
	copy(out, s.applied[repoID])
	return out
}

func (s *MemStore) Close() error {
	return nil
}
