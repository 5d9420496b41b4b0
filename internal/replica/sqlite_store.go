package replica

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/models"
)

// SQLiteStore implements Store on a local sqlite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger

	// Per-repo serialization of replica mutations.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLiteStore opens (and initializes) a replica database.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "replica_store"),
		locks:  make(map[string]*sync.Mutex),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS graphs (
        repo_id TEXT PRIMARY KEY,
        graph_uuid TEXT NOT NULL,
        user_uuid TEXT,
        remote_enabled INTEGER NOT NULL DEFAULT 1,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS pending_ops (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        repo_id TEXT NOT NULL,
        op TEXT NOT NULL,
        block_uuid TEXT,
        data TEXT,
        epoch INTEGER NOT NULL DEFAULT 0,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_pending_ops_repo ON pending_ops(repo_id);

    CREATE TABLE IF NOT EXISTS applied_ops (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        repo_id TEXT NOT NULL,
        tx INTEGER NOT NULL,
        op TEXT NOT NULL,
        block_uuid TEXT,
        data TEXT,
        applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_applied_ops_repo ON applied_ops(repo_id, tx);

    CREATE TABLE IF NOT EXISTS remote_state (
        repo_id TEXT PRIMARY KEY,
        tx INTEGER NOT NULL DEFAULT 0,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS sync_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        repo_id TEXT NOT NULL,
        at TIMESTAMP NOT NULL,
        stamp TEXT,
        level TEXT NOT NULL,
        message TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_sync_log_repo ON sync_log(repo_id, id);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) repoLock(repoID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[repoID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[repoID] = l
	}
	return l
}

// RegisterGraph records a local graph replica.
func (s *SQLiteStore) RegisterGraph(meta *models.GraphMeta) error {
	enabled := 0
	if meta.RemoteEnabled {
		enabled = 1
	}
	_, err := s.db.Exec(`
        INSERT INTO graphs (repo_id, graph_uuid, user_uuid, remote_enabled)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(repo_id) DO UPDATE SET
            graph_uuid = excluded.graph_uuid,
            user_uuid = excluded.user_uuid,
            remote_enabled = excluded.remote_enabled`,
		meta.RepoID, meta.GraphUUID, meta.UserUUID, enabled)
	if err != nil {
		return fmt.Errorf("register graph: %w", err)
	}
	return nil
}

// GraphInfo returns graph metadata for a repo.
func (s *SQLiteStore) GraphInfo(repoID string) (*models.GraphMeta, error) {
	var meta models.GraphMeta
	var enabled int
	err := s.db.QueryRow(`
        SELECT repo_id, graph_uuid, COALESCE(user_uuid, ''), remote_enabled
        FROM graphs WHERE repo_id = ?`, repoID).
		Scan(&meta.RepoID, &meta.GraphUUID, &meta.UserUUID, &enabled)
	if err == sql.ErrNoRows {
		return nil, ErrGraphNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query graph: %w", err)
	}
	meta.RemoteEnabled = enabled != 0
	return &meta, nil
}

// EnqueueOps appends local operations to the pending set.
func (s *SQLiteStore) EnqueueOps(repoID string, ops []models.Operation) error {
	lock := s.repoLock(repoID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
        INSERT INTO pending_ops (repo_id, op, block_uuid, data, epoch)
        VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, op := range ops {
		if op.Type == "" {
			return fmt.Errorf("%w: empty op type", ErrBadOperation)
		}
		if _, err := stmt.Exec(repoID, op.Type, op.BlockUUID, string(op.Data), op.Epoch); err != nil {
			return fmt.Errorf("insert pending op: %w", err)
		}
	}

	return tx.Commit()
}

// UnpushedCount returns the number of pending local operations.
func (s *SQLiteStore) UnpushedCount(repoID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_ops WHERE repo_id = ?`, repoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending ops: %w", err)
	}
	return n, nil
}

// PendingOps reads the pending local operations in enqueue order.
func (s *SQLiteStore) PendingOps(repoID string) (*OpBatch, error) {
	rows, err := s.db.Query(`
        SELECT id, op, COALESCE(block_uuid, ''), COALESCE(data, ''), epoch
        FROM pending_ops WHERE repo_id = ? ORDER BY id`, repoID)
	if err != nil {
		return nil, fmt.Errorf("query pending ops: %w", err)
	}
	defer rows.Close()

	batch := &OpBatch{}
	for rows.Next() {
		var id int64
		var op models.Operation
		var data string
		if err := rows.Scan(&id, &op.Type, &op.BlockUUID, &data, &op.Epoch); err != nil {
			return nil, fmt.Errorf("scan pending op: %w", err)
		}
		if data != "" {
			op.Data = json.RawMessage(data)
		}
		batch.IDs = append(batch.IDs, id)
		batch.Ops = append(batch.Ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending ops: %w", err)
	}

	watermark, err := s.RemoteTX(repoID)
	if err != nil {
		return nil, err
	}
	batch.TXBefore = watermark
	return batch, nil
}

// ClearPushed removes exactly the rows of a pushed batch.
func (s *SQLiteStore) ClearPushed(repoID string, batch *OpBatch) error {
	if batch.Empty() {
		return nil
	}

	lock := s.repoLock(repoID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`DELETE FROM pending_ops WHERE repo_id = ? AND id = ?`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range batch.IDs {
		if _, err := stmt.Exec(repoID, id); err != nil {
			return fmt.Errorf("delete pending op %d: %w", id, err)
		}
	}

	return tx.Commit()
}

// ApplyTransaction applies a remote operation set atomically and advances
// the watermark. A batch at or below the current watermark is a no-op.
func (s *SQLiteStore) ApplyTransaction(repoID string, ops []models.Operation, remoteTX int64) error {
	lock := s.repoLock(repoID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.RemoteTX(repoID)
	if err != nil {
		return err
	}
	if remoteTX != 0 && remoteTX <= current {
		s.logger.WithFields(map[string]interface{}{
			"repo_id": repoID,
			"tx":      remoteTX,
		}).Debug("Skipping already-applied transaction")
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
        INSERT INTO applied_ops (repo_id, tx, op, block_uuid, data)
        VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, op := range ops {
		if op.Type == "" {
			return fmt.Errorf("%w: empty op type in tx %d", ErrBadOperation, remoteTX)
		}
		if len(op.Data) > 0 && !json.Valid(op.Data) {
			return fmt.Errorf("%w: invalid payload in tx %d", ErrBadOperation, remoteTX)
		}
		if _, err := stmt.Exec(repoID, remoteTX, op.Type, op.BlockUUID, string(op.Data)); err != nil {
			return fmt.Errorf("insert applied op: %w", err)
		}
	}

	if _, err := tx.Exec(`
        INSERT INTO remote_state (repo_id, tx, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(repo_id) DO UPDATE SET tx = excluded.tx, updated_at = CURRENT_TIMESTAMP`,
		repoID, remoteTX); err != nil {
		return fmt.Errorf("update watermark: %w", err)
	}

	return tx.Commit()
}

// RemoteTX returns the remote transaction watermark.
func (s *SQLiteStore) RemoteTX(repoID string) (int64, error) {
	var tx int64
	err := s.db.QueryRow(`SELECT tx FROM remote_state WHERE repo_id = ?`, repoID).Scan(&tx)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query watermark: %w", err)
	}
	return tx, nil
}

// SetRemoteTX advances the remote transaction watermark.
func (s *SQLiteStore) SetRemoteTX(repoID string, tx int64) error {
	_, err := s.db.Exec(`
        INSERT INTO remote_state (repo_id, tx, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(repo_id) DO UPDATE SET tx = excluded.tx, updated_at = CURRENT_TIMESTAMP`,
		repoID, tx)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// AppendLog adds an entry to the session diagnostic log.
func (s *SQLiteStore) AppendLog(repoID string, entry models.LogEntry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.Exec(`
        INSERT INTO sync_log (repo_id, at, stamp, level, message)
        VALUES (?, ?, ?, ?, ?)`,
		repoID, at, entry.Stamp, entry.Level, entry.Message)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// RecentLog returns the n most recent entries, oldest first.
func (s *SQLiteStore) RecentLog(repoID string, n int) ([]models.LogEntry, error) {
	rows, err := s.db.Query(`
        SELECT at, COALESCE(stamp, ''), level, message FROM (
            SELECT id, at, stamp, level, message
            FROM sync_log WHERE repo_id = ?
            ORDER BY id DESC LIMIT ?
        ) ORDER BY id`, repoID, n)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(&e.At, &e.Stamp, &e.Level, &e.Message); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
