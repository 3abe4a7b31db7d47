package sync

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pbeza/wildland-client/internal/wlerrors"
)

// JobStore is SyncDaemon's durable index of jobs and their file hashes, a
// SQLite database following the WAL-mode, busy-timeout conventions of
// sdn-server's FlatSQLStore.
type JobStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenJobStore opens (creating if needed) the job index at
// "<dir>/wlsync.db".
func OpenJobStore(dir string) (*JobStore, error) {
	dbPath := filepath.Join(dir, "wlsync.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sync: open %s: %w", dbPath, err)
	}
	store := &JobStore{db: db}
	if err := store.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *JobStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_jobs (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			container_uuid TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			unidirectional INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			last_error TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("sync: create sync_jobs: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_file_index (
			job_id TEXT NOT NULL,
			path TEXT NOT NULL,
			source_hash TEXT NOT NULL,
			target_hash TEXT NOT NULL,
			source_mtime INTEGER NOT NULL,
			target_mtime INTEGER NOT NULL,
			PRIMARY KEY (job_id, path)
		)
	`)
	if err != nil {
		return fmt.Errorf("sync: create sync_file_index: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *JobStore) Close() error { return s.db.Close() }

// Put inserts or replaces j's row.
func (s *JobStore) Put(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	uni := 0
	if j.Unidirectional {
		uni = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO sync_jobs (id, owner, container_uuid, source_id, target_id, unidirectional, state, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			last_error = excluded.last_error,
			source_id = excluded.source_id,
			target_id = excluded.target_id,
			unidirectional = excluded.unidirectional
	`, string(j.ID), j.Owner, j.ContainerUUID, j.SourceID, j.TargetID, uni, j.State.String(), j.LastError)
	if err != nil {
		return fmt.Errorf("sync: put job %s: %w", j.ID, err)
	}
	return nil
}

// Get loads a job by ID.
func (s *JobStore) Get(id JobID) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`
		SELECT id, owner, container_uuid, source_id, target_id, unidirectional, state, last_error
		FROM sync_jobs WHERE id = ?
	`, string(id))

	var j Job
	var idStr, stateStr string
	var uni int
	var lastErr sql.NullString
	if err := row.Scan(&idStr, &j.Owner, &j.ContainerUUID, &j.SourceID, &j.TargetID, &uni, &stateStr, &lastErr); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("sync: job %s: %w", id, wlerrors.ErrJobNotFound)
		}
		return nil, fmt.Errorf("sync: get job %s: %w", id, err)
	}
	j.ID = JobID(idStr)
	j.Unidirectional = uni != 0
	j.State = stateFromString(stateStr)
	j.LastError = lastErr.String
	return &j, nil
}

// List returns every job currently tracked.
func (s *JobStore) List() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id, owner, container_uuid, source_id, target_id, unidirectional, state, last_error FROM sync_jobs`)
	if err != nil {
		return nil, fmt.Errorf("sync: list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		var j Job
		var idStr, stateStr string
		var uni int
		var lastErr sql.NullString
		if err := rows.Scan(&idStr, &j.Owner, &j.ContainerUUID, &j.SourceID, &j.TargetID, &uni, &stateStr, &lastErr); err != nil {
			return nil, fmt.Errorf("sync: scan job row: %w", err)
		}
		j.ID = JobID(idStr)
		j.Unidirectional = uni != 0
		j.State = stateFromString(stateStr)
		j.LastError = lastErr.String
		out = append(out, &j)
	}
	return out, rows.Err()
}

// Delete removes a job and its file index rows.
func (s *JobStore) Delete(id JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM sync_file_index WHERE job_id = ?`, string(id)); err != nil {
		return fmt.Errorf("sync: delete file index for %s: %w", id, err)
	}
	if _, err := s.db.Exec(`DELETE FROM sync_jobs WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("sync: delete job %s: %w", id, err)
	}
	return nil
}

// FileRecord is one path's last-known hash/mtime on each side of a job,
// used for last-writer-wins conflict resolution.
type FileRecord struct {
	Path        string
	SourceHash  string
	TargetHash  string
	SourceMtime int64
	TargetMtime int64
}

// PutFileRecord upserts the per-path hash/mtime bookkeeping for a job.
func (s *JobStore) PutFileRecord(id JobID, fr FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO sync_file_index (job_id, path, source_hash, target_hash, source_mtime, target_mtime)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, path) DO UPDATE SET
			source_hash = excluded.source_hash,
			target_hash = excluded.target_hash,
			source_mtime = excluded.source_mtime,
			target_mtime = excluded.target_mtime
	`, string(id), fr.Path, fr.SourceHash, fr.TargetHash, fr.SourceMtime, fr.TargetMtime)
	if err != nil {
		return fmt.Errorf("sync: put file record %s/%s: %w", id, fr.Path, err)
	}
	return nil
}

// FileRecords returns every tracked path for a job.
func (s *JobStore) FileRecords(id JobID) ([]FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT path, source_hash, target_hash, source_mtime, target_mtime FROM sync_file_index WHERE job_id = ?`, string(id))
	if err != nil {
		return nil, fmt.Errorf("sync: list file records for %s: %w", id, err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var fr FileRecord
		if err := rows.Scan(&fr.Path, &fr.SourceHash, &fr.TargetHash, &fr.SourceMtime, &fr.TargetMtime); err != nil {
			return nil, fmt.Errorf("sync: scan file record: %w", err)
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

func stateFromString(s string) State {
	switch s {
	case "INIT":
		return StateInit
	case "SCANNING":
		return StateScanning
	case "SYNCING":
		return StateSyncing
	case "SYNCED":
		return StateSynced
	case "STOPPED":
		return StateStopped
	case "ERROR":
		return StateError
	default:
		return StateInit
	}
}
