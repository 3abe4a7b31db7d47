package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elgris/jsondiff"
	"golang.org/x/sync/semaphore"

	"github.com/pbeza/wildland-client/internal/storage"
)

// Engine runs one Job to completion: scan and hash both sides, push
// last-writer-wins changes, and record each copied path in the job's file
// index (spec §4.7). The stored index is written only; scans do not read it
// back.
type Engine struct {
	job    *Job
	store  *JobStore
	source storage.Backend
	target storage.Backend
	retry  backoff.BackOff
}

// NewEngine builds an Engine for job, replicating between source and
// target backends.
func NewEngine(job *Job, store *JobStore, source, target storage.Backend) *Engine {
	return &Engine{
		job:    job,
		store:  store,
		source: source,
		target: target,
		retry:  backoff.NewExponentialBackOff(),
	}
}

// snapshot is one backend's current path -> (hash, mtime) view.
type snapshot map[string]fileState

type fileState struct {
	Hash  string `json:"hash"`
	Mtime int64  `json:"mtime"`
}

func scanBackend(ctx context.Context, b storage.Backend, root string) (snapshot, error) {
	out := make(snapshot)
	var walk func(path string) error
	walk = func(path string) error {
		entries, err := b.ReadDir(ctx, path)
		if err != nil {
			return fmt.Errorf("sync: readdir %s: %w", path, err)
		}
		for _, fi := range entries {
			if fi.IsDir {
				if err := walk(fi.Path); err != nil {
					return err
				}
				continue
			}
			r, err := b.Open(ctx, fi.Path)
			if err != nil {
				return fmt.Errorf("sync: open %s: %w", fi.Path, err)
			}
			h := sha256.New()
			_, copyErr := io.Copy(h, r)
			r.Close()
			if copyErr != nil {
				return fmt.Errorf("sync: hash %s: %w", fi.Path, copyErr)
			}
			out[fi.Path] = fileState{Hash: hex.EncodeToString(h.Sum(nil)), Mtime: fi.ModTime}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}

// Diagnostics returns a human-readable diff between two scans of the same
// job, built with jsondiff the way operators inspect schema drift
// elsewhere in the stack.
func Diagnostics(before, after snapshot) (string, error) {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return "", fmt.Errorf("sync: marshal before snapshot: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return "", fmt.Errorf("sync: marshal after snapshot: %w", err)
	}
	var beforeVal, afterVal interface{}
	if err := json.Unmarshal(beforeJSON, &beforeVal); err != nil {
		return "", fmt.Errorf("sync: unmarshal before snapshot: %w", err)
	}
	if err := json.Unmarshal(afterJSON, &afterVal); err != nil {
		return "", fmt.Errorf("sync: unmarshal after snapshot: %w", err)
	}
	d := jsondiff.Compare(beforeVal, afterVal)
	return d.String(), nil
}

// Run executes one full scan-and-sync pass starting from INIT, advancing
// the job's state machine INIT->SCANNING->SYNCING->SYNCED and persisting it
// after every transition (spec §4.7).
func (e *Engine) Run(ctx context.Context) error {
	if err := e.job.Transition(StateScanning); err != nil {
		return err
	}
	e.persist()
	return e.scanAndSync(ctx, nil)
}

// Resync re-enters SYNCING directly from SYNCED on a watcher event and
// repeats the scan-and-sync pass (spec §4.7 "SYNCED -> SYNCING: a watcher
// event arrives"), skipping the INIT->SCANNING leg since the job is
// already indexed from a prior Run. deleted carries the watcher event that
// triggered this resync, if it was a delete, so reconcile can tell a
// confirmed deletion apart from a path merely missing on one side (spec
// §4.7 "Deletes propagate only if the deleting side's watcher reported the
// event").
func (e *Engine) Resync(ctx context.Context, deleted *DeleteHint) error {
	if err := e.job.Transition(StateSyncing); err != nil {
		return err
	}
	e.persist()
	return e.scanAndSync(ctx, deleted)
}

// DeleteHint names a path a backend's watcher reported removed, and which
// side (source or target) reported it.
type DeleteHint struct {
	Path       string
	FromSource bool
}

// scanAndSync does the actual scan-diff-reconcile work shared by Run and
// Resync, finishing in SYNCED (or ERROR on failure).
func (e *Engine) scanAndSync(ctx context.Context, deleted *DeleteHint) error {
	sourceSnap, err := scanBackend(ctx, e.source, "/")
	if err != nil {
		return e.fail(err)
	}
	targetSnap, err := scanBackend(ctx, e.target, "/")
	if err != nil {
		return e.fail(err)
	}

	if e.job.State != StateSyncing {
		if err := e.job.Transition(StateSyncing); err != nil {
			return err
		}
		e.persist()
	}

	if err := backoff.Retry(func() error {
		return e.reconcile(ctx, sourceSnap, targetSnap, deleted)
	}, e.retry); err != nil {
		return e.fail(err)
	}

	if err := e.job.Transition(StateSynced); err != nil {
		return err
	}
	e.persist()
	return nil
}

// reconcile pushes sourceSnap's view onto the target (and, unless the job
// is Unidirectional, vice versa), resolving conflicts by last-writer-wins
// with a hash tiebreak (spec §4.7 conflict resolution). A path missing from
// one side is normally treated as "never seen there" and re-created from
// the other side — UNLESS deleted names that exact path and confirms a
// watcher actually observed its removal, in which case the deletion is
// propagated to the other side instead (spec §4.7 delete-propagation rule,
// preventing a startup scan from destroying data it never watched).
func (e *Engine) reconcile(ctx context.Context, sourceSnap, targetSnap snapshot, deleted *DeleteHint) error {
	if deleted != nil {
		if deleted.FromSource {
			if _, stillOnSource := sourceSnap[deleted.Path]; !stillOnSource {
				if _, onTarget := targetSnap[deleted.Path]; onTarget {
					if err := deleteFile(ctx, e.target, deleted.Path); err != nil {
						return err
					}
					delete(targetSnap, deleted.Path)
				}
			}
		} else if !e.job.Unidirectional {
			if _, stillOnTarget := targetSnap[deleted.Path]; !stillOnTarget {
				if _, onSource := sourceSnap[deleted.Path]; onSource {
					if err := deleteFile(ctx, e.source, deleted.Path); err != nil {
						return err
					}
					delete(sourceSnap, deleted.Path)
				}
			}
		}
	}

	for path, sState := range sourceSnap {
		tState, existsOnTarget := targetSnap[path]
		if existsOnTarget && !sourceWins(sState, tState) {
			continue
		}
		if err := copyFile(ctx, e.source, e.target, path); err != nil {
			return err
		}
		if err := e.store.PutFileRecord(e.job.ID, FileRecord{
			Path: path, SourceHash: sState.Hash, TargetHash: sState.Hash,
			SourceMtime: sState.Mtime, TargetMtime: time.Now().Unix(),
		}); err != nil {
			return err
		}
	}

	if e.job.Unidirectional {
		return nil
	}
	for path, tState := range targetSnap {
		if sState, existsOnSource := sourceSnap[path]; existsOnSource && !sourceWins(tState, sState) {
			continue
		}
		if err := copyFile(ctx, e.target, e.source, path); err != nil {
			return err
		}
		if err := e.store.PutFileRecord(e.job.ID, FileRecord{
			Path: path, SourceHash: tState.Hash, TargetHash: tState.Hash,
			SourceMtime: time.Now().Unix(), TargetMtime: tState.Mtime,
		}); err != nil {
			return err
		}
	}
	return nil
}

func deleteFile(ctx context.Context, b storage.Backend, path string) error {
	if err := b.Unlink(ctx, path); err != nil {
		return fmt.Errorf("sync: propagate delete %s: %w", path, err)
	}
	return nil
}

// sourceWins decides, for a path present on both sides with different
// hashes, whether the source copy should overwrite the target: the more
// recent mtime wins, and ties break on the lexicographically greater hash
// so both daemons converge on the same winner independently (spec §4.7
// conflict resolution).
func sourceWins(source, target fileState) bool {
	if source.Hash == target.Hash {
		return false
	}
	if source.Mtime != target.Mtime {
		return source.Mtime > target.Mtime
	}
	return source.Hash > target.Hash
}

func copyFile(ctx context.Context, from, to storage.Backend, path string) error {
	r, err := from.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("sync: open source %s: %w", path, err)
	}
	defer r.Close()
	w, err := to.Create(ctx, path)
	if err != nil {
		return fmt.Errorf("sync: create target %s: %w", path, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("sync: copy %s: %w", path, err)
	}
	return w.Close()
}

func (e *Engine) fail(err error) error {
	e.job.LastError = err.Error()
	e.job.Transition(StateError)
	e.persist()
	return err
}

func (e *Engine) persist() {
	if err := e.store.Put(e.job); err != nil {
		log.Warnf("sync: persist job %s: %v", e.job.ID, err)
	}
}

// Daemon runs a bounded pool of concurrent job Engines (spec §4.7 "multiple
// sync jobs may run concurrently"), using a weighted semaphore to cap
// parallelism the way the rest of the stack bounds its worker pools.
type Daemon struct {
	store *JobStore
	sem   *semaphore.Weighted
}

// NewDaemon constructs a Daemon backed by store, running at most
// maxConcurrent jobs at once.
func NewDaemon(store *JobStore, maxConcurrent int64) *Daemon {
	return &Daemon{store: store, sem: semaphore.NewWeighted(maxConcurrent)}
}

// RunJob blocks until a concurrency slot is free, then runs one Engine
// pass for job.
func (d *Daemon) RunJob(ctx context.Context, job *Job, source, target storage.Backend) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("sync: acquire slot for %s: %w", job.ID, err)
	}
	defer d.sem.Release(1)

	eng := NewEngine(job, d.store, source, target)
	return eng.Run(ctx)
}

// Stop transitions job to STOPPED, halting further scans (spec §4.7
// "active-events" filtering and job cancellation).
func (d *Daemon) Stop(job *Job) error {
	if err := job.Transition(StateStopped); err != nil {
		return err
	}
	return d.store.Put(job)
}
