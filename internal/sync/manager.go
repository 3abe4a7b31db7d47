package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pbeza/wildland-client/internal/storage"
	"github.com/pbeza/wildland-client/internal/wlerrors"
)

// runningJob tracks the goroutine driving one active Job: its cancel func,
// backends, and the (spec §4.7 "active-events") event-type filter applied
// to its watchers.
type runningJob struct {
	cancel       context.CancelFunc
	source       storage.Backend
	target       storage.Backend
	sourceParams map[string]interface{}
	targetParams map[string]interface{}
	continuous   bool
	activeEvents map[storage.EventType]bool
}

// Manager is SyncDaemon's process-wide job table (spec §4.7/§6): it
// instantiates backends through the storage.Registry, drives each job's
// Engine, and answers the control socket's start/stop/stop-all/job-state/
// status/test-error/shutdown commands.
type Manager struct {
	store    *JobStore
	registry *storage.Registry

	mu   sync.Mutex
	jobs map[JobID]*runningJob
}

// NewManager builds a Manager backed by store, instantiating backends
// through registry.
func NewManager(store *JobStore, registry *storage.Registry) *Manager {
	return &Manager{store: store, registry: registry, jobs: make(map[JobID]*runningJob)}
}

// EndpointSpec is one side of a "start" command's source/target argument:
// a storage type string plus its driver-specific params (spec §6).
type EndpointSpec struct {
	Type   string
	Params map[string]interface{}
}

// StartParams mirrors the sync-commands.json "start" argument shape.
type StartParams struct {
	JobID          JobID
	Owner          string
	ContainerUUID  string
	Source         EndpointSpec
	Target         EndpointSpec
	Continuous     bool
	Unidirectional bool
	ActiveEvents   []string
}

// Start instantiates both endpoints, creates (or resumes) the job row, and
// launches its driving goroutine. Starting an already-running job fails
// with ErrJobAlreadyExist.
func (m *Manager) Start(ctx context.Context, p StartParams) (*Job, error) {
	m.mu.Lock()
	if _, ok := m.jobs[p.JobID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("sync: start %s: %w", p.JobID, wlerrors.ErrJobAlreadyExist)
	}
	m.mu.Unlock()

	source, err := m.registry.New(p.Source.Type, p.Source.Params)
	if err != nil {
		return nil, fmt.Errorf("sync: build source backend: %w", err)
	}
	target, err := m.registry.New(p.Target.Type, p.Target.Params)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("sync: build target backend: %w", err)
	}

	job := &Job{
		ID:             p.JobID,
		Owner:          p.Owner,
		ContainerUUID:  p.ContainerUUID,
		SourceID:       p.Source.Type,
		TargetID:       p.Target.Type,
		Unidirectional: p.Unidirectional,
		State:          StateInit,
	}
	if err := m.store.Put(job); err != nil {
		source.Close()
		target.Close()
		return nil, err
	}

	rj := &runningJob{
		source:       source,
		target:       target,
		sourceParams: p.Source.Params,
		targetParams: p.Target.Params,
		continuous:   p.Continuous,
		activeEvents: parseEventFilter(p.ActiveEvents),
	}
	jobCtx, cancel := context.WithCancel(ctx)
	rj.cancel = cancel

	m.mu.Lock()
	m.jobs[p.JobID] = rj
	m.mu.Unlock()

	go m.drive(jobCtx, job, rj)

	return job, nil
}

// drive runs job to SYNCED, then — if continuous — attaches watchers on
// both backends and re-enters SYNCING on every filtered-in event, looping
// until the job is stopped or its context is canceled (spec §4.7 state
// machine SYNCED<->SYNCING edge).
func (m *Manager) drive(ctx context.Context, job *Job, rj *runningJob) {
	eng := NewEngine(job, m.store, rj.source, rj.target)
	if err := eng.Run(ctx); err != nil {
		log.Warnf("sync: job %s: %v", job.ID, err)
		if !rj.continuous {
			return
		}
	}
	if !rj.continuous {
		return
	}

	sourceEvents, err := startWatcher(ctx, rj.source, rj.sourceParams)
	if err != nil {
		log.Warnf("sync: job %s: source watcher: %v", job.ID, err)
		return
	}
	targetEvents, err := startWatcher(ctx, rj.target, rj.targetParams)
	if err != nil {
		log.Warnf("sync: job %s: target watcher: %v", job.ID, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sourceEvents:
			if !m.eventAllowed(rj, ev.Type) {
				continue
			}
			m.resync(ctx, job, rj, deleteHint(ev, true))
		case ev := <-targetEvents:
			if !m.eventAllowed(rj, ev.Type) {
				continue
			}
			m.resync(ctx, job, rj, deleteHint(ev, false))
		}
	}
}

// deleteHint converts a watcher Event into the Engine's DeleteHint only
// when it actually reports a deletion (spec §4.7 delete-propagation rule).
func deleteHint(ev storage.Event, fromSource bool) *DeleteHint {
	if ev.Type != storage.EventDelete {
		return nil
	}
	return &DeleteHint{Path: ev.Path, FromSource: fromSource}
}

func (m *Manager) eventAllowed(rj *runningJob, t storage.EventType) bool {
	if len(rj.activeEvents) == 0 {
		return true
	}
	return rj.activeEvents[t]
}

func (m *Manager) resync(ctx context.Context, job *Job, rj *runningJob, deleted *DeleteHint) {
	eng := NewEngine(job, m.store, rj.source, rj.target)
	if err := eng.Resync(ctx, deleted); err != nil {
		log.Warnf("sync: job %s: resync: %v", job.ID, err)
	}
}

// startWatcher gives the job's driving goroutine an event stream for b: a
// native one if b supports it, otherwise the periodic-scan substitute
// (spec §4.5 "Missing native watcher -> core substitutes a periodic scan
// using watcher-interval"), timed from the storage manifest's
// "watcher-interval" param.
func startWatcher(ctx context.Context, b storage.Backend, params map[string]interface{}) (<-chan storage.Event, error) {
	if b.Capabilities().SupportsWatcherNative {
		return b.Watcher(ctx, "", true)
	}
	return storage.PollWatcher(ctx, b, "/", watcherIntervalFrom(params))
}

// watcherIntervalFrom reads "watcher-interval" (seconds) out of a storage
// endpoint's params, falling back to storage.DefaultWatcherInterval when
// absent or non-positive. gjson decodes JSON numbers as float64, so that's
// the shape actually seen from the control socket.
func watcherIntervalFrom(params map[string]interface{}) time.Duration {
	switch v := params["watcher-interval"].(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return storage.DefaultWatcherInterval
}

func parseEventFilter(names []string) map[storage.EventType]bool {
	if len(names) == 0 {
		return nil
	}
	out := make(map[storage.EventType]bool, len(names))
	for _, n := range names {
		switch n {
		case "create":
			out[storage.EventCreate] = true
		case "modify":
			out[storage.EventModify] = true
		case "delete":
			out[storage.EventDelete] = true
		}
	}
	return out
}

// ActiveEvents updates the running job's event-type filter (spec §6
// "active-events").
func (m *Manager) ActiveEvents(id JobID, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rj, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("sync: active-events %s: %w", id, wlerrors.ErrJobNotFound)
	}
	rj.activeEvents = parseEventFilter(names)
	return nil
}

// Stop cancels job's driving goroutine and transitions it to STOPPED.
func (m *Manager) Stop(id JobID) error {
	m.mu.Lock()
	rj, ok := m.jobs[id]
	if ok {
		delete(m.jobs, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("sync: stop %s: %w", id, wlerrors.ErrJobNotFound)
	}
	rj.cancel()
	rj.source.Close()
	rj.target.Close()

	job, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if err := job.Transition(StateStopped); err != nil {
		return err
	}
	return m.store.Put(job)
}

// StopAll stops every running job (spec §6 "stop-all", used by shutdown).
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]JobID, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.Stop(id); err != nil {
			log.Warnf("sync: stop-all: %s: %v", id, err)
		}
	}
}

// TestError injects a synthetic ERROR into job, for test-suite use (spec
// §4.7 "test-error").
func (m *Manager) TestError(id JobID, message string) error {
	job, err := m.store.Get(id)
	if err != nil {
		return err
	}
	job.LastError = message
	if err := job.Transition(StateError); err != nil {
		return err
	}
	return m.store.Put(job)
}

// Running reports whether id currently has a live driving goroutine.
func (m *Manager) Running(id JobID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[id]
	return ok
}

// RunningIDs returns the IDs of all currently running jobs, for "status".
func (m *Manager) RunningIDs() []JobID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]JobID, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	return ids
}
