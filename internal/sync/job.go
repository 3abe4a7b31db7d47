// Package sync implements SyncDaemon (spec §4.7): per-container replication
// jobs driven by a state machine and backed by a durable SQLite file index,
// following the sqlite-backed store style of
// sdn-server/internal/storage/flatsql.go.
package sync

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("wl-sync")

// State is one node in a job's lifecycle (spec §4.7 state machine).
type State int

const (
	StateInit State = iota
	StateScanning
	StateSyncing
	StateSynced
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateScanning:
		return "SCANNING"
	case StateSyncing:
		return "SYNCING"
	case StateSynced:
		return "SYNCED"
	case StateStopped:
		return "STOPPED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// validTransitions enumerates the state machine's edges (spec §4.7:
// INIT->SCANNING->SYNCING<->SYNCED->STOPPED/ERROR).
var validTransitions = map[State][]State{
	StateInit:     {StateScanning, StateError, StateStopped},
	StateScanning: {StateSyncing, StateError, StateStopped},
	StateSyncing:  {StateSynced, StateError, StateStopped},
	StateSynced:   {StateSyncing, StateStopped, StateError},
	StateStopped:  {},
	StateError:    {StateScanning, StateStopped},
}

func (s State) canTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// JobID is "<owner>|<container-uuid>" (spec §4.7), unique per replicated
// container per owner.
type JobID string

// NewJobID builds the canonical job identifier.
func NewJobID(owner, containerUUID string) JobID {
	return JobID(owner + "|" + containerUUID)
}

// Job is one sync engine's worth of state: two storage endpoints (source
// and target backend IDs) kept in sync for one container, plus its current
// lifecycle state and last error if any.
type Job struct {
	ID            JobID
	Owner         string
	ContainerUUID string
	SourceID      string
	TargetID      string
	Unidirectional bool
	State         State
	LastError     string
}

// Transition moves a job to next, rejecting edges the state machine
// doesn't allow.
func (j *Job) Transition(next State) error {
	if !j.State.canTransitionTo(next) {
		return fmt.Errorf("sync: job %s cannot transition %s -> %s", j.ID, j.State, next)
	}
	j.State = next
	return nil
}
