// Package storage defines the StorageBackend contract every driver must
// satisfy (spec §4.5) and hosts the registry of driver constructors keyed
// by manifest "type" string — a runtime registry standing in for the
// source's dynamic class-loading entry points (spec §9 "Dynamic dispatch
// over backends").
package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pbeza/wildland-client/internal/wlerrors"
)

// EventType is one kind of watcher event (spec §4.5).
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one watcher notification.
type Event struct {
	Type EventType
	Path string
}

// FileInfo is the subset of metadata `stat` returns.
type FileInfo struct {
	Path    string
	Size    int64
	IsDir   bool
	ModTime int64 // unix seconds
}

// SubcontainerLink is a Link-like descriptor for a manifest subcontainer
// discovered by a backend that hosts them (spec §4.5 list_subcontainers).
type SubcontainerLink struct {
	ManifestPath string
	Params       map[string]interface{}
}

// Capabilities describes what a driver supports, so MountCore and SyncDaemon
// can adapt (e.g. substitute a periodic scan when a native watcher is
// unavailable, spec §4.5).
type Capabilities struct {
	ReadOnly              bool
	SupportsWatcherNative bool
	SupportsRandomWrites  bool
	SupportsSubcontainers bool
}

// Backend is the uniform file/dir I/O, watcher, and manifest-discovery
// contract every storage driver must satisfy (spec §4.5).
type Backend interface {
	Capabilities() Capabilities

	Stat(ctx context.Context, path string) (*FileInfo, error)
	ReadDir(ctx context.Context, path string) ([]FileInfo, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	Create(ctx context.Context, path string) (io.WriteCloser, error)
	Write(ctx context.Context, path string, data []byte, offset int64) error
	Truncate(ctx context.Context, path string, size int64) error
	Unlink(ctx context.Context, path string) error

	Mkdir(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error

	// Watcher starts (or, if SupportsWatcherNative is false, MountCore/
	// SyncDaemon substitute a periodic scan using WatcherInterval instead
	// of calling this) an event stream matching pattern. ignoreOwn
	// suppresses events caused by this process's own writes.
	Watcher(ctx context.Context, pattern string, ignoreOwn bool) (<-chan Event, error)

	// ListSubcontainers returns manifest subcontainer descriptors if this
	// backend hosts any (Capabilities().SupportsSubcontainers); otherwise
	// ErrBackendIO.
	ListSubcontainers(ctx context.Context) ([]SubcontainerLink, error)

	// Close releases any resources (file handles, watches, connections)
	// this backend holds open.
	Close() error
}

// Driver constructs a Backend from a manifest's type-specific Params.
type Driver func(params map[string]interface{}) (Backend, error)

// Registry maps a manifest "type" string to the Driver that constructs it,
// the Go analogue of the source's entry-point-based dynamic dispatch.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{drivers: map[string]Driver{}}
}

// Register adds or replaces the Driver for a given storage type name.
func (r *Registry) Register(storageType string, d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[storageType] = d
}

// New constructs a Backend for the given storage type and params.
func (r *Registry) New(storageType string, params map[string]interface{}) (Backend, error) {
	r.mu.RLock()
	d, ok := r.drivers[storageType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: no driver registered for type %q: %w", storageType, wlerrors.ErrBadCommand)
	}
	return d(params)
}

// Types returns every registered driver type name.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.drivers))
	for t := range r.drivers {
		out = append(out, t)
	}
	return out
}
