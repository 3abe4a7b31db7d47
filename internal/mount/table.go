// Package mount implements MountCore, the FUSE-backed pseudo-filesystem
// that multiplexes every mounted container's storage backend under one
// tree (spec §4.6).
package mount

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pbeza/wildland-client/internal/objectmodel"
	"github.com/pbeza/wildland-client/internal/storage"
	"github.com/pbeza/wildland-client/internal/wlerrors"
)

// Entry is one mounted container: its manifest, the live backends for its
// storages (primary first), and the wire bytes MountCore serves back
// through the pseudo-manifest file (spec §4.6 ".manifest.wildland.yaml").
// Backend is Backends[0]; MountCore falls back to the remaining backends
// of the same container on a read error (spec §8 scenario 3).
type Entry struct {
	ContainerUUID string
	Container     *objectmodel.Container
	Backend       storage.Backend
	Backends      []storage.Backend
	ManifestWire  []byte
	MountPaths    []string

	// Params is the primary storage's driver params, kept around so
	// AddWatch can read a "watcher-interval" override for the periodic-scan
	// substitute (spec §4.5) without re-deriving it from the manifest.
	Params map[string]interface{}

	// Lazy records whether the entry was mounted lazily, with Backend
	// deferring its driver's construction to first use. It is set at mount
	// time and not updated once the driver opens; no stub directory entry
	// is exposed for it.
	Lazy bool
}

// Table maps mounted virtual paths to Entries. A container with several
// MountPaths() occupies several keys pointing at the same Entry.
type Table struct {
	mu      sync.RWMutex
	byPath  map[string]*Entry
	byUUID  map[string][]string // containerUUID -> mount paths, for Unmount
}

// NewTable constructs an empty mount table.
func NewTable() *Table {
	return &Table{
		byPath: make(map[string]*Entry),
		byUUID: make(map[string][]string),
	}
}

// Mount registers entry under every one of paths. Returns ErrConflict if
// any path is already occupied by a different container.
func (t *Table) Mount(paths []string, entry *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range paths {
		if existing, ok := t.byPath[p]; ok && existing.ContainerUUID != entry.ContainerUUID {
			return fmt.Errorf("mount: path %q already occupied by container %s: %w", p, existing.ContainerUUID, wlerrors.ErrConflict)
		}
	}
	for _, p := range paths {
		t.byPath[p] = entry
	}
	t.byUUID[entry.ContainerUUID] = paths
	return nil
}

// Unmount removes every path registered for containerUUID.
func (t *Table) Unmount(containerUUID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths, ok := t.byUUID[containerUUID]
	if !ok {
		return fmt.Errorf("mount: container %s not mounted: %w", containerUUID, wlerrors.ErrNotFound)
	}
	for _, p := range paths {
		delete(t.byPath, p)
	}
	delete(t.byUUID, containerUUID)
	return nil
}

// Resolve finds the mount Entry whose path is the longest prefix of
// fullPath, returning the entry and fullPath's remainder relative to that
// mount point ("" at the mount point itself).
func (t *Table) Resolve(fullPath string) (*Entry, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	best := ""
	var bestEntry *Entry
	for mountPath, entry := range t.byPath {
		if fullPath != mountPath && !strings.HasPrefix(fullPath, mountPath+"/") {
			continue
		}
		if len(mountPath) > len(best) {
			best = mountPath
			bestEntry = entry
		}
	}
	if bestEntry == nil {
		return nil, "", false
	}
	rel := strings.TrimPrefix(fullPath, best)
	rel = strings.TrimPrefix(rel, "/")
	return bestEntry, rel, true
}

// Children lists the immediate path segments mounted directly under
// dirPath (direct mount points only, not backend-internal entries), for
// populating ReadDirAll on directories above any mount point.
func (t *Table) Children(dirPath string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	prefix := dirPath
	if prefix != "/" {
		prefix += "/"
	} else {
		prefix = "/"
	}

	seen := map[string]bool{}
	var out []string
	for mountPath := range t.byPath {
		if !strings.HasPrefix(mountPath, prefix) || mountPath == dirPath {
			continue
		}
		rest := strings.TrimPrefix(mountPath, prefix)
		segment := strings.SplitN(rest, "/", 2)[0]
		if segment == "" || seen[segment] {
			continue
		}
		seen[segment] = true
		out = append(out, segment)
	}
	return out
}

// MountedPaths returns every currently occupied virtual path, for the
// "paths" control command (spec §6).
func (t *Table) MountedPaths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.byPath))
	for p := range t.byPath {
		out = append(out, p)
	}
	return out
}

// ClearCache drops no state of its own: MountCore keeps no read cache
// beyond what each backend driver caches internally, so "clear-cache"
// (spec §6) is a no-op at the Table layer today, kept as an explicit
// method so a future cache layer has one place to hook in.
func (t *Table) ClearCache() {}

// Entries returns every currently mounted Entry, deduplicated by
// ContainerUUID, for listing and sync-daemon discovery.
func (t *Table) Entries() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := map[string]bool{}
	var out []*Entry
	for _, e := range t.byPath {
		if seen[e.ContainerUUID] {
			continue
		}
		seen[e.ContainerUUID] = true
		out = append(out, e)
	}
	return out
}
