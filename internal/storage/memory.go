package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pbeza/wildland-client/internal/wlerrors"
)

// MemoryBackend is an in-memory Backend with no native watcher, used for
// tests and as the reference "periodic scan substitute" driver (spec §4.5:
// "Missing native watcher → core substitutes a periodic scan using
// watcher-interval").
type MemoryBackend struct {
	mu       sync.RWMutex
	files    map[string][]byte
	dirs     map[string]bool
	readOnly bool
	modTime  map[string]time.Time
}

// NewMemoryDriver returns a Driver for storage type "memory".
func NewMemoryDriver(params map[string]interface{}) (Backend, error) {
	readOnly, _ := params["read-only"].(bool)
	return NewMemoryBackend(readOnly), nil
}

// NewMemoryBackend constructs an empty MemoryBackend directly (used by
// tests that want a handle to preload files).
func NewMemoryBackend(readOnly bool) *MemoryBackend {
	return &MemoryBackend{
		files:    map[string][]byte{},
		dirs:     map[string]bool{"/": true},
		readOnly: readOnly,
		modTime:  map[string]time.Time{},
	}
}

func (b *MemoryBackend) Capabilities() Capabilities {
	return Capabilities{ReadOnly: b.readOnly, SupportsWatcherNative: false, SupportsRandomWrites: true}
}

func clean(p string) string {
	c := path.Clean("/" + p)
	return c
}

func (b *MemoryBackend) Stat(ctx context.Context, p string) (*FileInfo, error) {
	p = clean(p)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if data, ok := b.files[p]; ok {
		return &FileInfo{Path: p, Size: int64(len(data)), ModTime: b.modTime[p].Unix()}, nil
	}
	if b.dirs[p] {
		return &FileInfo{Path: p, IsDir: true}, nil
	}
	return nil, fmt.Errorf("storage: stat %s: %w", p, wlerrors.ErrNotFound)
}

func (b *MemoryBackend) ReadDir(ctx context.Context, p string) ([]FileInfo, error) {
	p = clean(p)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.dirs[p] {
		return nil, fmt.Errorf("storage: readdir %s: %w", p, wlerrors.ErrNotFound)
	}
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	seen := map[string]bool{}
	var out []FileInfo
	for fp, data := range b.files {
		if !strings.HasPrefix(fp, prefix) {
			continue
		}
		rest := strings.TrimPrefix(fp, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, FileInfo{Path: fp, Size: int64(len(data)), ModTime: b.modTime[fp].Unix()})
	}
	for dp := range b.dirs {
		if dp == p || !strings.HasPrefix(dp, prefix) {
			continue
		}
		rest := strings.TrimPrefix(dp, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		if seen[dp] {
			continue
		}
		seen[dp] = true
		out = append(out, FileInfo{Path: dp, IsDir: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *MemoryBackend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	p = clean(p)
	b.mu.RLock()
	data, ok := b.files[p]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: open %s: %w", p, wlerrors.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type memWriter struct {
	b    *MemoryBackend
	path string
	buf  bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriter) Close() error {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	w.b.files[w.path] = append([]byte{}, w.buf.Bytes()...)
	w.b.modTime[w.path] = time.Now()
	w.b.addParentDirsLocked(w.path)
	return nil
}

// addParentDirsLocked registers every ancestor directory of p so ReadDir
// can list it. Callers hold b.mu.
func (b *MemoryBackend) addParentDirsLocked(p string) {
	for d := path.Dir(p); d != "/" && !b.dirs[d]; d = path.Dir(d) {
		b.dirs[d] = true
	}
}

func (b *MemoryBackend) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	if b.readOnly {
		return nil, fmt.Errorf("storage: create %s: %w", p, wlerrors.ErrReadOnly)
	}
	p = clean(p)
	return &memWriter{b: b, path: p}, nil
}

func (b *MemoryBackend) Write(ctx context.Context, p string, data []byte, offset int64) error {
	if b.readOnly {
		return fmt.Errorf("storage: write %s: %w", p, wlerrors.ErrReadOnly)
	}
	p = clean(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	existing := b.files[p]
	need := int(offset) + len(data)
	if need > len(existing) {
		grown := make([]byte, need)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[offset:], data)
	b.files[p] = existing
	b.modTime[p] = time.Now()
	b.addParentDirsLocked(p)
	return nil
}

func (b *MemoryBackend) Truncate(ctx context.Context, p string, size int64) error {
	if b.readOnly {
		return fmt.Errorf("storage: truncate %s: %w", p, wlerrors.ErrReadOnly)
	}
	p = clean(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[p]
	if !ok {
		return fmt.Errorf("storage: truncate %s: %w", p, wlerrors.ErrNotFound)
	}
	if int64(len(data)) >= size {
		b.files[p] = data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, data)
		b.files[p] = grown
	}
	return nil
}

func (b *MemoryBackend) Unlink(ctx context.Context, p string) error {
	if b.readOnly {
		return fmt.Errorf("storage: unlink %s: %w", p, wlerrors.ErrReadOnly)
	}
	p = clean(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[p]; !ok {
		return fmt.Errorf("storage: unlink %s: %w", p, wlerrors.ErrNotFound)
	}
	delete(b.files, p)
	delete(b.modTime, p)
	return nil
}

func (b *MemoryBackend) Mkdir(ctx context.Context, p string) error {
	if b.readOnly {
		return fmt.Errorf("storage: mkdir %s: %w", p, wlerrors.ErrReadOnly)
	}
	p = clean(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirs[p] = true
	b.addParentDirsLocked(p)
	return nil
}

func (b *MemoryBackend) Rmdir(ctx context.Context, p string) error {
	if b.readOnly {
		return fmt.Errorf("storage: rmdir %s: %w", p, wlerrors.ErrReadOnly)
	}
	p = clean(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.dirs, p)
	return nil
}

func (b *MemoryBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	if b.readOnly {
		return fmt.Errorf("storage: rename %s: %w", oldPath, wlerrors.ErrReadOnly)
	}
	oldPath, newPath = clean(oldPath), clean(newPath)
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[oldPath]
	if !ok {
		return fmt.Errorf("storage: rename %s: %w", oldPath, wlerrors.ErrNotFound)
	}
	delete(b.files, oldPath)
	delete(b.modTime, oldPath)
	b.files[newPath] = data
	b.modTime[newPath] = time.Now()
	b.addParentDirsLocked(newPath)
	return nil
}

// Watcher is unsupported: MemoryBackend declares SupportsWatcherNative:
// false, so callers are expected to poll via WatcherInterval instead.
func (b *MemoryBackend) Watcher(ctx context.Context, pattern string, ignoreOwn bool) (<-chan Event, error) {
	return nil, fmt.Errorf("storage: memory backend has no native watcher: %w", wlerrors.ErrBackendIO)
}

func (b *MemoryBackend) ListSubcontainers(ctx context.Context) ([]SubcontainerLink, error) {
	return nil, fmt.Errorf("storage: memory backend does not host subcontainers: %w", wlerrors.ErrBackendIO)
}

func (b *MemoryBackend) Close() error { return nil }

// Snapshot returns a {path: content} copy of every file.
func (b *MemoryBackend) Snapshot() map[string][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]byte, len(b.files))
	for k, v := range b.files {
		out[k] = append([]byte{}, v...)
	}
	return out
}

// ModTimeOf returns the last-write time recorded for path.
func (b *MemoryBackend) ModTimeOf(p string) time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.modTime[clean(p)]
}
