package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"

	"github.com/pbeza/wildland-client/internal/wlerrors"
)

var log = logging.Logger("wl-storage")

// LocalBackend maps a container 1:1 onto a directory on the local
// filesystem. It is the reference driver exercising fsnotify's native
// watcher support (spec §4.5 "supports-watcher-native").
type LocalBackend struct {
	root     string
	readOnly bool
	watcher  *fsnotify.Watcher
}

// NewLocalDriver returns a Driver for storage type "local", reading `path`
// and `read-only` out of the manifest's Params.
func NewLocalDriver(params map[string]interface{}) (Backend, error) {
	root, _ := params["path"].(string)
	if root == "" {
		return nil, fmt.Errorf("storage: local backend requires params.path: %w", wlerrors.ErrSchema)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("storage: create local root %s: %w", root, err)
	}
	readOnly, _ := params["read-only"].(bool)
	return &LocalBackend{root: root, readOnly: readOnly}, nil
}

func (b *LocalBackend) Capabilities() Capabilities {
	return Capabilities{
		ReadOnly:              b.readOnly,
		SupportsWatcherNative: true,
		SupportsRandomWrites:  true,
	}
}

func (b *LocalBackend) abs(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	full := filepath.Join(b.root, clean)
	if !strings.HasPrefix(full, filepath.Clean(b.root)) {
		return "", fmt.Errorf("storage: path escapes backend root: %w", wlerrors.ErrBackendIO)
	}
	return full, nil
}

func (b *LocalBackend) Stat(ctx context.Context, path string) (*FileInfo, error) {
	full, err := b.abs(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("storage: stat %s: %w", path, wlerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", path, wlerrors.ErrBackendIO)
	}
	return &FileInfo{Path: path, Size: fi.Size(), IsDir: fi.IsDir(), ModTime: fi.ModTime().Unix()}, nil
}

func (b *LocalBackend) ReadDir(ctx context.Context, path string) ([]FileInfo, error) {
	full, err := b.abs(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("storage: readdir %s: %w", path, wlerrors.ErrBackendIO)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Path:    filepath.Join(path, e.Name()),
			Size:    info.Size(),
			IsDir:   e.IsDir(),
			ModTime: info.ModTime().Unix(),
		})
	}
	return out, nil
}

func (b *LocalBackend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := b.abs(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("storage: open %s: %w", path, wlerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, wlerrors.ErrBackendIO)
	}
	return f, nil
}

func (b *LocalBackend) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	if b.readOnly {
		return nil, fmt.Errorf("storage: create %s: %w", path, wlerrors.ErrReadOnly)
	}
	full, err := b.abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("storage: create parent dirs for %s: %w", path, wlerrors.ErrBackendIO)
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", path, wlerrors.ErrBackendIO)
	}
	return f, nil
}

func (b *LocalBackend) Write(ctx context.Context, path string, data []byte, offset int64) error {
	if b.readOnly {
		return fmt.Errorf("storage: write %s: %w", path, wlerrors.ErrReadOnly)
	}
	full, err := b.abs(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("storage: write %s: %w", path, wlerrors.ErrBackendIO)
	}
	defer f.Close()
	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, wlerrors.ErrBackendIO)
	}
	return nil
}

func (b *LocalBackend) Truncate(ctx context.Context, path string, size int64) error {
	if b.readOnly {
		return fmt.Errorf("storage: truncate %s: %w", path, wlerrors.ErrReadOnly)
	}
	full, err := b.abs(path)
	if err != nil {
		return err
	}
	if err := os.Truncate(full, size); err != nil {
		return fmt.Errorf("storage: truncate %s: %w", path, wlerrors.ErrBackendIO)
	}
	return nil
}

func (b *LocalBackend) Unlink(ctx context.Context, path string) error {
	if b.readOnly {
		return fmt.Errorf("storage: unlink %s: %w", path, wlerrors.ErrReadOnly)
	}
	full, err := b.abs(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("storage: unlink %s: %w", path, wlerrors.ErrBackendIO)
	}
	return nil
}

func (b *LocalBackend) Mkdir(ctx context.Context, path string) error {
	if b.readOnly {
		return fmt.Errorf("storage: mkdir %s: %w", path, wlerrors.ErrReadOnly)
	}
	full, err := b.abs(path)
	if err != nil {
		return err
	}
	if err := os.Mkdir(full, 0755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", path, wlerrors.ErrBackendIO)
	}
	return nil
}

func (b *LocalBackend) Rmdir(ctx context.Context, path string) error {
	if b.readOnly {
		return fmt.Errorf("storage: rmdir %s: %w", path, wlerrors.ErrReadOnly)
	}
	full, err := b.abs(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("storage: rmdir %s: %w", path, wlerrors.ErrBackendIO)
	}
	return nil
}

func (b *LocalBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	if b.readOnly {
		return fmt.Errorf("storage: rename %s: %w", oldPath, wlerrors.ErrReadOnly)
	}
	oldFull, err := b.abs(oldPath)
	if err != nil {
		return err
	}
	newFull, err := b.abs(newPath)
	if err != nil {
		return err
	}
	if err := os.Rename(oldFull, newFull); err != nil {
		return fmt.Errorf("storage: rename %s -> %s: %w", oldPath, newPath, wlerrors.ErrBackendIO)
	}
	return nil
}

// Watcher starts an fsnotify watch on the backend root, filtering to events
// whose path matches pattern (a filepath.Match glob against the relative
// path). ignoreOwn is honored on a best-effort basis by the caller: this
// backend has no concept of "our own writes" beyond what fsnotify reports.
func (b *LocalBackend) Watcher(ctx context.Context, pattern string, ignoreOwn bool) (<-chan Event, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("storage: create watcher: %w", wlerrors.ErrBackendIO)
	}
	if err := w.Add(b.root); err != nil {
		w.Close()
		return nil, fmt.Errorf("storage: watch %s: %w", b.root, wlerrors.ErrBackendIO)
	}
	b.watcher = w

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				rel, err := filepath.Rel(b.root, ev.Name)
				if err != nil {
					continue
				}
				if pattern != "" {
					if matched, _ := filepath.Match(pattern, rel); !matched {
						continue
					}
				}
				et, ok := translateOp(ev.Op)
				if !ok {
					continue
				}
				select {
				case out <- Event{Type: et, Path: "/" + rel}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("local backend watcher error on %s: %v", b.root, err)
			}
		}
	}()
	return out, nil
}

func translateOp(op fsnotify.Op) (EventType, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return EventCreate, true
	case op&fsnotify.Write != 0:
		return EventModify, true
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return EventDelete, true
	default:
		return 0, false
	}
}

func (b *LocalBackend) ListSubcontainers(ctx context.Context) ([]SubcontainerLink, error) {
	return nil, fmt.Errorf("storage: local backend does not host subcontainers: %w", wlerrors.ErrBackendIO)
}

func (b *LocalBackend) Close() error {
	if b.watcher != nil {
		return b.watcher.Close()
	}
	return nil
}
