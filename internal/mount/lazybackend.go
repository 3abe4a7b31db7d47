package mount

import (
	"context"
	"io"
	"sync"

	"github.com/pbeza/wildland-client/internal/storage"
)

// lazyBackend defers constructing the real driver until the first I/O
// call reaches it (spec §4.6 "Lazy mount": "the backend is registered but
// its open(params) is deferred until the first read/stat into its
// subtree"). Every method resolves the real backend first.
type lazyBackend struct {
	open func() (storage.Backend, error)

	mu   sync.Mutex
	real storage.Backend
	err  error
}

func newLazyBackend(open func() (storage.Backend, error)) *lazyBackend {
	return &lazyBackend{open: open}
}

func (l *lazyBackend) resolve() (storage.Backend, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.real != nil || l.err != nil {
		return l.real, l.err
	}
	l.real, l.err = l.open()
	return l.real, l.err
}

func (l *lazyBackend) Capabilities() storage.Capabilities {
	l.mu.Lock()
	real := l.real
	l.mu.Unlock()
	if real == nil {
		// Unresolved: report the conservative default a stub directory
		// entry should advertise until the real driver is known.
		return storage.Capabilities{}
	}
	return real.Capabilities()
}

func (l *lazyBackend) Stat(ctx context.Context, path string) (*storage.FileInfo, error) {
	b, err := l.resolve()
	if err != nil {
		return nil, err
	}
	return b.Stat(ctx, path)
}

func (l *lazyBackend) ReadDir(ctx context.Context, path string) ([]storage.FileInfo, error) {
	b, err := l.resolve()
	if err != nil {
		return nil, err
	}
	return b.ReadDir(ctx, path)
}

func (l *lazyBackend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	b, err := l.resolve()
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, path)
}

func (l *lazyBackend) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	b, err := l.resolve()
	if err != nil {
		return nil, err
	}
	return b.Create(ctx, path)
}

func (l *lazyBackend) Write(ctx context.Context, path string, data []byte, offset int64) error {
	b, err := l.resolve()
	if err != nil {
		return err
	}
	return b.Write(ctx, path, data, offset)
}

func (l *lazyBackend) Truncate(ctx context.Context, path string, size int64) error {
	b, err := l.resolve()
	if err != nil {
		return err
	}
	return b.Truncate(ctx, path, size)
}

func (l *lazyBackend) Unlink(ctx context.Context, path string) error {
	b, err := l.resolve()
	if err != nil {
		return err
	}
	return b.Unlink(ctx, path)
}

func (l *lazyBackend) Mkdir(ctx context.Context, path string) error {
	b, err := l.resolve()
	if err != nil {
		return err
	}
	return b.Mkdir(ctx, path)
}

func (l *lazyBackend) Rmdir(ctx context.Context, path string) error {
	b, err := l.resolve()
	if err != nil {
		return err
	}
	return b.Rmdir(ctx, path)
}

func (l *lazyBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	b, err := l.resolve()
	if err != nil {
		return err
	}
	return b.Rename(ctx, oldPath, newPath)
}

func (l *lazyBackend) Watcher(ctx context.Context, pattern string, ignoreOwn bool) (<-chan storage.Event, error) {
	b, err := l.resolve()
	if err != nil {
		return nil, err
	}
	return b.Watcher(ctx, pattern, ignoreOwn)
}

func (l *lazyBackend) ListSubcontainers(ctx context.Context) ([]storage.SubcontainerLink, error) {
	b, err := l.resolve()
	if err != nil {
		return nil, err
	}
	return b.ListSubcontainers(ctx)
}

// Close releases the real backend if it was ever opened; canceling a
// pending open is the caller's job via context (spec §5 "unmount during a
// lazy backend open cancels the pending open").
func (l *lazyBackend) Close() error {
	l.mu.Lock()
	real := l.real
	l.mu.Unlock()
	if real == nil {
		return nil
	}
	return real.Close()
}

var _ storage.Backend = (*lazyBackend)(nil)
