package storage

import (
	"context"
	"io"
	"os"
	"testing"
)

func TestMemoryBackendCreateReadStat(t *testing.T) {
	b := NewMemoryBackend(false)
	ctx := context.Background()

	w, err := b.Create(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := b.Open(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q want %q", data, "hello")
	}

	fi, err := b.Stat(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size != 5 {
		t.Fatalf("got size %d want 5", fi.Size)
	}
}

func TestMemoryBackendReadOnlyRejectsWrites(t *testing.T) {
	b := NewMemoryBackend(true)
	ctx := context.Background()
	if _, err := b.Create(ctx, "/a.txt"); err == nil {
		t.Fatal("expected read-only backend to reject Create")
	}
}

func TestMemoryBackendReadDirListsFilesAndDirs(t *testing.T) {
	b := NewMemoryBackend(false)
	ctx := context.Background()
	w, _ := b.Create(ctx, "/dir/a.txt")
	w.Write([]byte("x"))
	w.Close()
	b.Mkdir(ctx, "/dir/sub")

	entries, err := b.ReadDir(ctx, "/dir")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
}

func TestLocalBackendRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "wl-storage-local-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	drv, err := NewLocalDriver(map[string]interface{}{"path": dir})
	if err != nil {
		t.Fatalf("NewLocalDriver: %v", err)
	}
	ctx := context.Background()

	w, err := drv.Create(ctx, "/hello.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Write([]byte("world"))
	w.Close()

	r, err := drv.Open(ctx, "/hello.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "world" {
		t.Fatalf("got %q want %q", data, "world")
	}
}

func TestDefaultRegistryConstructsBothDrivers(t *testing.T) {
	reg := NewDefaultRegistry()
	if _, err := reg.New("memory", nil); err != nil {
		t.Fatalf("New(memory): %v", err)
	}
	dir, err := os.MkdirTemp("", "wl-storage-registry-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)
	if _, err := reg.New("local", map[string]interface{}{"path": dir}); err != nil {
		t.Fatalf("New(local): %v", err)
	}
	if _, err := reg.New("s3", nil); err == nil {
		t.Fatal("expected unregistered type to fail")
	}
}
