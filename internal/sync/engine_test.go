package sync

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/pbeza/wildland-client/internal/storage"
)

func writeFile(t *testing.T, b storage.Backend, path, content string) {
	t.Helper()
	w, err := b.Create(context.Background(), path)
	if err != nil {
		t.Fatalf("Create %s: %v", path, err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("Write %s: %v", path, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close %s: %v", path, err)
	}
}

func TestEngineRunPropagatesSourceFileToTarget(t *testing.T) {
	dir, err := os.MkdirTemp("", "wl-sync-engine-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := OpenJobStore(dir)
	if err != nil {
		t.Fatalf("OpenJobStore: %v", err)
	}
	defer store.Close()

	source := storage.NewMemoryBackend(false)
	target := storage.NewMemoryBackend(false)
	writeFile(t, source, "/hello.txt", "hello world")

	job := &Job{
		ID:            NewJobID("0xalice", "uuid-1"),
		Owner:         "0xalice",
		ContainerUUID: "uuid-1",
		State:         StateInit,
	}
	eng := NewEngine(job, store, source, target)
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.State != StateSynced {
		t.Fatalf("expected job to reach SYNCED, got %s", job.State)
	}

	r, err := target.Open(context.Background(), "/hello.txt")
	if err != nil {
		t.Fatalf("target.Open: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("got %q want %q", data, "hello world")
	}
}

func TestEngineUnidirectionalDoesNotPullFromTarget(t *testing.T) {
	dir, err := os.MkdirTemp("", "wl-sync-engine-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := OpenJobStore(dir)
	if err != nil {
		t.Fatalf("OpenJobStore: %v", err)
	}
	defer store.Close()

	source := storage.NewMemoryBackend(false)
	target := storage.NewMemoryBackend(false)
	writeFile(t, target, "/target-only.txt", "only on target")

	job := &Job{ID: NewJobID("0xalice", "uuid-2"), State: StateInit, Unidirectional: true}
	eng := NewEngine(job, store, source, target)
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := source.Open(context.Background(), "/target-only.txt"); err == nil {
		t.Fatal("expected unidirectional job not to pull target-only file to source")
	}
}

func TestResyncPropagatesConfirmedDelete(t *testing.T) {
	dir, err := os.MkdirTemp("", "wl-sync-engine-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := OpenJobStore(dir)
	if err != nil {
		t.Fatalf("OpenJobStore: %v", err)
	}
	defer store.Close()

	source := storage.NewMemoryBackend(false)
	target := storage.NewMemoryBackend(false)
	writeFile(t, source, "/a.txt", "1")

	job := &Job{ID: NewJobID("0xalice", "uuid-3"), State: StateInit}
	eng := NewEngine(job, store, source, target)
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := target.Open(context.Background(), "/a.txt"); err != nil {
		t.Fatalf("expected initial sync to land /a.txt on target: %v", err)
	}

	if err := source.Unlink(context.Background(), "/a.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	if err := eng.Resync(context.Background(), &DeleteHint{Path: "/a.txt", FromSource: true}); err != nil {
		t.Fatalf("Resync: %v", err)
	}

	if _, err := target.Open(context.Background(), "/a.txt"); err == nil {
		t.Fatal("expected confirmed delete to propagate to target, but file still exists there")
	}
}

func TestResyncWithoutHintRecreatesFromOtherSide(t *testing.T) {
	dir, err := os.MkdirTemp("", "wl-sync-engine-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := OpenJobStore(dir)
	if err != nil {
		t.Fatalf("OpenJobStore: %v", err)
	}
	defer store.Close()

	source := storage.NewMemoryBackend(false)
	target := storage.NewMemoryBackend(false)
	writeFile(t, source, "/a.txt", "1")

	job := &Job{ID: NewJobID("0xalice", "uuid-4"), State: StateInit}
	eng := NewEngine(job, store, source, target)
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := source.Unlink(context.Background(), "/a.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	// No watcher reported this removal, so the next pass must treat it as
	// never-seen-on-source and re-create it from the target instead of
	// deleting it there (spec §4.7: prevents a startup scan from destroying
	// data it never watched).
	if err := eng.Resync(context.Background(), nil); err != nil {
		t.Fatalf("Resync: %v", err)
	}

	if _, err := source.Open(context.Background(), "/a.txt"); err != nil {
		t.Fatalf("expected /a.txt to be re-created on source, got error: %v", err)
	}
}

func TestSourceWinsOnNewerMtime(t *testing.T) {
	older := fileState{Hash: "a", Mtime: 1}
	newer := fileState{Hash: "b", Mtime: 2}
	if !sourceWins(newer, older) {
		t.Fatal("expected newer mtime to win")
	}
	if sourceWins(older, newer) {
		t.Fatal("expected older mtime to lose")
	}
}
