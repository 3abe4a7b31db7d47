package mount

import (
	"testing"

	"github.com/pbeza/wildland-client/internal/objectmodel"
	"github.com/pbeza/wildland-client/internal/storage"
)

func TestTableMountResolveUnmount(t *testing.T) {
	table := NewTable()
	backend := storage.NewMemoryBackend(false)
	entry := &Entry{
		ContainerUUID: "uuid-1",
		Container:     &objectmodel.Container{},
		Backend:       backend,
	}

	if err := table.Mount([]string{"/photos", "/.uuid/uuid-1"}, entry); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	got, rel, ok := table.Resolve("/photos/vacation.jpg")
	if !ok {
		t.Fatal("expected resolve to succeed")
	}
	if got.ContainerUUID != "uuid-1" || rel != "vacation.jpg" {
		t.Fatalf("unexpected resolve result: entry=%+v rel=%q", got, rel)
	}

	if _, _, ok := table.Resolve("/other/path"); ok {
		t.Fatal("expected resolve to fail for unmounted path")
	}

	if err := table.Unmount("uuid-1"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if _, _, ok := table.Resolve("/photos/vacation.jpg"); ok {
		t.Fatal("expected resolve to fail after unmount")
	}
}

func TestTableMountConflictRejected(t *testing.T) {
	table := NewTable()
	e1 := &Entry{ContainerUUID: "uuid-1", Container: &objectmodel.Container{}, Backend: storage.NewMemoryBackend(false)}
	e2 := &Entry{ContainerUUID: "uuid-2", Container: &objectmodel.Container{}, Backend: storage.NewMemoryBackend(false)}

	if err := table.Mount([]string{"/shared"}, e1); err != nil {
		t.Fatalf("Mount e1: %v", err)
	}
	if err := table.Mount([]string{"/shared"}, e2); err == nil {
		t.Fatal("expected conflicting mount path to be rejected")
	}
}

func TestTableChildrenListsSyntheticAncestors(t *testing.T) {
	table := NewTable()
	entry := &Entry{ContainerUUID: "uuid-1", Container: &objectmodel.Container{}, Backend: storage.NewMemoryBackend(false)}
	if err := table.Mount([]string{"/forests/alice/photos"}, entry); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	children := table.Children("/forests")
	if len(children) != 1 || children[0] != "alice" {
		t.Fatalf("expected [alice], got %v", children)
	}
}

func TestTableEntriesDeduplicatesByUUID(t *testing.T) {
	table := NewTable()
	entry := &Entry{ContainerUUID: "uuid-1", Container: &objectmodel.Container{}, Backend: storage.NewMemoryBackend(false)}
	if err := table.Mount([]string{"/a", "/b", "/.uuid/uuid-1"}, entry); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	entries := table.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 deduplicated entry, got %d", len(entries))
	}
}
