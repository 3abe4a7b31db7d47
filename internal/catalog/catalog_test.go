package catalog

import (
	"os"
	"testing"

	"github.com/pbeza/wildland-client/internal/config"
	"github.com/pbeza/wildland-client/internal/wlerrors"

	"errors"
)

func TestStorePutGetDelete(t *testing.T) {
	dir, err := os.MkdirTemp("", "wl-catalog-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	s, err := NewStore(dir, TypeContainer)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := s.Put("mycontainer", []byte("signature: |\n  fpr:sig\n---\nbody\n")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get("mycontainer")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "signature: |\n  fpr:sig\n---\nbody\n" {
		t.Fatalf("unexpected contents: %q", got)
	}

	if err := s.Delete("mycontainer"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("mycontainer"); !errors.Is(err, wlerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoreList(t *testing.T) {
	dir, err := os.MkdirTemp("", "wl-catalog-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	s, err := NewStore(dir, TypeUser)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for _, name := range []string{"alice", "bob"} {
		if err := s.Put(name, []byte("x")); err != nil {
			t.Fatalf("Put(%s): %v", name, err)
		}
	}
	// Unrelated file in the same directory must not be listed.
	if err := os.WriteFile(dir+"/alice.container.yaml", []byte("y"), 0644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	names, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
}

func TestOpenBuildsAllStores(t *testing.T) {
	dir, err := os.MkdirTemp("", "wl-catalog-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg := config.Default(dir)
	cat, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := cat.Users.Put("alice", []byte("u")); err != nil {
		t.Fatalf("Users.Put: %v", err)
	}
	if err := cat.Containers.Put("c1", []byte("c")); err != nil {
		t.Fatalf("Containers.Put: %v", err)
	}
	if err := cat.Storages.Put("s1", []byte("s")); err != nil {
		t.Fatalf("Storages.Put: %v", err)
	}
	if err := cat.Bridges.Put("b1", []byte("b")); err != nil {
		t.Fatalf("Bridges.Put: %v", err)
	}
}
