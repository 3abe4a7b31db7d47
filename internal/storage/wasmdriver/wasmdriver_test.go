package wasmdriver

import (
	"context"
	"io"
	"testing"
)

func TestBackendPassthroughWithoutModule(t *testing.T) {
	b, err := New(context.Background(), "", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	ctx := context.Background()

	w, err := b.Create(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("plain content")); err != nil {
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
	if string(data) != "plain content" {
		t.Fatalf("got %q want %q", data, "plain content")
	}
}

func TestBackendCapabilitiesDisablesRandomWrites(t *testing.T) {
	b, err := New(context.Background(), "", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	if b.Capabilities().SupportsRandomWrites {
		t.Fatal("expected wasm-backed store to disable random writes")
	}
}

func TestBackendReadOnlyRejectsCreate(t *testing.T) {
	b, err := New(context.Background(), "", true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	if _, err := b.Create(context.Background(), "/a.txt"); err == nil {
		t.Fatal("expected read-only backend to reject Create")
	}
}
