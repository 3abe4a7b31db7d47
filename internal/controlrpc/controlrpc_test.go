package controlrpc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pbeza/wildland-client/internal/wlerrors"
)

func startTestServer(t *testing.T) (*Server, string, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "wl-controlrpc-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	sockPath := filepath.Join(dir, "ctl.sock")
	s := NewServer(sockPath)
	s.Handle("ping", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		return map[string]string{"pong": args.Get("echo").String()}, nil
	})
	s.Handle("echo-required", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		if !args.Get("echo").Exists() {
			return nil, fmt.Errorf("controlrpc: echo-required: missing echo: %w", wlerrors.ErrSchema)
		}
		return map[string]string{"pong": args.Get("echo").String()}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx) }()

	// Wait for the socket file to appear.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(sockPath); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cleanup := func() {
		cancel()
		s.Close()
		os.RemoveAll(dir)
	}
	return s, sockPath, cleanup
}

func TestServerHandlesRegisteredCommand(t *testing.T) {
	_, sockPath, cleanup := startTestServer(t)
	defer cleanup()

	c, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	result, err := c.Call("1", "ping", map[string]string{"echo": "hi"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gjson.GetBytes(result, "pong").String() != "hi" {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestServerRejectsUnknownCommand(t *testing.T) {
	_, sockPath, cleanup := startTestServer(t)
	defer cleanup()

	c, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	_, err = c.Call("2", "nonexistent", nil)
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "unknown-command") {
		t.Fatalf("expected literal unknown-command error, got %v", err)
	}
}

func TestServerRejectsSchemaFailingArgs(t *testing.T) {
	_, sockPath, cleanup := startTestServer(t)
	defer cleanup()

	c, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	_, err = c.Call("3", "echo-required", map[string]string{})
	if err == nil {
		t.Fatal("expected error for schema-failing args")
	}
	if !strings.Contains(err.Error(), "bad-args") {
		t.Fatalf("expected literal bad-args error, got %v", err)
	}
}

func TestSetArgBuildsPolymorphicArgs(t *testing.T) {
	out, err := SetArg(nil, "container", "c1")
	if err != nil {
		t.Fatalf("SetArg: %v", err)
	}
	if gjson.GetBytes(out, "container").String() != "c1" {
		t.Fatalf("unexpected args: %s", out)
	}
}
