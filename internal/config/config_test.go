package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidatesAliasNames(t *testing.T) {
	dir, err := os.MkdirTemp("", "wl-config-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.yaml")
	bad := "fs-socket-path: /tmp/a.sock\nsync-socket-path: /tmp/b.sock\naliases:\n  Bad_Name: \"0xabc\"\n"
	if err := os.WriteFile(path, []byte(bad), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected invalid alias name to be rejected")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "wl-config-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	c := Default(dir)
	c.Aliases["@default"] = "0xalice"
	path := filepath.Join(dir, "config.yaml")
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Aliases["@default"] != "0xalice" {
		t.Fatalf("round trip mismatch: %+v", got.Aliases)
	}
}
