package objectmodel

import "testing"

func TestContainerMountPathsCrossProduct(t *testing.T) {
	c := NewContainer("0xalice", nil)
	c.Title = "vacation"
	c.Categories = []string{"/photos", "/2024"}

	paths := c.MountPaths()
	want := map[string]bool{
		c.Paths[0]:                 true,
		"/photos/vacation":         true,
		"/2024/vacation":           true,
		"/photos/@2024/vacation":   true,
		"/2024/@photos/vacation":   true,
	}
	if len(paths) != len(want) {
		t.Fatalf("got %d paths, want %d: %v", len(paths), len(want), paths)
	}
	for _, p := range paths {
		if !want[p] {
			t.Errorf("unexpected path %q", p)
		}
	}
}

func TestContainerValidateRejectsTwoPrimaries(t *testing.T) {
	c := NewContainer("0xalice", nil)
	s1 := NewStorage("0xalice", "local", c.Paths[0])
	s1.Primary = true
	s2 := NewStorage("0xalice", "local", c.Paths[0])
	s2.Primary = true
	c.Backends.Storage = []Storage{*s1, *s2}

	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for two primary storages")
	}
}

func TestContainerValidateRejectsMismatchedContainerPath(t *testing.T) {
	c := NewContainer("0xalice", nil)
	s := NewStorage("0xalice", "local", "/.uuid/does-not-match")
	c.Backends.Storage = []Storage{*s}

	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for mismatched container-path")
	}
}

func TestContainerValidateRejectsShortFirstPathWithoutPanicking(t *testing.T) {
	c := &Container{Version: "1", Owner: "0xalice", Paths: []string{"/a"}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for non-/.uuid first path")
	}
}

func TestPrimaryStorageDefaultsToFirst(t *testing.T) {
	c := NewContainer("0xalice", nil)
	s1 := NewStorage("0xalice", "local", c.Paths[0])
	s2 := NewStorage("0xalice", "s3", c.Paths[0])
	c.Backends.Storage = []Storage{*s1, *s2}

	primary, ok := c.PrimaryStorage()
	if !ok {
		t.Fatal("expected a primary storage")
	}
	if primary.BackendID != s1.BackendID {
		t.Fatalf("expected first storage to default to primary, got %s", primary.Type)
	}
}

func TestBridgeMatchesTargetPubkey(t *testing.T) {
	b := &Bridge{Pubkey: "abc123"}
	target := &User{Pubkeys: []string{"def456", "abc123"}}
	if !b.MatchesTargetPubkey(target) {
		t.Fatal("expected bridge pubkey to match target user's pubkeys")
	}

	other := &User{Pubkeys: []string{"zzz"}}
	if b.MatchesTargetPubkey(other) {
		t.Fatal("expected no match against unrelated user")
	}
}

func TestUserEffectivePubkeysIncludesMembers(t *testing.T) {
	alice := &User{Pubkeys: []string{"alice-key"}, Members: []string{"/users/bob"}}
	bob := &User{Pubkeys: []string{"bob-key"}}

	keys := alice.EffectivePubkeys(func(path string) (*User, error) {
		if path == "/users/bob" {
			return bob, nil
		}
		return nil, nil
	})

	found := map[string]bool{}
	for _, k := range keys {
		found[k] = true
	}
	if !found["alice-key"] || !found["bob-key"] {
		t.Fatalf("expected both alice and bob's keys, got %v", keys)
	}
}
