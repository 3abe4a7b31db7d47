package resolver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pbeza/wildland-client/internal/objectmodel"
	"github.com/pbeza/wildland-client/internal/wlerrors"
)

// memCatalog is an in-memory CatalogSource used for resolver tests.
type memCatalog struct {
	users      map[string]*objectmodel.User
	containers map[string][]*objectmodel.Container
	bridges    map[string][]*objectmodel.Bridge
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		users:      map[string]*objectmodel.User{},
		containers: map[string][]*objectmodel.Container{},
		bridges:    map[string][]*objectmodel.Bridge{},
	}
}

func (m *memCatalog) User(owner string) (*objectmodel.User, error) {
	u, ok := m.users[owner]
	if !ok {
		return nil, fmt.Errorf("no such user %s: %w", owner, wlerrors.ErrNotFound)
	}
	return u, nil
}

func (m *memCatalog) Containers(owner string) ([]*objectmodel.Container, error) {
	return m.containers[owner], nil
}

func (m *memCatalog) Bridges(owner string) ([]*objectmodel.Bridge, error) {
	return m.bridges[owner], nil
}

func TestResolveBridgeChain(t *testing.T) {
	cat := newMemCatalog()

	alice := &objectmodel.User{Owner: "0xalice", Pubkeys: []string{"alice-key"}}
	bob := &objectmodel.User{Owner: "0xbob", Pubkeys: []string{"bob-key"}}
	cat.users["0xalice"] = alice
	cat.users["0xbob"] = bob

	bridge := &objectmodel.Bridge{
		Owner:  "0xalice",
		User:   "0xbob",
		Pubkey: "bob-key",
		Paths:  []string{"/forests/bob"},
	}
	cat.bridges["0xalice"] = []*objectmodel.Bridge{bridge}

	secret := objectmodel.NewContainer("0xbob", []string{"/very/secret"})
	cat.containers["0xbob"] = []*objectmodel.Container{secret}

	r := New(cat, "0xalice")
	u, err := ParseURL("wildland::/forests/bob:/very/secret:")
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}

	res, err := r.Resolve(u)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Container == nil || res.Container.Owner != "0xbob" {
		t.Fatalf("expected bob's container, got %+v", res.Container)
	}
	if len(res.VerifiedChain) != 1 {
		t.Fatalf("expected 1 verified bridge, got %d", len(res.VerifiedChain))
	}
}

func TestResolveRemovedBridgeYieldsNotFound(t *testing.T) {
	cat := newMemCatalog()
	cat.users["0xalice"] = &objectmodel.User{Owner: "0xalice", Pubkeys: []string{"alice-key"}}
	// No bridges registered.

	r := New(cat, "0xalice")
	u, _ := ParseURL("wildland::/forests/bob:/very/secret:")

	_, err := r.Resolve(u)
	if err == nil {
		t.Fatal("expected NotFound when bridge is absent")
	}
}

func TestResolveUntrustedBridgeMismatchedPubkey(t *testing.T) {
	cat := newMemCatalog()
	cat.users["0xalice"] = &objectmodel.User{Owner: "0xalice", Pubkeys: []string{"alice-key"}}
	cat.users["0xbob"] = &objectmodel.User{Owner: "0xbob", Pubkeys: []string{"bob-real-key"}}
	cat.bridges["0xalice"] = []*objectmodel.Bridge{{
		Owner:  "0xalice",
		User:   "0xbob",
		Pubkey: "wrong-key",
		Paths:  []string{"/forests/bob"},
	}}

	r := New(cat, "0xalice")
	u, _ := ParseURL("wildland::/forests/bob:")

	_, err := r.Resolve(u)
	if err == nil {
		t.Fatal("expected Untrusted error for mismatched bridge pubkey")
	}
}

func TestResolveUntrustedBridgeSignerNotVouchedFor(t *testing.T) {
	cat := newMemCatalog()
	cat.users["0xalice"] = &objectmodel.User{Owner: "0xalice", Pubkeys: []string{"alice-key"}}
	cat.users["0xbob"] = &objectmodel.User{Owner: "0xbob", Pubkeys: []string{"bob-key"}}
	// Owner field names a key neither in alice's pubkeys nor equal to her
	// own fingerprint, so the bridge is not vouched for by her chain.
	cat.bridges["0xalice"] = []*objectmodel.Bridge{{
		Owner:  "some-other-key",
		User:   "0xbob",
		Pubkey: "bob-key",
		Paths:  []string{"/forests/bob"},
	}}

	r := New(cat, "0xalice")
	u, _ := ParseURL("wildland::/forests/bob:")

	_, err := r.Resolve(u)
	if err == nil {
		t.Fatal("expected Untrusted error for a bridge not vouched for by the current owner")
	}
	if !errors.Is(err, wlerrors.ErrUntrusted) {
		t.Fatalf("expected ErrUntrusted, got %v", err)
	}
}

func TestResolveCycleDetection(t *testing.T) {
	cat := newMemCatalog()
	cat.users["0xa"] = &objectmodel.User{Owner: "0xa", Pubkeys: []string{"a-key"}}
	cat.users["0xb"] = &objectmodel.User{Owner: "0xb", Pubkeys: []string{"b-key"}}
	cat.bridges["0xa"] = []*objectmodel.Bridge{{Owner: "0xa", User: "0xb", Pubkey: "b-key", Paths: []string{"/to-b"}}}
	cat.bridges["0xb"] = []*objectmodel.Bridge{{Owner: "0xb", User: "0xa", Pubkey: "a-key", Paths: []string{"/to-a"}}}

	r := New(cat, "0xa")
	u, _ := ParseURL("wildland::/to-b:/to-a:/to-b:/to-a:/to-b:/to-a:/to-b:/to-a:/to-b:")

	_, err := r.Resolve(u)
	if err == nil {
		t.Fatal("expected cycle detection to abort traversal")
	}
}

func TestParseURLRequiresThreeParts(t *testing.T) {
	if _, err := ParseURL("wildland:onlyowner"); err == nil {
		t.Fatal("expected error for too few parts")
	}
}
