// Package objectmodel provides strongly-typed views over validated
// manifests (spec §4.3): User, Container, Storage, Bridge, and Link, plus
// the invariants each enforces at construction time. The struct shapes and
// yaml tags follow the nested-struct style of
// sdn-server/internal/config/config.go.
package objectmodel

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pbeza/wildland-client/internal/wlerrors"
)

// AccessEntry is one grant in an access list (spec §3 Access list). Exactly
// one of User or UserPath is set; User "*" is the public wildcard.
type AccessEntry struct {
	User     string `yaml:"user,omitempty"`
	UserPath string `yaml:"user-path,omitempty"`
}

// IsWildcard reports whether this entry is the `{user: "*"}` public marker.
func (a AccessEntry) IsWildcard() bool { return a.User == "*" }

// User is the owner identity manifest (spec §3 Core objects).
type User struct {
	Version          string   `yaml:"version"`
	Owner            string   `yaml:"owner"`
	Paths            []string `yaml:"paths"`
	Pubkeys          []string `yaml:"pubkeys"`
	ManifestsCatalog []string `yaml:"manifests-catalog,omitempty"`
	Members          []string `yaml:"members,omitempty"`
}

func (u *User) ManifestVersion() string { return u.Version }

// Validate enforces the §3 invariants checkable from the manifest alone
// (cross-manifest invariants like bridge pubkey matching are enforced by
// the resolver, which has the referenced manifest in hand).
func (u *User) Validate() error {
	if len(u.Paths) == 0 {
		return fmt.Errorf("objectmodel: user %s has no paths: %w", u.Owner, wlerrors.ErrSchema)
	}
	if len(u.Pubkeys) == 0 {
		return fmt.Errorf("objectmodel: user %s has no pubkeys: %w", u.Owner, wlerrors.ErrSchema)
	}
	for _, p := range u.Paths {
		if !isAbsolutePath(p) {
			return fmt.Errorf("objectmodel: user path %q not absolute: %w", p, wlerrors.ErrSchema)
		}
	}
	return nil
}

// EffectivePubkeys returns u's own pubkeys plus those reachable transitively
// through u.Members, each resolved via lookupMember (normally the
// resolver's user-path lookup). Each member path is looked up at most once,
// so cycles through members terminate.
func (u *User) EffectivePubkeys(lookupMember func(userPath string) (*User, error)) []string {
	keys := append([]string{}, u.Pubkeys...)
	seen := map[string]bool{}
	queue := append([]string{}, u.Members...)
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		if seen[path] {
			continue
		}
		seen[path] = true
		member, err := lookupMember(path)
		if err != nil || member == nil {
			continue
		}
		keys = append(keys, member.Pubkeys...)
		queue = append(queue, member.Members...)
	}
	return keys
}

// Container is the unit of mounting (spec §3 Core objects).
type Container struct {
	Version    string         `yaml:"version"`
	Owner      string         `yaml:"owner"`
	Paths      []string       `yaml:"paths"`
	Title      string         `yaml:"title,omitempty"`
	Categories []string       `yaml:"categories,omitempty"`
	Backends   ContainerLinks `yaml:"backends"`
	Access     []AccessEntry  `yaml:"access,omitempty"`
}

// ContainerLinks holds the storage manifest references a container points
// at, either inline Storage objects or Links into a backend.
type ContainerLinks struct {
	Storage []Storage `yaml:"storage"`
}

func (c *Container) ManifestVersion() string { return c.Version }

// NewContainer creates a container with a fresh immutable /.uuid/<UUID>
// path (invariant 2), using google/uuid for RFC 4122 generation.
func NewContainer(owner string, extraPaths []string) *Container {
	id := uuid.New().String()
	return &Container{
		Version: "1",
		Owner:   owner,
		Paths:   append([]string{"/.uuid/" + id}, extraPaths...),
	}
}

// Validate enforces container invariants 2–5.
func (c *Container) Validate() error {
	if len(c.Paths) == 0 || !strings.HasPrefix(c.Paths[0], "/.uuid/") {
		return fmt.Errorf("objectmodel: container first path must be /.uuid/<UUID>: %w", wlerrors.ErrSchema)
	}
	for _, p := range c.Paths {
		if !isAbsolutePath(p) {
			return fmt.Errorf("objectmodel: container path %q not absolute: %w", p, wlerrors.ErrSchema)
		}
	}

	primaryCount := 0
	for i := range c.Backends.Storage {
		s := &c.Backends.Storage[i]
		if s.Primary {
			primaryCount++
		}
		matched := false
		for _, p := range c.Paths {
			if p == s.ContainerPath {
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("objectmodel: storage container-path %q matches no container path: %w", s.ContainerPath, wlerrors.ErrSchema)
		}
	}
	// Open Question (b): the spec forbids two storages both claiming
	// primary; we reject such manifests at load rather than silently
	// picking one, per the spec's own guidance.
	if primaryCount > 1 {
		return fmt.Errorf("objectmodel: container has %d primary storages, at most 1 allowed: %w", primaryCount, wlerrors.ErrSchema)
	}

	if isPublicAccess(c.Access) && len(c.Access) > 1 {
		return fmt.Errorf("objectmodel: access:[{user:\"*\"}] must be the only access entry: %w", wlerrors.ErrSchema)
	}
	return nil
}

func isPublicAccess(access []AccessEntry) bool {
	for _, a := range access {
		if a.IsWildcard() {
			return true
		}
	}
	return false
}

// PrimaryStorage returns the container's primary storage: the one marked
// primary:true, or the first storage if none is marked (invariant 4).
func (c *Container) PrimaryStorage() (*Storage, bool) {
	if len(c.Backends.Storage) == 0 {
		return nil, false
	}
	for i := range c.Backends.Storage {
		if c.Backends.Storage[i].Primary {
			return &c.Backends.Storage[i], true
		}
	}
	return &c.Backends.Storage[0], true
}

// MountPaths expands Paths with the synthetic category paths generated by
// the cross-product of Categories and Title: for categories [c1, c2] and
// title "t" this yields /c1/t, /c2/t, /c1/@c2/t, /c2/@c1/t (spec §3
// Container, §6 Path conventions).
func (c *Container) MountPaths() []string {
	out := append([]string{}, c.Paths...)
	if c.Title == "" || len(c.Categories) == 0 {
		return out
	}
	for _, cat := range c.Categories {
		out = append(out, joinPath(cat, c.Title))
	}
	for _, primary := range c.Categories {
		for _, secondary := range c.Categories {
			if primary == secondary {
				continue
			}
			out = append(out, joinPath(primary, "@"+trimLeadingSlash(secondary), c.Title))
		}
	}
	return out
}

// AccessSubjects returns the set of fingerprints/user-paths this container
// is readable by, excluding the implicit owner grant.
func (c *Container) AccessSubjects() []AccessEntry {
	return c.Access
}

// Storage describes one backend mounting of a container (spec §3 Core
// objects). Type-specific fields (bucket name, endpoint, credentials, …)
// live in Params, since the concrete set is driver-defined (spec §4.5).
type Storage struct {
	Version         string                 `yaml:"version"`
	Owner           string                 `yaml:"owner"`
	Type            string                 `yaml:"type"`
	ContainerPath   string                 `yaml:"container-path"`
	BackendID       string                 `yaml:"backend-id"`
	ReadOnly        bool                   `yaml:"read-only,omitempty"`
	Trusted         bool                   `yaml:"trusted,omitempty"`
	ManifestPattern string                 `yaml:"manifest-pattern,omitempty"`
	WatcherInterval int                    `yaml:"watcher-interval,omitempty"`
	Access          []AccessEntry          `yaml:"access,omitempty"`
	Primary         bool                   `yaml:"primary,omitempty"`
	Params          map[string]interface{} `yaml:"params,omitempty"`
}

func (s *Storage) ManifestVersion() string { return s.Version }

// NewStorage creates a storage with a fresh backend-id (UUID).
func NewStorage(owner, storageType, containerPath string) *Storage {
	return &Storage{
		Version:       "1",
		Owner:         owner,
		Type:          storageType,
		ContainerPath: containerPath,
		BackendID:     uuid.New().String(),
	}
}

// Bridge is a signed attestation that a user manifest is trustworthy at
// given paths (spec §3 Core objects, GLOSSARY).
type Bridge struct {
	Version string   `yaml:"version"`
	Owner   string   `yaml:"owner"`
	User    string   `yaml:"user"` // manifest-url or inline Link
	Pubkey  string   `yaml:"pubkey"`
	Paths   []string `yaml:"paths"`
}

func (b *Bridge) ManifestVersion() string { return b.Version }

func (b *Bridge) Validate() error {
	if len(b.Paths) == 0 {
		return fmt.Errorf("objectmodel: bridge has no paths: %w", wlerrors.ErrSchema)
	}
	if b.Pubkey == "" || b.User == "" {
		return fmt.Errorf("objectmodel: bridge missing user or pubkey: %w", wlerrors.ErrSchema)
	}
	return nil
}

// MatchesTargetPubkey enforces invariant 6: the bridge's pubkey must match a
// pubkeys[] entry in the resolved target user.
func (b *Bridge) MatchesTargetPubkey(target *User) bool {
	for _, k := range target.Pubkeys {
		if k == b.Pubkey {
			return true
		}
	}
	return false
}

// Link is an indirection to a manifest living inside a storage rather than
// at a fetchable URL (spec §3 Core objects, GLOSSARY).
type Link struct {
	Storage Storage `yaml:"storage"`
	File    string  `yaml:"file"`
}

func isAbsolutePath(p string) bool {
	return len(p) > 0 && p[0] == '/'
}

func trimLeadingSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}

func joinPath(parts ...string) string {
	out := ""
	for _, p := range parts {
		out += "/" + trimLeadingSlash(p)
	}
	return out
}
