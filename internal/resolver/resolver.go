package resolver

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"github.com/pbeza/wildland-client/internal/objectmodel"
	"github.com/pbeza/wildland-client/internal/wlerrors"
)

var log = logging.Logger("wl-resolver")

// DefaultMaxBridgeDepth bounds bridge-chain traversal (spec §4.4: "abort
// with Cycle after a fixed depth, default 8").
const DefaultMaxBridgeDepth = 8

// CatalogSource abstracts "the local catalog of an owner": the set of
// containers reachable from that owner's manifests-catalog, and the set of
// bridges that owner has published. A real implementation backs this with
// ManifestCodec + StorageBackend reads of the owner's catalog containers;
// tests back it with an in-memory map.
type CatalogSource interface {
	// User returns the (already verified) user manifest for owner, or
	// ErrNotFound.
	User(owner string) (*objectmodel.User, error)
	// Containers returns every container manifest reachable from owner's
	// manifests-catalog, or ErrNetwork on fetch failure.
	Containers(owner string) ([]*objectmodel.Container, error)
	// Bridges returns every bridge manifest owner has published.
	Bridges(owner string) ([]*objectmodel.Bridge, error)
}

// Resolver walks Wildland URLs through bridges into concrete manifests
// (spec §4.4).
type Resolver struct {
	catalog      CatalogSource
	defaultOwner string
	maxDepth     int
	aliases      map[string]string // "@name" -> fingerprint
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxBridgeDepth overrides DefaultMaxBridgeDepth.
func WithMaxBridgeDepth(n int) Option {
	return func(r *Resolver) { r.maxDepth = n }
}

// WithAliases registers "@name" -> fingerprint mappings (spec §4.8 aliases).
func WithAliases(aliases map[string]string) Option {
	return func(r *Resolver) { r.aliases = aliases }
}

// New constructs a Resolver. defaultOwner is used for an empty owner prefix
// or "@default".
func New(catalog CatalogSource, defaultOwner string, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:      catalog,
		defaultOwner: defaultOwner,
		maxDepth:     DefaultMaxBridgeDepth,
		aliases:      map[string]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is a successfully resolved manifest: either a Container (the
// common case) or a User (for `user import`).
type Result struct {
	Owner     string
	Container *objectmodel.Container
	User      *objectmodel.User
	// VerifiedChain lists, in traversal order, the bridges whose
	// signatures were verified to reach Owner (spec §8: "verifies two
	// signatures in order" for a two-hop bridge resolution).
	VerifiedChain []*objectmodel.Bridge
}

// Resolve walks a parsed URL, returning its final container (or user, if
// the last segment names one) and the chain of verified bridges traversed.
func (r *Resolver) Resolve(u *URL) (*Result, error) {
	owner, err := r.startOwner(u)
	if err != nil {
		return nil, err
	}

	res := &Result{Owner: owner}
	visited := map[string]bool{owner: true}

	for i, seg := range u.Segments {
		last := i == len(u.Segments)-1

		containers, err := r.catalog.Containers(owner)
		if err != nil {
			return nil, fmt.Errorf("resolver: fetch catalog for %s: %w", owner, wlerrors.ErrNetwork)
		}

		// Try container match first.
		var matchedContainer *objectmodel.Container
		for _, c := range containers {
			if segmentMatches(seg, c.MountPaths()) {
				matchedContainer = c
				break
			}
		}

		if matchedContainer != nil {
			if last {
				res.Container = matchedContainer
				return res, nil
			}
			return nil, fmt.Errorf("resolver: segment %q matched a container mid-path: %w", seg, wlerrors.ErrNotFound)
		}

		// Try a bridge match: switch owner/catalog to the bridge's target.
		bridges, err := r.catalog.Bridges(owner)
		if err != nil {
			return nil, fmt.Errorf("resolver: fetch bridges for %s: %w", owner, wlerrors.ErrNetwork)
		}
		var matchedBridge *objectmodel.Bridge
		for _, b := range bridges {
			if segmentMatches(seg, b.Paths) {
				matchedBridge = b
				break
			}
		}
		if matchedBridge == nil {
			return nil, fmt.Errorf("resolver: segment %q matched no container or bridge under %s: %w", seg, owner, wlerrors.ErrNotFound)
		}

		if len(visited) >= r.maxDepth {
			return nil, fmt.Errorf("resolver: bridge depth exceeded %d: %w", r.maxDepth, wlerrors.ErrCycle)
		}

		targetOwner, targetUser, err := r.followBridge(owner, matchedBridge)
		if err != nil {
			return nil, err
		}
		if visited[targetOwner] {
			return nil, fmt.Errorf("resolver: bridge cycle detected at %s: %w", targetOwner, wlerrors.ErrCycle)
		}
		visited[targetOwner] = true
		res.VerifiedChain = append(res.VerifiedChain, matchedBridge)
		owner = targetOwner
		res.Owner = owner

		if last {
			res.User = targetUser
			return res, nil
		}
	}
	return nil, fmt.Errorf("resolver: no segments resolved: %w", wlerrors.ErrNotFound)
}

// followBridge checks that the bridge's owner is the current owner or one of
// its pubkeys (the raw signature is not re-checked here) and resolves its
// target user, enforcing invariant 6 (bridge pubkey must match a pubkeys[]
// entry of the resolved target user).
func (r *Resolver) followBridge(currentOwner string, b *objectmodel.Bridge) (targetOwner string, targetUser *objectmodel.User, err error) {
	ownerUser, err := r.catalog.User(currentOwner)
	if err != nil {
		return "", nil, fmt.Errorf("resolver: load user %s for bridge verification: %w", currentOwner, err)
	}
	if !containsKey(ownerUser.Pubkeys, b.Owner) && b.Owner != currentOwner {
		// The bridge must be signed by a key belonging to currentOwner;
		// ManifestCodec.Verify already checked the raw signature, this is
		// the additional "owner identity" cross-check from invariant 1.
		return "", nil, fmt.Errorf("resolver: bridge owner %s not vouched for by %s's pubkeys: %w", b.Owner, currentOwner, wlerrors.ErrUntrusted)
	}

	targetUser, err = r.catalog.User(b.User)
	if err != nil {
		return "", nil, fmt.Errorf("resolver: fetch bridge target user %s: %w", b.User, err)
	}
	if !b.MatchesTargetPubkey(targetUser) {
		return "", nil, fmt.Errorf("resolver: bridge pubkey does not match target user %s pubkeys: %w", b.User, wlerrors.ErrUntrusted)
	}
	return targetUser.Owner, targetUser, nil
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

func (r *Resolver) startOwner(u *URL) (string, error) {
	switch {
	case u.OwnerPrefix == "" || u.OwnerPrefix == "@default":
		if r.defaultOwner == "" {
			return "", fmt.Errorf("resolver: no default owner configured: %w", wlerrors.ErrNotFound)
		}
		return r.defaultOwner, nil
	case u.IsAlias():
		owner, ok := r.aliases[u.OwnerPrefix]
		if !ok {
			return "", fmt.Errorf("resolver: unknown alias %s: %w", u.OwnerPrefix, wlerrors.ErrNotFound)
		}
		return owner, nil
	default:
		if fpr, _, ok := u.BootstrapHint(); ok {
			return fpr, nil
		}
		return u.OwnerPrefix, nil
	}
}
