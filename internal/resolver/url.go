// Package resolver implements the Wildland URL resolver (spec §4.4): it
// walks `wildland:<owner>:<segment>:<segment>:…` URLs through bridges
// across per-owner manifest catalogs into a concrete container or user
// manifest.
package resolver

import (
	"fmt"
	"strings"

	"github.com/pbeza/wildland-client/internal/wlerrors"
)

// URL is a parsed Wildland URL (spec §6 grammar).
type URL struct {
	// OwnerPrefix is empty (self/@default), a fingerprint, a configured
	// alias ("@name"), or "<fpr>@https{…}" (key + bootstrap hint).
	OwnerPrefix string
	Segments    []string
}

// ParseURL parses "wildland:<owner-prefix>?:<segment>(:<segment>)+:" into a
// URL. At least three colon-delimited parts are required (spec §6).
func ParseURL(raw string) (*URL, error) {
	const scheme = "wildland:"
	if !strings.HasPrefix(raw, scheme) {
		return nil, fmt.Errorf("resolver: missing wildland: scheme: %w", wlerrors.ErrSchema)
	}
	rest := strings.TrimPrefix(raw, scheme)
	parts := strings.Split(rest, ":")
	if len(parts) < 2 {
		return nil, fmt.Errorf("resolver: at least three colon-delimited parts required: %w", wlerrors.ErrSchema)
	}

	owner := parts[0]
	segments := []string{}
	for _, s := range parts[1:] {
		if s == "" {
			continue
		}
		segments = append(segments, s)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("resolver: url has no path segments: %w", wlerrors.ErrSchema)
	}
	return &URL{OwnerPrefix: owner, Segments: segments}, nil
}

// BootstrapHint splits an owner prefix of the form "<fpr>@https{…}" into its
// fingerprint and location hint; ok is false for plain fingerprints/aliases.
func (u *URL) BootstrapHint() (fpr, hint string, ok bool) {
	fpr, hint, found := strings.Cut(u.OwnerPrefix, "@")
	if !found {
		return "", "", false
	}
	return fpr, hint, true
}

// IsAlias reports whether the owner prefix is a "@name" configured alias.
func (u *URL) IsAlias() bool {
	return strings.HasPrefix(u.OwnerPrefix, "@")
}

// segmentMatches reports whether a single path segment (possibly a glob
// like "*" or containing "@cat" for category permutations) matches one of a
// container's mount paths.
func segmentMatches(segment string, candidatePaths []string) bool {
	for _, p := range candidatePaths {
		if globMatch(segment, p) {
			return true
		}
	}
	return false
}

// globMatch is a restricted glob matcher supporting "*" as a full-segment
// wildcard and literal prefix matches for "/forests/*"-style segments,
// which is all the grammar in spec §4.4 requires.
func globMatch(pattern, candidate string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(candidate, prefix+"/") || candidate == prefix
	}
	return pattern == candidate
}
