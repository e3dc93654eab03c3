package ports

import (
	"context"

	"depvault/internal/types"
)

// ResolveInput carries everything a resolver may consult. Resolvers
// are pure given the source tree and these options: no hidden state,
// deterministic output for a fixed tree.
type ResolveInput struct {
	// SourceDir is the root of the checked-out repository.
	SourceDir string
	// Path is the package directory relative to SourceDir.
	Path string
	// Ref is the revision the source was checked out at; resolvers
	// that cannot derive a package version from the tree use it as an
	// opaque version locator.
	Ref string

	Flags        []types.RequestFlag
	Replacements []types.ReplacementDirective

	// LocalAllowlist lists package names permitted to be local-path
	// dependencies. Local paths are refused unless explicitly listed;
	// this is a security control, not a convenience default.
	LocalAllowlist []string
}

func (in ResolveInput) HasFlag(flag types.RequestFlag) bool {
	for _, f := range in.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// ResolverPort turns a lock/manifest file into a normalized dependency
// graph plus the set of artifacts to fetch.
type ResolverPort interface {
	Ecosystem() types.Ecosystem
	Resolve(ctx context.Context, in ResolveInput) (types.Resolution, error)
}
