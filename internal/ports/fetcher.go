package ports

import (
	"context"

	"depvault/internal/types"
)

// Artifact is a fetched dependency: the raw bytes plus the computed
// sha256 content address.
type Artifact struct {
	Bytes    []byte
	Checksum string
}

// FetcherPort downloads one dependency artifact from its declared
// origin, using only the information the resolver produced.
type FetcherPort interface {
	Fetch(ctx context.Context, spec types.FetchSpec) (Artifact, error)
}

// SourcePort fetches and permanently archives the application source,
// returning the path of the checked-out tree.
type SourcePort interface {
	Fetch(ctx context.Context, repoURL, ref string, includeGitDir bool) (string, error)
}
