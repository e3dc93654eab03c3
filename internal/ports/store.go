package ports

import (
	"context"

	"depvault/internal/types"
)

// ScriptArgs is the JSON argument object of one repository manager
// script invocation. Required parameters are validated client-side
// before any mutation is attempted; the server validates them again.
type ScriptArgs map[string]any

// RepositoryView is the manager's description of one repository,
// re-read after lockdown to verify nothing was silently dropped.
type RepositoryView struct {
	Name string
	URL  string
	// Locked reports whether the repository is frozen to its staged
	// allowlist and restricted to its principal.
	Locked bool
	// Components is the coordinate set ("name@version") the view
	// exposes.
	Components []string
}

// UploadComponent describes one artifact insert into a hosted
// repository.
type UploadComponent struct {
	Repository string
	Format     types.Ecosystem
	Name       string
	Version    string
	Artifact   []byte
	// Checksum is the sha256 content address of Artifact.
	Checksum string
}

// StoreClientPort is the wire protocol to the external repository
// manager. Every call is an idempotent upsert keyed by the caller's
// deterministic resource names; none relies on ambient random state.
type StoreClientPort interface {
	// RunScript executes a named server-side script with a JSON
	// argument object.
	RunScript(ctx context.Context, name string, args ScriptArgs) error
	// GetRepository reads one repository's configuration. Absent
	// repositories report found=false, not an error.
	GetRepository(ctx context.Context, name string) (view RepositoryView, found bool, err error)
	// ComponentExists searches a repository for a component with the
	// exact coordinates.
	ComponentExists(ctx context.Context, repository string, format types.Ecosystem, name, version string) (bool, error)
	// Upload inserts a component into a hosted repository.
	Upload(ctx context.Context, c UploadComponent) error
	// BaseURL is the manager endpoint, used to derive repository URLs.
	BaseURL() string
}

// ProvisionerPort drives the repository manager to stage, lock down
// and tear down request-scoped views of the permanent cache. Every
// operation is safe to re-invoke after a crash mid-execution.
type ProvisionerPort interface {
	EnsurePermanentCache(ctx context.Context, eco types.Ecosystem) (types.CacheHandle, error)
	Ingest(ctx context.Context, handle types.CacheHandle, dep types.Dependency, artifact []byte, checksum string) (types.IngestOutcome, error)
	StageForRequest(ctx context.Context, requestID string, eco types.Ecosystem, deps []types.Dependency) (types.ProvisionedRepository, error)
	Lockdown(ctx context.Context, repo *types.ProvisionedRepository) error
	Teardown(ctx context.Context, repo types.ProvisionedRepository) error
	// NeedsStaging reports whether the ecosystem requires a
	// runtime-fetchable staged view at all.
	NeedsStaging(eco types.Ecosystem) bool
	// StagedRepoName derives the deterministic staged view name from
	// the request identity, so teardown never depends on state that a
	// crashed run failed to persist.
	StagedRepoName(requestID string, eco types.Ecosystem) string
}
