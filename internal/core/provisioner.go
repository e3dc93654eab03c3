package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"depvault/internal/ports"
	"depvault/internal/types"
)

// stagingEcosystems lists the ecosystems whose builds pull content at
// install time and therefore need a staged, locked-down view. Gomod
// dependencies ship inside the bundle, so no view is staged for them.
var stagingEcosystems = map[types.Ecosystem]bool{
	types.EcosystemNpm: true,
	types.EcosystemPip: true,
}

// Provisioner drives the external repository manager: permanent caches
// shared by every request, and per-request staged views that get
// locked down to exactly the resolved dependency set. All resource
// names are deterministic functions of the request identity, so
// re-execution after a crash upserts instead of duplicating, and
// concurrent requests never touch each other's resources.
type Provisioner struct {
	Client ports.StoreClientPort
	// HosterPrefix namespaces every repository this instance manages.
	HosterPrefix string
	// RegistryURLs maps each ecosystem to the upstream registry its
	// proxy cache pulls through.
	RegistryURLs map[types.Ecosystem]string
}

func NewProvisioner(client ports.StoreClientPort, prefix string, registries map[types.Ecosystem]string) Provisioner {
	if prefix == "" {
		prefix = "depvault"
	}
	return Provisioner{Client: client, HosterPrefix: prefix, RegistryURLs: registries}
}

func (p Provisioner) NeedsStaging(eco types.Ecosystem) bool {
	return stagingEcosystems[eco]
}

// HostedRepoName is the permanent content-addressed store of one
// ecosystem.
func (p Provisioner) HostedRepoName(eco types.Ecosystem) string {
	return fmt.Sprintf("%s-%s-hosted", p.HosterPrefix, eco)
}

// ProxyRepoName is the permanent pull-through cache of one ecosystem.
func (p Provisioner) ProxyRepoName(eco types.Ecosystem) string {
	return fmt.Sprintf("%s-%s-proxy", p.HosterPrefix, eco)
}

// StagedRepoName is the request-scoped view. Deriving it from the
// request identity is what makes every staging call an idempotent
// upsert rather than a read-modify-write race.
func (p Provisioner) StagedRepoName(requestID string, eco types.Ecosystem) string {
	return fmt.Sprintf("%s-%s-%s", p.HosterPrefix, eco, requestID)
}

// EnsurePermanentCache creates the shared cache structures for an
// ecosystem if absent. The server-side script is an upsert; calling it
// again with the same arguments is a no-op.
func (p Provisioner) EnsurePermanentCache(ctx context.Context, eco types.Ecosystem) (types.CacheHandle, error) {
	if !eco.Valid() {
		return types.CacheHandle{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unsupported ecosystem: %s", eco))
	}
	handle := types.CacheHandle{
		Ecosystem: eco,
		Hosted:    p.HostedRepoName(eco),
	}
	args := ports.ScriptArgs{
		"format":      string(eco),
		"hosted_name": handle.Hosted,
	}
	if registry := p.RegistryURLs[eco]; registry != "" {
		handle.Proxy = p.ProxyRepoName(eco)
		args["proxy_name"] = handle.Proxy
		args["registry_url"] = registry
	}
	if err := p.Client.RunScript(ctx, "create_permanent_caches", args); err != nil {
		return types.CacheHandle{}, err
	}
	log.Ctx(ctx).Debug().Str("ecosystem", string(eco)).Msg("permanent cache ensured")
	return handle, nil
}

// Ingest inserts one artifact into the permanent cache, addressed by
// the dependency coordinates. If the address already exists the bytes
// are not compared; first-cached content wins permanently. That
// trust-on-first-cache tradeoff is deliberate and documented.
func (p Provisioner) Ingest(ctx context.Context, handle types.CacheHandle, dep types.Dependency, artifact []byte, checksum string) (types.IngestOutcome, error) {
	if len(artifact) == 0 || checksum == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("ingest requires artifact bytes and a checksum")
	}
	name, version := componentCoordinates(dep, checksum)
	exists, err := p.Client.ComponentExists(ctx, handle.Hosted, handle.Ecosystem, name, version)
	if err != nil {
		return "", err
	}
	if exists {
		log.Ctx(ctx).Debug().
			Str("name", name).
			Str("version", version).
			Msg("artifact already cached, skipping upload")
		return types.IngestAlreadyPresent, nil
	}
	err = p.Client.Upload(ctx, ports.UploadComponent{
		Repository: handle.Hosted,
		Format:     handle.Ecosystem,
		Name:       name,
		Version:    version,
		Artifact:   artifact,
		Checksum:   checksum,
	})
	if err != nil {
		// A concurrent request may win the insert between the existence
		// check and the upload. The loser's insert is a no-op.
		if errbuilder.CodeOf(err) == errbuilder.CodeAlreadyExists {
			return types.IngestAlreadyPresent, nil
		}
		return "", err
	}
	return types.IngestStored, nil
}

// StageForRequest creates or updates the request-scoped view exposing
// exactly the given dependency set. The orchestrator only calls this
// once the full graph is resolved; partial graphs are never staged.
func (p Provisioner) StageForRequest(ctx context.Context, requestID string, eco types.Ecosystem, deps []types.Dependency) (types.ProvisionedRepository, error) {
	if strings.TrimSpace(requestID) == "" {
		return types.ProvisionedRepository{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("request id is empty")
	}
	if !p.NeedsStaging(eco) {
		return types.ProvisionedRepository{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("ecosystem %s does not stage a request view", eco))
	}
	name := p.StagedRepoName(requestID, eco)
	staged := stagedCoordinates(deps)
	args := ports.ScriptArgs{
		"repository_name": name,
		"format":          string(eco),
		"hosted_name":     p.HostedRepoName(eco),
		"allowlist":       staged,
	}
	if registry := p.RegistryURLs[eco]; registry != "" {
		args["proxy_name"] = p.ProxyRepoName(eco)
	}
	if err := p.Client.RunScript(ctx, "stage_request_repository", args); err != nil {
		return types.ProvisionedRepository{}, err
	}
	view, found, err := p.Client.GetRepository(ctx, name)
	if err != nil {
		return types.ProvisionedRepository{}, err
	}
	if !found {
		return types.ProvisionedRepository{}, errbuilder.New().
			WithCode(errbuilder.CodeDataLoss).
			WithMsg(fmt.Sprintf("staged repository %s is missing after staging", name))
	}
	repo := types.ProvisionedRepository{
		Name:      name,
		Ecosystem: eco,
		URL:       view.URL,
		Staged:    staged,
	}
	log.Ctx(ctx).Info().
		Str("repository", name).
		Int("dependencies", len(staged)).
		Msg("request view staged")
	return repo, nil
}

// Lockdown freezes the staged view to its staged content and restricts
// access to a freshly minted ephemeral principal. The staged
// configuration is read back afterwards; a mismatch means the manager
// silently dropped part of the update, which is retried once before
// the request fails.
func (p Provisioner) Lockdown(ctx context.Context, repo *types.ProvisionedRepository) error {
	if repo == nil || repo.Name == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("lockdown requires a staged repository")
	}
	principal := types.EphemeralPrincipal{
		Username: repo.Name,
		Password: uuid.NewString(),
	}
	args := ports.ScriptArgs{
		"repository_name": repo.Name,
		"username":        principal.Username,
		"password":        principal.Password,
	}
	want := repo.Staged

	for attempt := 0; attempt < 2; attempt++ {
		if err := p.Client.RunScript(ctx, "lock_request_repository", args); err != nil {
			return err
		}
		mismatch, err := p.verifyLockdown(ctx, repo.Name, want)
		if err != nil {
			return err
		}
		if mismatch == "" {
			repo.Principal = principal
			repo.LockedDown = true
			log.Ctx(ctx).Info().Str("repository", repo.Name).Msg("request view locked down")
			return nil
		}
		log.Ctx(ctx).Warn().
			Str("repository", repo.Name).
			Str("mismatch", mismatch).
			Msg("lockdown verification mismatch, forcing one retry")
	}
	return errbuilder.New().
		WithCode(errbuilder.CodeDataLoss).
		WithMsg(fmt.Sprintf("repository %s does not match its staged configuration after lockdown", repo.Name))
}

func (p Provisioner) verifyLockdown(ctx context.Context, name string, want []string) (string, error) {
	view, found, err := p.Client.GetRepository(ctx, name)
	if err != nil {
		return "", err
	}
	if !found {
		return "repository absent", nil
	}
	if !view.Locked {
		return "repository not locked", nil
	}
	got := append([]string(nil), view.Components...)
	sort.Strings(got)
	if len(got) != len(want) {
		return fmt.Sprintf("component count %d, staged %d", len(got), len(want)), nil
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Sprintf("component %s, staged %s", got[i], want[i]), nil
		}
	}
	return "", nil
}

// Teardown deletes the staged view and its principal. Absent resources
// are a success: the sweep re-runs teardown unconditionally.
func (p Provisioner) Teardown(ctx context.Context, repo types.ProvisionedRepository) error {
	if repo.Name == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("teardown requires a repository name")
	}
	err := p.Client.RunScript(ctx, "remove_request_repository", ports.ScriptArgs{
		"repository_name": repo.Name,
		"username":        repo.Name,
	})
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
			return nil
		}
		return err
	}
	log.Ctx(ctx).Info().Str("repository", repo.Name).Msg("request view torn down")
	return nil
}

// componentCoordinates derives the content address used in the
// permanent cache. Registry dependencies keep their coordinates;
// opaque locators (VCS refs, URLs, paths) are addressed by checksum so
// equal content from different requests collapses to one artifact.
func componentCoordinates(dep types.Dependency, checksum string) (string, string) {
	if strings.ContainsAny(dep.Version, ":/#") {
		short := checksum
		if len(short) > 12 {
			short = short[:12]
		}
		return dep.Name, "external-" + short
	}
	return dep.Name, dep.Version
}

func stagedCoordinates(deps []types.Dependency) []string {
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		out = append(out, dep.Name+"@"+dep.Version)
	}
	sort.Strings(out)
	return out
}
