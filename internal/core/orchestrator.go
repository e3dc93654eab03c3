package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"depvault/internal/ports"
	"depvault/internal/types"
)

const defaultResolveWorkers = 4

// Orchestrator owns the request lifecycle state machine. It is the
// only component that mutates a request's state; resolvers, the
// fetcher and the provisioner report outcomes here and never
// transition state themselves.
type Orchestrator struct {
	Requests    ports.RequestStorePort
	Source      ports.SourcePort
	Registry    Registry
	Fetcher     ports.FetcherPort
	Provisioner ports.ProvisionerPort
	Clock       ports.ClockPort
	// CACert is handed through to the emitted connection info.
	CACert string
	// Workers bounds parallel resolution and artifact fetching within
	// one request.
	Workers int
}

// Process claims one request and drives it to complete or failed. The
// claim succeeds exactly once; a redelivered task for an already
// claimed request is rejected with an already-exists error and must
// not be retried.
func (o Orchestrator) Process(ctx context.Context, requestID string) error {
	req, err := o.Requests.Claim(ctx, requestID)
	if err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("request", req.ID).Msg("request claimed")

	if err := o.run(ctx, &req); err != nil {
		component := types.ComponentLifecycle
		var failure processFailure
		if errors.As(err, &failure) {
			component = failure.component
			err = failure.err
		}
		o.fail(ctx, &req, component, err)
		return err
	}
	return nil
}

// processFailure tags an error with the component it originated in so
// the terminal state reason names the culprit.
type processFailure struct {
	component types.Component
	err       error
}

func (f processFailure) Error() string { return f.err.Error() }
func (f processFailure) Unwrap() error { return f.err }

func failAt(component types.Component, err error) error {
	return processFailure{component: component, err: err}
}

func (o Orchestrator) run(ctx context.Context, req *types.Request) error {
	assert.NotEmpty(ctx, req.ID, "request id must be set")
	assert.NotEmpty(ctx, req.RepoURL, "request repo url must be set")
	if len(req.PackageManagers) == 0 {
		return failAt(types.ComponentLifecycle, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("request declares no package managers"))
	}

	o.progress(ctx, req, "fetching the application source")
	srcDir, err := o.Source.Fetch(ctx, req.RepoURL, req.Ref, req.HasFlag(types.FlagIncludeGitDir))
	if err != nil {
		return failAt(types.ComponentSource, err)
	}

	o.progress(ctx, req, "resolving the dependency graph")
	resolutions, err := o.resolveAll(ctx, *req, srcDir)
	if err != nil {
		return failAt(types.ComponentResolver, err)
	}

	packages, deps, fetches := mergeResolutions(resolutions)
	// Expose partial findings for diagnosability even if a later step
	// fails; state is still in_progress so nothing consumes them yet.
	req.Packages = packages
	req.Dependencies = deps
	o.progress(ctx, req, "caching the discovered dependencies")

	if err := o.fetchAndIngest(ctx, fetches); err != nil {
		return err
	}

	repos, err := o.stageAll(ctx, *req, deps)
	if err != nil {
		return failAt(types.ComponentProvisioner, err)
	}

	req.Connection = buildConnectionInfo(*req, repos, o.CACert)
	req.State = types.RequestStateComplete
	req.StateReason = "completed successfully"
	req.Updated = o.Clock()
	if err := o.Requests.Save(ctx, *req); err != nil {
		return failAt(types.ComponentLifecycle, err)
	}
	log.Ctx(ctx).Info().
		Str("request", req.ID).
		Int("packages", len(req.Packages)).
		Int("dependencies", len(req.Dependencies)).
		Msg("request complete")
	return nil
}

// resolveAll runs each declared package manager over a bounded worker
// pool. Resolution of independent packages may race; the merge step
// restores deterministic order. Cancellation is cooperative and
// observed between packages.
func (o Orchestrator) resolveAll(ctx context.Context, req types.Request, srcDir string) ([]types.Resolution, error) {
	type outcome struct {
		idx int
		res types.Resolution
		ok  bool
		err error
	}
	workerCount := o.Workers
	if workerCount <= 0 {
		workerCount = defaultResolveWorkers
	}
	if len(req.PackageManagers) < workerCount {
		workerCount = len(req.PackageManagers)
	}

	tasks := make(chan int)
	results := make(chan outcome, len(req.PackageManagers))
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				if ctx.Err() != nil {
					results <- outcome{idx: idx, err: ctx.Err()}
					continue
				}
				pm := req.PackageManagers[idx]
				res, skipped, err := o.Registry.Resolve(ctx, pm.Type, ports.ResolveInput{
					SourceDir:    srcDir,
					Path:         pm.Path,
					Ref:          req.Ref,
					Flags:        req.Flags,
					Replacements: req.Replacements,
				})
				results <- outcome{idx: idx, res: res, ok: !skipped, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	for idx := range req.PackageManagers {
		tasks <- idx
	}
	close(tasks)

	ordered := make([]*types.Resolution, len(req.PackageManagers))
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		if res.ok {
			resolution := res.res
			ordered[res.idx] = &resolution
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	var out []types.Resolution
	for _, res := range ordered {
		if res != nil {
			out = append(out, *res)
		}
	}
	return out, nil
}

// mergeResolutions builds the request-level package list and the
// deduplicated dependency union, remapping each package's dependency
// references into the union.
func mergeResolutions(resolutions []types.Resolution) ([]types.Package, []types.Dependency, []types.FetchSpec) {
	var packages []types.Package
	var union []types.Dependency
	index := map[string]int{}
	fetchSeen := map[string]bool{}
	var fetches []types.FetchSpec

	for _, res := range resolutions {
		pkg := res.Package
		var remapped []int
		for _, depIdx := range pkg.Dependencies {
			dep := res.Dependencies[depIdx]
			pos, ok := index[dep.Key()]
			if !ok {
				pos = len(union)
				index[dep.Key()] = pos
				union = append(union, dep)
			}
			remapped = append(remapped, pos)
		}
		pkg.Dependencies = remapped
		packages = append(packages, pkg)

		for _, fetch := range res.Fetches {
			if fetchSeen[fetch.Dependency.Key()] {
				continue
			}
			fetchSeen[fetch.Dependency.Key()] = true
			fetches = append(fetches, fetch)
		}
	}
	sort.Slice(packages, func(i, j int) bool {
		if packages[i].Type != packages[j].Type {
			return packages[i].Type < packages[j].Type
		}
		return packages[i].Path < packages[j].Path
	})
	return packages, union, fetches
}

// fetchAndIngest retrieves every artifact not already in the permanent
// cache. Concurrent requests discovering the same dependency race
// harmlessly: content addressing makes the loser's insert a no-op.
func (o Orchestrator) fetchAndIngest(ctx context.Context, fetches []types.FetchSpec) error {
	handles := map[types.Ecosystem]types.CacheHandle{}
	for _, fetch := range fetches {
		if _, ok := handles[fetch.Dependency.Type]; ok {
			continue
		}
		handle, err := o.Provisioner.EnsurePermanentCache(ctx, fetch.Dependency.Type)
		if err != nil {
			return failAt(types.ComponentProvisioner, err)
		}
		handles[fetch.Dependency.Type] = handle
	}

	for _, fetch := range fetches {
		if ctx.Err() != nil {
			return failAt(types.ComponentLifecycle, errbuilder.New().
				WithCode(errbuilder.CodeDeadlineExceeded).
				WithMsg("request processing was cancelled").
				WithCause(ctx.Err()))
		}
		artifact, err := o.Fetcher.Fetch(ctx, fetch)
		if err != nil {
			return failAt(types.ComponentFetcher, err)
		}
		outcome, err := o.Provisioner.Ingest(ctx, handles[fetch.Dependency.Type], fetch.Dependency, artifact.Bytes, artifact.Checksum)
		if err != nil {
			return failAt(types.ComponentProvisioner, err)
		}
		log.Ctx(ctx).Debug().
			Str("dependency", fetch.Dependency.Name).
			Str("version", fetch.Dependency.Version).
			Str("outcome", string(outcome)).
			Msg("dependency cached")
	}
	return nil
}

// stageAll provisions one locked-down view per ecosystem that needs
// staging. Staging only starts once the request's graph is fully
// resolved, and runs serially: concurrent upserts to the same staged
// view name race.
func (o Orchestrator) stageAll(ctx context.Context, req types.Request, deps []types.Dependency) ([]types.ProvisionedRepository, error) {
	var repos []types.ProvisionedRepository
	for _, eco := range types.Ecosystems {
		if !o.Provisioner.NeedsStaging(eco) || !requestUses(req, eco) {
			continue
		}
		var ecoDeps []types.Dependency
		for _, dep := range deps {
			if dep.Type == eco {
				ecoDeps = append(ecoDeps, dep)
			}
		}
		repo, err := o.Provisioner.StageForRequest(ctx, req.ID, eco, ecoDeps)
		if err != nil {
			return nil, err
		}
		if err := o.Provisioner.Lockdown(ctx, &repo); err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

func requestUses(req types.Request, eco types.Ecosystem) bool {
	for _, pm := range req.PackageManagers {
		if pm.Type == eco {
			return true
		}
	}
	return false
}

// progress records an in_progress checkpoint. Persisting the reason
// lets operators see where a stuck request got to.
func (o Orchestrator) progress(ctx context.Context, req *types.Request, reason string) {
	req.StateReason = reason
	req.Updated = o.Clock()
	if err := o.Requests.Save(ctx, *req); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("request", req.ID).Msg("failed to persist progress")
	}
}

// fail records the terminal failure with its originating component.
// Partial package and dependency listings stay on the record for
// diagnosability; connection info is never produced. Permanent-cache
// inserts are not rolled back, they are harmless if unused. Any staged
// view is torn down best effort; the staleness sweep retries later.
func (o Orchestrator) fail(ctx context.Context, req *types.Request, component types.Component, cause error) {
	for _, eco := range types.Ecosystems {
		if !o.Provisioner.NeedsStaging(eco) || !requestUses(*req, eco) {
			continue
		}
		repo := types.ProvisionedRepository{
			Name:      o.Provisioner.StagedRepoName(req.ID, eco),
			Ecosystem: eco,
		}
		if err := o.Provisioner.Teardown(ctx, repo); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str("repository", repo.Name).
				Msg("failed to tear down staged view of failed request")
		}
	}
	req.State = types.RequestStateFailed
	req.StateReason = fmt.Sprintf("%s: %s", component, errorText(cause))
	req.Connection = nil
	req.Updated = o.Clock()
	if err := o.Requests.Save(ctx, *req); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("request", req.ID).Msg("failed to persist failure")
	}
	log.Ctx(ctx).Error().
		Str("request", req.ID).
		Str("component", string(component)).
		Err(cause).
		Msg("request failed")
}

func errorText(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && builder.Msg != "" {
		return builder.Msg
	}
	return err.Error()
}
