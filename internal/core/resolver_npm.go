package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"depvault/internal/policies"
	"depvault/internal/ports"
	"depvault/internal/types"
)

// NpmResolver resolves npm dependencies from npm-shrinkwrap.json or
// package-lock.json. The lock file is authoritative; package.json only
// names the package. Non-registry locators are classified as VCS, URL
// or local, and local paths must be allowlisted.
type NpmResolver struct {
	Policy policies.EcosystemPolicy
}

func NewNpmResolver(policy policies.EcosystemPolicy) NpmResolver {
	return NpmResolver{Policy: policy}
}

func (r NpmResolver) Ecosystem() types.Ecosystem { return types.EcosystemNpm }

var npmGitPrefixes = []string{
	"git://", "git+http://", "git+https://", "git+ssh://",
	"github:", "bitbucket:", "gitlab:",
}

var commitRefRE = regexp.MustCompile(`#[0-9a-f]{40}$`)

type npmPackageJSON struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type npmLockEntry struct {
	Version string `json:"version"`
	Dev     bool   `json:"dev"`
	// v1 lockfiles write "bundled", v2/v3 write "inBundle". Both mean
	// the tarball ships inside the parent package.
	Bundled      bool                    `json:"bundled"`
	InBundle     bool                    `json:"inBundle"`
	Resolved     string                  `json:"resolved"`
	Integrity    string                  `json:"integrity"`
	Link         bool                    `json:"link"`
	Dependencies map[string]npmLockEntry `json:"dependencies"`
}

type npmLockFile struct {
	LockfileVersion int                     `json:"lockfileVersion"`
	Packages        map[string]npmLockEntry `json:"packages"`
	Dependencies    map[string]npmLockEntry `json:"dependencies"`
}

func (r NpmResolver) Resolve(ctx context.Context, in ports.ResolveInput) (types.Resolution, error) {
	pkgDir := filepath.Join(in.SourceDir, in.Path)
	manifest, err := readNpmPackageJSON(pkgDir, in.Path)
	if err != nil {
		return types.Resolution{}, err
	}
	lock, lockName, err := readNpmLock(pkgDir)
	if err != nil {
		return types.Resolution{}, err
	}

	collector := npmCollector{allowlist: in.LocalAllowlist}
	if len(lock.Packages) > 0 {
		err = collector.fromPackagesMap(lock.Packages)
	} else {
		err = collector.fromDependencyTree(lock.Dependencies)
	}
	if err != nil {
		return types.Resolution{}, err
	}

	deps, fetches := collector.finish()
	deps, err = applyReplacements(types.EcosystemNpm, deps, in.Replacements)
	if err != nil {
		return types.Resolution{}, err
	}
	fetches = reconcileFetches(deps, fetches)

	pkg := types.Package{
		Type:    types.EcosystemNpm,
		Name:    manifest.Name,
		Version: manifest.Version,
		Path:    in.Path,
	}
	for i := range deps {
		pkg.Dependencies = append(pkg.Dependencies, i)
	}
	log.Ctx(ctx).Debug().
		Str("package", manifest.Name).
		Str("lockfile", lockName).
		Int("dependencies", len(deps)).
		Msg("npm resolution finished")
	return types.Resolution{Package: pkg, Dependencies: deps, Fetches: fetches}, nil
}

func readNpmPackageJSON(pkgDir, relPath string) (npmPackageJSON, error) {
	raw, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return npmPackageJSON{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("package.json is missing at %s", filepath.Join(relPath, "package.json"))).
			WithCause(err)
	}
	var manifest npmPackageJSON
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return npmPackageJSON{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse package.json").
			WithCause(err)
	}
	if manifest.Name == "" {
		return npmPackageJSON{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("package.json does not declare a name")
	}
	return manifest, nil
}

// readNpmLock loads npm-shrinkwrap.json when present, otherwise
// package-lock.json. npm itself gives shrinkwrap the same precedence.
func readNpmLock(pkgDir string) (npmLockFile, string, error) {
	for _, name := range []string{"npm-shrinkwrap.json", "package-lock.json"} {
		raw, err := os.ReadFile(filepath.Join(pkgDir, name))
		if err != nil {
			continue
		}
		var lock npmLockFile
		if err := json.Unmarshal(raw, &lock); err != nil {
			return npmLockFile{}, "", errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("failed to parse %s", name)).
				WithCause(err)
		}
		return lock, name, nil
	}
	return npmLockFile{}, "", errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg("npm requires a package-lock.json or npm-shrinkwrap.json lock file")
}

type npmDepRecord struct {
	dep   types.Dependency
	fetch *types.FetchSpec
}

type npmCollector struct {
	allowlist []string
	records   map[string]*npmDepRecord
}

// add deduplicates by name and version. A duplicate that is non-dev
// marks the dependency non-dev so the visible flag reflects the
// strongest use of the dependency. A duplicate seen with a fetchable
// source upgrades a record first collected as bundled, since the same
// version may appear both inside a parent tarball and standalone.
func (c *npmCollector) add(name string, entry npmLockEntry) error {
	if c.records == nil {
		c.records = map[string]*npmDepRecord{}
	}
	dep, fetch, err := classifyNpmEntry(name, entry, c.allowlist)
	if err != nil {
		return err
	}
	key := dep.Key()
	if existing, ok := c.records[key]; ok {
		if !entry.Dev {
			existing.dep.Dev = boolPtr(false)
		}
		if existing.fetch == nil && fetch != nil {
			existing.fetch = fetch
		}
		return nil
	}
	c.records[key] = &npmDepRecord{dep: dep, fetch: fetch}
	return nil
}

func (c *npmCollector) fromPackagesMap(packages map[string]npmLockEntry) error {
	for path, entry := range packages {
		if path == "" || entry.Link {
			continue
		}
		name := npmNameFromPath(path)
		if name == "" {
			continue
		}
		if err := c.add(name, entry); err != nil {
			return err
		}
	}
	return nil
}

func (c *npmCollector) fromDependencyTree(tree map[string]npmLockEntry) error {
	for name, entry := range tree {
		if err := c.add(name, entry); err != nil {
			return err
		}
		if len(entry.Dependencies) > 0 {
			if err := c.fromDependencyTree(entry.Dependencies); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *npmCollector) finish() ([]types.Dependency, []types.FetchSpec) {
	keys := make([]string, 0, len(c.records))
	for key := range c.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var deps []types.Dependency
	var fetches []types.FetchSpec
	for _, key := range keys {
		record := c.records[key]
		deps = append(deps, record.dep)
		if record.fetch != nil {
			fetches = append(fetches, *record.fetch)
		}
	}
	return deps, fetches
}

// classifyNpmEntry decides the locator class of one lock entry and
// produces its fetch spec. Bundled dependencies ship inside their
// parent tarball and are never fetched on their own.
func classifyNpmEntry(name string, entry npmLockEntry, allowlist []string) (types.Dependency, *types.FetchSpec, error) {
	dep := types.Dependency{
		Type:    types.EcosystemNpm,
		Name:    name,
		Version: entry.Version,
		Dev:     boolPtr(entry.Dev),
	}
	if entry.Bundled || entry.InBundle {
		return dep, nil, nil
	}

	locator := entry.Version
	if entry.Resolved != "" && !strings.HasPrefix(entry.Resolved, "http") {
		locator = entry.Resolved
	}
	switch {
	case hasAnyPrefix(locator, npmGitPrefixes):
		if !commitRefRE.MatchString(locator) {
			return dep, nil, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("npm dependency %s is not pinned to a commit: %s", name, locator))
		}
		return dep, &types.FetchSpec{
			Dependency: dep,
			Kind:       types.SourceKindVCS,
			URL:        locator,
			Integrity:  entry.Integrity,
		}, nil
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		if entry.Integrity == "" {
			return dep, nil, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("npm dependency %s from %s has no integrity checksum", name, locator))
		}
		return dep, &types.FetchSpec{
			Dependency: dep,
			Kind:       types.SourceKindURL,
			URL:        locator,
			Integrity:  entry.Integrity,
		}, nil
	case strings.HasPrefix(locator, "file:"):
		if !allowlisted(name, allowlist) {
			return dep, nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("local dependency %s is not allowlisted", name))
		}
		dep.Version = strings.TrimPrefix(locator, "file:")
		return dep, nil, nil
	}

	if entry.Version == "" || strings.ContainsAny(entry.Version, "^~*<>= ") {
		return dep, nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("npm dependency %s has unpinned version %q", name, entry.Version))
	}
	if entry.Resolved == "" {
		return dep, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("npm dependency %s has an unsupported source: %s", name, locator))
	}
	return dep, &types.FetchSpec{
		Dependency: dep,
		Kind:       types.SourceKindRegistry,
		URL:        entry.Resolved,
		Integrity:  entry.Integrity,
	}, nil
}

// reconcileFetches drops fetch specs whose dependency was rewritten by
// a replacement directive and re-points them at the replacement
// coordinates so the staged view only ever exposes the emitted graph.
func reconcileFetches(deps []types.Dependency, fetches []types.FetchSpec) []types.FetchSpec {
	replaced := map[string]types.Dependency{}
	for _, dep := range deps {
		if dep.Replaces != nil {
			replaced[dep.Replaces.Name+"\x00"+dep.Replaces.Version] = dep
		}
	}
	if len(replaced) == 0 {
		return fetches
	}
	out := fetches[:0]
	for _, fetch := range fetches {
		if dep, ok := replaced[fetch.Dependency.Name+"\x00"+fetch.Dependency.Version]; ok {
			fetch.Dependency = dep
			fetch.URL = ""
			fetch.Integrity = ""
		}
		out = append(out, fetch)
	}
	return out
}

// npmNameFromPath derives the package name from a v2/v3 lock path such
// as node_modules/@scope/pkg or nested node_modules entries.
func npmNameFromPath(path string) string {
	const marker = "node_modules/"
	idx := strings.LastIndex(path, marker)
	if idx < 0 {
		return ""
	}
	return path[idx+len(marker):]
}

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}

func boolPtr(v bool) *bool { return &v }
