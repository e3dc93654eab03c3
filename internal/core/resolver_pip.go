package core

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	pep440 "github.com/aquasecurity/go-pep440-version"
	"github.com/rs/zerolog/log"

	"depvault/internal/policies"
	"depvault/internal/ports"
	"depvault/internal/shared"
	"depvault/internal/types"
)

// PipResolver resolves Python dependencies from requirements.txt (and
// requirements-build.txt for build/dev requirements). Every registry
// requirement must be pinned with an exact "==" specifier and VCS
// requirements must reference an immutable commit; both checks run
// before any network activity.
type PipResolver struct {
	Policy policies.EcosystemPolicy
}

func NewPipResolver(policy policies.EcosystemPolicy) PipResolver {
	return PipResolver{Policy: policy}
}

func (r PipResolver) Ecosystem() types.Ecosystem { return types.EcosystemPip }

var (
	pipPinnedRE = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)(\[[^\]]*\])?==([^\s;]+)$`)
	pipVCSRefRE = regexp.MustCompile(`@([0-9a-f]{40})(?:#|$)`)
	pipEggRE    = regexp.MustCompile(`[#&]egg=([A-Za-z0-9._-]+)`)
	sha256FragRE = regexp.MustCompile(`#sha256=([0-9a-f]{64})`)
)

func (r PipResolver) Resolve(ctx context.Context, in ports.ResolveInput) (types.Resolution, error) {
	pkgDir := filepath.Join(in.SourceDir, in.Path)
	mainPath := filepath.Join(pkgDir, "requirements.txt")
	if _, err := os.Stat(mainPath); err != nil {
		return types.Resolution{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("requirements.txt is missing at %s", filepath.Join(in.Path, "requirements.txt"))).
			WithCause(err)
	}

	var deps []types.Dependency
	var fetches []types.FetchSpec
	seen := map[string]bool{}

	collect := func(path string, dev bool) error {
		lines, err := readRequirementLines(path)
		if err != nil {
			return err
		}
		for _, line := range lines {
			dep, fetch, err := r.parseRequirement(line, dev, in.LocalAllowlist)
			if err != nil {
				return err
			}
			if seen[dep.Key()] {
				continue
			}
			seen[dep.Key()] = true
			deps = append(deps, dep)
			if fetch != nil {
				fetches = append(fetches, *fetch)
			}
		}
		return nil
	}

	if err := collect(mainPath, false); err != nil {
		return types.Resolution{}, err
	}
	buildPath := filepath.Join(pkgDir, "requirements-build.txt")
	if _, err := os.Stat(buildPath); err == nil {
		if err := collect(buildPath, true); err != nil {
			return types.Resolution{}, err
		}
	}

	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Name != deps[j].Name {
			return deps[i].Name < deps[j].Name
		}
		return deps[i].Version < deps[j].Version
	})

	deps, err := applyReplacements(types.EcosystemPip, deps, normalizePipDirectives(in.Replacements))
	if err != nil {
		return types.Resolution{}, err
	}
	fetches = reconcileFetches(deps, fetches)

	pkg := types.Package{
		Type:    types.EcosystemPip,
		Name:    pipProjectName(pkgDir, in),
		Version: in.Ref,
		Path:    in.Path,
	}
	for i := range deps {
		pkg.Dependencies = append(pkg.Dependencies, i)
	}
	log.Ctx(ctx).Debug().
		Str("package", pkg.Name).
		Int("dependencies", len(deps)).
		Msg("pip resolution finished")
	return types.Resolution{Package: pkg, Dependencies: deps, Fetches: fetches}, nil
}

// parseRequirement classifies one requirement line. Registry entries
// must be "name==version"; VCS entries must be git+https with a
// 40-char commit; URL entries must carry a sha256 fragment; local
// paths must be allowlisted.
func (r PipResolver) parseRequirement(line string, dev bool, allowlist []string) (types.Dependency, *types.FetchSpec, error) {
	spec, _ := splitRequirementOptions(line)

	switch {
	case strings.HasPrefix(spec, "git+"), strings.HasPrefix(spec, "hg+"),
		strings.HasPrefix(spec, "svn+"), strings.HasPrefix(spec, "bzr+"):
		return r.parseVCSRequirement(spec, dev)
	case strings.HasPrefix(spec, "http://"), strings.HasPrefix(spec, "https://"):
		return r.parseURLRequirement(spec, dev)
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"),
		strings.HasPrefix(spec, "file:"), strings.HasPrefix(spec, "-e "):
		return r.parseLocalRequirement(spec, dev, allowlist)
	}

	match := pipPinnedRE.FindStringSubmatch(spec)
	if match == nil {
		return types.Dependency{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("requirement %q is not pinned to an exact version", spec))
	}
	name := shared.NormalizePipName(match[1])
	version := match[3]
	if _, err := pep440.Parse(version); err != nil {
		return types.Dependency{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("requirement %s has invalid version %q", name, version)).
			WithCause(err)
	}
	dep := types.Dependency{Type: types.EcosystemPip, Name: name, Version: version, Dev: &dev}
	return dep, &types.FetchSpec{Dependency: dep, Kind: types.SourceKindRegistry}, nil
}

func (r PipResolver) parseVCSRequirement(spec string, dev bool) (types.Dependency, *types.FetchSpec, error) {
	if !strings.HasPrefix(spec, "git+https://") && !strings.HasPrefix(spec, "git+ssh://") {
		return types.Dependency{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("VCS requirement %q uses an unsupported scheme", spec))
	}
	egg := pipEggRE.FindStringSubmatch(spec)
	if egg == nil {
		return types.Dependency{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("VCS requirement %q does not name its package with #egg=", spec))
	}
	if !pipVCSRefRE.MatchString(spec) {
		return types.Dependency{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("VCS requirement %q is not pinned to a full commit", spec))
	}
	dep := types.Dependency{
		Type:    types.EcosystemPip,
		Name:    shared.NormalizePipName(egg[1]),
		Version: spec,
		Dev:     &dev,
	}
	return dep, &types.FetchSpec{Dependency: dep, Kind: types.SourceKindVCS, URL: spec}, nil
}

func (r PipResolver) parseURLRequirement(spec string, dev bool) (types.Dependency, *types.FetchSpec, error) {
	sum := sha256FragRE.FindStringSubmatch(spec)
	if sum == nil {
		return types.Dependency{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("URL requirement %q has no sha256 checksum fragment", spec))
	}
	name := urlRequirementName(spec)
	if name == "" {
		return types.Dependency{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("URL requirement %q does not name its package with #egg=", spec))
	}
	dep := types.Dependency{
		Type:    types.EcosystemPip,
		Name:    name,
		Version: spec,
		Dev:     &dev,
	}
	return dep, &types.FetchSpec{
		Dependency: dep,
		Kind:       types.SourceKindURL,
		URL:        spec,
		Integrity:  "sha256:" + sum[1],
	}, nil
}

func (r PipResolver) parseLocalRequirement(spec string, dev bool, allowlist []string) (types.Dependency, *types.FetchSpec, error) {
	path := strings.TrimSpace(strings.TrimPrefix(spec, "-e "))
	path = strings.TrimPrefix(path, "file:")
	name := shared.NormalizePipName(filepath.Base(path))
	if !allowlisted(name, allowlist) {
		return types.Dependency{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("local dependency %s is not allowlisted", name))
	}
	if strings.Contains(path, "..") {
		return types.Dependency{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("local dependency %s points outside the repository", name))
	}
	dep := types.Dependency{Type: types.EcosystemPip, Name: name, Version: path, Dev: &dev}
	return dep, nil, nil
}

// readRequirementLines strips comments, folds continuations and keeps
// ordering. Global options such as --index-url are refused: the staged
// view decides where installs come from, not the manifest.
func readRequirementLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("failed to read requirements file").
			WithCause(err)
	}
	defer file.Close()

	var lines []string
	var pending string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, "\\") {
			pending += strings.TrimSuffix(line, "\\") + " "
			continue
		}
		line = strings.TrimSpace(pending + line)
		pending = ""
		if strings.HasPrefix(line, "--") || strings.HasPrefix(line, "-i ") || strings.HasPrefix(line, "-r ") {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("requirements option %q is not supported", line))
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read requirements file").
			WithCause(err)
	}
	return lines, nil
}

// splitRequirementOptions separates per-requirement options (--hash)
// from the requirement itself.
func splitRequirementOptions(line string) (spec string, options []string) {
	fields := strings.Fields(line)
	for _, field := range fields {
		if strings.HasPrefix(field, "--hash=") {
			options = append(options, field)
			continue
		}
		if spec == "" {
			spec = field
		} else if field == "-e" || spec == "-e" {
			spec = spec + " " + field
		}
	}
	return spec, options
}

func urlRequirementName(spec string) string {
	if egg := pipEggRE.FindStringSubmatch(spec); egg != nil {
		return shared.NormalizePipName(egg[1])
	}
	return ""
}

// normalizePipDirectives applies PEP 503 normalization to directive
// names so they match however the requirement spelled the package.
func normalizePipDirectives(directives []types.ReplacementDirective) []types.ReplacementDirective {
	out := make([]types.ReplacementDirective, len(directives))
	copy(out, directives)
	for i := range out {
		if out[i].Type == types.EcosystemPip {
			out[i].Name = shared.NormalizePipName(out[i].Name)
			if out[i].NewName != "" {
				out[i].NewName = shared.NormalizePipName(out[i].NewName)
			}
		}
	}
	return out
}

// pipProjectName falls back to the package directory name when the
// tree carries no Python project metadata we parse.
func pipProjectName(pkgDir string, in ports.ResolveInput) string {
	if in.Path != "" {
		return shared.NormalizePipName(filepath.Base(in.Path))
	}
	return shared.NormalizePipName(filepath.Base(pkgDir))
}
