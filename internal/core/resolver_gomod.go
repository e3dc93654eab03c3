package core

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/semver"

	"depvault/internal/policies"
	"depvault/internal/ports"
	"depvault/internal/types"
)

// GomodResolver resolves Go module dependencies from go.mod, with
// go.sum as the authoritative lock artifact. Native replace directives
// are honored transparently; only user-requested replacements surface
// in the Replaces bookkeeping. The ecosystem cannot express a dev
// distinction, so the flag is omitted.
type GomodResolver struct {
	Policy policies.EcosystemPolicy
}

func NewGomodResolver(policy policies.EcosystemPolicy) GomodResolver {
	return GomodResolver{Policy: policy}
}

func (r GomodResolver) Ecosystem() types.Ecosystem { return types.EcosystemGomod }

func (r GomodResolver) Resolve(ctx context.Context, in ports.ResolveInput) (types.Resolution, error) {
	pkgDir := filepath.Join(in.SourceDir, in.Path)
	modPath := filepath.Join(pkgDir, "go.mod")
	raw, err := os.ReadFile(modPath)
	if err != nil {
		return types.Resolution{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("go.mod is missing at %s", filepath.Join(in.Path, "go.mod"))).
			WithCause(err)
	}
	file, err := modfile.Parse(modPath, raw, nil)
	if err != nil {
		return types.Resolution{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse go.mod").
			WithCause(err)
	}
	if file.Module == nil || file.Module.Mod.Path == "" {
		return types.Resolution{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("go.mod does not declare a module path")
	}
	moduleName := file.Module.Mod.Path

	vendored := in.HasFlag(types.FlagVendor)
	vendorDir := filepath.Join(pkgDir, "vendor")
	if !vendored {
		strict := in.HasFlag(types.FlagStrictVendor) || r.Policy.StrictVendor(types.EcosystemGomod)
		if _, statErr := os.Stat(vendorDir); statErr == nil && strict {
			return types.Resolution{}, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("the vendor flag must be set when the repository has vendored dependencies")
		}
	}

	deps, err := r.collectDependencies(in, pkgDir, moduleName, file)
	if err != nil {
		return types.Resolution{}, err
	}

	if vendored {
		if err := r.checkVendorMirror(in, vendorDir, deps); err != nil {
			return types.Resolution{}, err
		}
	} else {
		sums, err := parseGoSum(filepath.Join(pkgDir, "go.sum"))
		if err != nil {
			return types.Resolution{}, err
		}
		for _, dep := range deps {
			if dep.local() {
				continue
			}
			if _, ok := sums[dep.Name+" "+dep.Version]; !ok {
				return types.Resolution{}, errbuilder.New().
					WithCode(errbuilder.CodeFailedPrecondition).
					WithMsg(fmt.Sprintf("go.sum has no entry for %s@%s, the lock artifact is incomplete", dep.Name, dep.Version))
			}
		}
		for i := range deps {
			deps[i].integrity = sums[deps[i].Name+" "+deps[i].Version]
		}
	}

	resolved := make([]types.Dependency, len(deps))
	for i, dep := range deps {
		resolved[i] = types.Dependency{Type: types.EcosystemGomod, Name: dep.Name, Version: dep.Version}
	}
	resolved, err = applyReplacements(types.EcosystemGomod, resolved, in.Replacements)
	if err != nil {
		return types.Resolution{}, err
	}

	var fetches []types.FetchSpec
	if !vendored {
		for i, dep := range resolved {
			if strings.HasPrefix(dep.Version, "./") || strings.HasPrefix(dep.Version, "../") {
				continue
			}
			// A replaced dependency no longer matches the go.sum entry
			// of the version it replaced; it is fetched unverified.
			integrity := deps[i].integrity
			if dep.Replaces != nil {
				integrity = ""
			}
			fetches = append(fetches, types.FetchSpec{
				Dependency: dep,
				Kind:       types.SourceKindRegistry,
				Integrity:  integrity,
			})
		}
	}

	pkg := types.Package{
		Type:    types.EcosystemGomod,
		Name:    moduleName,
		Version: in.Ref,
		Path:    in.Path,
	}
	for i := range resolved {
		pkg.Dependencies = append(pkg.Dependencies, i)
	}
	log.Ctx(ctx).Debug().
		Str("module", moduleName).
		Bool("vendored", vendored).
		Int("dependencies", len(resolved)).
		Msg("gomod resolution finished")
	return types.Resolution{Package: pkg, Dependencies: resolved, Fetches: fetches}, nil
}

type gomodDep struct {
	Name      string
	Version   string
	integrity string
}

func (d gomodDep) local() bool {
	return strings.HasPrefix(d.Version, "./") || strings.HasPrefix(d.Version, "../")
}

// collectDependencies lists required modules with native replace
// directives already applied. Replaces to a local path produce a
// local dependency whose locator is the relative path; those are only
// accepted for allowlisted module names that stay inside the source
// tree.
func (r GomodResolver) collectDependencies(in ports.ResolveInput, pkgDir, moduleName string, file *modfile.File) ([]gomodDep, error) {
	type replacement struct {
		path    string
		version string
	}
	replaces := map[string]replacement{}
	for _, rep := range file.Replace {
		key := rep.Old.Path
		if rep.Old.Version != "" {
			key += "@" + rep.Old.Version
		}
		replaces[key] = replacement{path: rep.New.Path, version: rep.New.Version}
	}

	var deps []gomodDep
	for _, req := range file.Require {
		name := req.Mod.Path
		version := req.Mod.Version
		if name == moduleName {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("module %s requires itself", moduleName))
		}
		rep, replaced := replaces[name+"@"+version]
		if !replaced {
			rep, replaced = replaces[name]
		}
		if replaced {
			if strings.HasPrefix(rep.path, "./") || strings.HasPrefix(rep.path, "../") {
				if err := checkLocalPath(in, pkgDir, name, rep.path, allowlisted(name, in.LocalAllowlist)); err != nil {
					return nil, err
				}
				deps = append(deps, gomodDep{Name: name, Version: rep.path})
				continue
			}
			name = rep.path
			version = rep.version
		}
		if !semver.IsValid(version) {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("module %s has unpinned version %q", name, version))
		}
		deps = append(deps, gomodDep{Name: name, Version: version})
	}
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Name != deps[j].Name {
			return deps[i].Name < deps[j].Name
		}
		return deps[i].Version < deps[j].Version
	})
	return deps, nil
}

// checkVendorMirror verifies vendor/modules.txt agrees with go.mod.
// In strict vendor mode any disagreement fails the request; otherwise
// the mirror is trusted as long as it covers every requirement.
func (r GomodResolver) checkVendorMirror(in ports.ResolveInput, vendorDir string, deps []gomodDep) error {
	mirror, err := parseVendorModules(filepath.Join(vendorDir, "modules.txt"))
	if err != nil {
		return err
	}
	strict := in.HasFlag(types.FlagStrictVendor) || r.Policy.StrictVendor(types.EcosystemGomod)
	for _, dep := range deps {
		if dep.local() {
			continue
		}
		got, ok := mirror[dep.Name]
		if !ok {
			return errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("vendor mirror does not contain %s", dep.Name))
		}
		if strict && got != dep.Version {
			return errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("vendor mirror has %s@%s but the lock artifact pins %s", dep.Name, got, dep.Version))
		}
	}
	return nil
}

// parseGoSum reads the lock artifact into a "path version" → hash map.
// Only the module zip lines carry the artifact integrity; the /go.mod
// lines prove the manifest but not the content.
func parseGoSum(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("go.sum is missing, the dependency set is not pinned").
			WithCause(err)
	}
	defer file.Close()

	sums := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 || strings.HasSuffix(fields[1], "/go.mod") {
			continue
		}
		sums[fields[0]+" "+fields[1]] = fields[2]
	}
	if err := scanner.Err(); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read go.sum").
			WithCause(err)
	}
	return sums, nil
}

// parseVendorModules reads vendor/modules.txt into a module → version
// map. Replacement targets win over the replaced version, matching
// what the vendor tree actually contains.
func parseVendorModules(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("vendor/modules.txt is missing, the mirror is incomplete").
			WithCause(err)
	}
	defer file.Close()

	mirror := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "# ") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "# "))
		if idx := indexOf(fields, "=>"); idx >= 0 {
			// "# old v1 => new v2" or "# old => ./local"
			target := fields[idx+1:]
			if len(target) == 2 {
				mirror[fields[0]] = target[1]
			} else if len(target) == 1 {
				mirror[fields[0]] = target[0]
			}
			continue
		}
		if len(fields) == 2 {
			mirror[fields[0]] = fields[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read vendor/modules.txt").
			WithCause(err)
	}
	return mirror, nil
}

// checkLocalPath enforces the local-path security control: the target
// must be allowlisted by name and must not escape the source tree.
func checkLocalPath(in ports.ResolveInput, pkgDir, name, rel string, allowed bool) error {
	if !allowed {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("local dependency %s is not allowlisted", name))
	}
	root, err := filepath.Abs(in.SourceDir)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to resolve source root").
			WithCause(err)
	}
	target, err := filepath.Abs(filepath.Join(pkgDir, rel))
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to resolve local dependency path").
			WithCause(err)
	}
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("local dependency %s points outside the repository", name))
	}
	return nil
}

func allowlisted(name string, allowlist []string) bool {
	for _, entry := range allowlist {
		if entry == name {
			return true
		}
	}
	return false
}

func indexOf(fields []string, needle string) int {
	for i, f := range fields {
		if f == needle {
			return i
		}
	}
	return -1
}
