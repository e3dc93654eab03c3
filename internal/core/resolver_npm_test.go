package core

import (
	"encoding/json"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"depvault/internal/policies"
	"depvault/internal/ports"
	"depvault/internal/types"
)

const testPackageJSON = `{"name": "webapp", "version": "2.0.0"}`

const testPackageLockV3 = `{
  "lockfileVersion": 3,
  "packages": {
    "": {"name": "webapp", "version": "2.0.0"},
    "node_modules/left-pad": {
      "version": "1.3.0",
      "resolved": "https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz",
      "integrity": "sha512-leftpad"
    },
    "node_modules/@scope/util": {
      "version": "0.9.1",
      "dev": true,
      "resolved": "https://registry.npmjs.org/@scope/util/-/util-0.9.1.tgz",
      "integrity": "sha512-scopeutil"
    }
  }
}`

func TestNpmResolveLockV3(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", testPackageJSON)
	writeFile(t, dir, "package-lock.json", testPackageLockV3)

	resolver := NewNpmResolver(policies.NewEcosystemPolicy())
	res, err := resolver.Resolve(t.Context(), ports.ResolveInput{SourceDir: dir})
	require.NoError(t, err)

	want := []types.Dependency{
		{Type: types.EcosystemNpm, Name: "@scope/util", Version: "0.9.1", Dev: boolPtr(true)},
		{Type: types.EcosystemNpm, Name: "left-pad", Version: "1.3.0", Dev: boolPtr(false)},
	}
	if diff := cmp.Diff(want, res.Dependencies); diff != "" {
		t.Fatalf("unexpected dependencies (-want +got):\n%s", diff)
	}
	require.Equal(t, "webapp", res.Package.Name)
	require.Len(t, res.Fetches, 2)
	require.Equal(t, types.SourceKindRegistry, res.Fetches[0].Kind)
}

func TestNpmResolveShrinkwrapWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", testPackageJSON)
	writeFile(t, dir, "package-lock.json", testPackageLockV3)
	writeFile(t, dir, "npm-shrinkwrap.json", `{
  "lockfileVersion": 3,
  "packages": {
    "node_modules/left-pad": {
      "version": "1.2.0",
      "resolved": "https://registry.npmjs.org/left-pad/-/left-pad-1.2.0.tgz",
      "integrity": "sha512-old"
    }
  }
}`)

	resolver := NewNpmResolver(policies.NewEcosystemPolicy())
	res, err := resolver.Resolve(t.Context(), ports.ResolveInput{SourceDir: dir})
	require.NoError(t, err)
	require.Len(t, res.Dependencies, 1)
	require.Equal(t, "1.2.0", res.Dependencies[0].Version)
}

func TestNpmResolveV1DependencyTree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", testPackageJSON)
	writeFile(t, dir, "package-lock.json", `{
  "lockfileVersion": 1,
  "dependencies": {
    "left-pad": {
      "version": "1.3.0",
      "resolved": "https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz",
      "integrity": "sha512-leftpad",
      "dependencies": {
        "inner": {
          "version": "0.1.0",
          "resolved": "https://registry.npmjs.org/inner/-/inner-0.1.0.tgz",
          "integrity": "sha512-inner"
        }
      }
    }
  }
}`)

	resolver := NewNpmResolver(policies.NewEcosystemPolicy())
	res, err := resolver.Resolve(t.Context(), ports.ResolveInput{SourceDir: dir})
	require.NoError(t, err)
	require.Len(t, res.Dependencies, 2)
	require.Equal(t, "inner", res.Dependencies[0].Name)
}

func TestNpmResolveMissingLock(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", testPackageJSON)

	resolver := NewNpmResolver(policies.NewEcosystemPolicy())
	_, err := resolver.Resolve(t.Context(), ports.ResolveInput{SourceDir: dir})
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
}

func TestNpmResolveMissingManifest(t *testing.T) {
	resolver := NewNpmResolver(policies.NewEcosystemPolicy())
	_, err := resolver.Resolve(t.Context(), ports.ResolveInput{SourceDir: t.TempDir()})
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestClassifyNpmEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    npmLockEntry
		wantKind types.SourceKind
		wantErr  errbuilder.ErrCode
	}{
		{
			name: "registry",
			entry: npmLockEntry{
				Version:   "1.0.0",
				Resolved:  "https://registry.npmjs.org/a/-/a-1.0.0.tgz",
				Integrity: "sha512-a",
			},
			wantKind: types.SourceKindRegistry,
		},
		{
			name: "git pinned to commit",
			entry: npmLockEntry{
				Version: "git+https://github.com/org/repo.git#1234567890123456789012345678901234567890",
			},
			wantKind: types.SourceKindVCS,
		},
		{
			name: "git without commit",
			entry: npmLockEntry{
				Version: "git+https://github.com/org/repo.git#main",
			},
			wantErr: errbuilder.CodeFailedPrecondition,
		},
		{
			name: "url with integrity",
			entry: npmLockEntry{
				Version:   "https://example.com/a.tgz",
				Integrity: "sha512-a",
			},
			wantKind: types.SourceKindURL,
		},
		{
			name: "url without integrity",
			entry: npmLockEntry{
				Version: "https://example.com/a.tgz",
			},
			wantErr: errbuilder.CodeFailedPrecondition,
		},
		{
			name: "semver range",
			entry: npmLockEntry{
				Version: "^1.0.0",
			},
			wantErr: errbuilder.CodeFailedPrecondition,
		},
		{
			name: "local not allowlisted",
			entry: npmLockEntry{
				Version: "file:../lib",
			},
			wantErr: errbuilder.CodeInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, fetch, err := classifyNpmEntry("dep", tt.entry, nil)
			if tt.wantErr != 0 {
				require.Error(t, err)
				require.Equal(t, tt.wantErr, errbuilder.CodeOf(err))
				return
			}
			require.NoError(t, err)
			require.NotNil(t, fetch)
			require.Equal(t, tt.wantKind, fetch.Kind)
		})
	}
}

func TestClassifyNpmEntryBundled(t *testing.T) {
	dep, fetch, err := classifyNpmEntry("inner", npmLockEntry{Version: "1.0.0", Bundled: true}, nil)
	require.NoError(t, err)
	require.Nil(t, fetch)
	require.Equal(t, "1.0.0", dep.Version)
}

func TestClassifyNpmEntryBundledV3(t *testing.T) {
	// v2/v3 lockfiles mark bundled entries with "inBundle" and omit the
	// resolved URL. That is not an unsupported source.
	var entry npmLockEntry
	require.NoError(t, json.Unmarshal([]byte(`{"version": "0.1.0", "inBundle": true}`), &entry))

	dep, fetch, err := classifyNpmEntry("inner", entry, nil)
	require.NoError(t, err)
	require.Nil(t, fetch)
	require.Equal(t, "0.1.0", dep.Version)
}

func TestNpmResolveLockV3BundledDependency(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", testPackageJSON)
	writeFile(t, dir, "package-lock.json", `{
  "lockfileVersion": 3,
  "packages": {
    "": {"name": "webapp", "version": "2.0.0"},
    "node_modules/tar": {
      "version": "6.2.0",
      "resolved": "https://registry.npmjs.org/tar/-/tar-6.2.0.tgz",
      "integrity": "sha512-tar"
    },
    "node_modules/tar/node_modules/minipass": {
      "version": "5.0.0",
      "inBundle": true
    }
  }
}`)

	resolver := NewNpmResolver(policies.NewEcosystemPolicy())
	res, err := resolver.Resolve(t.Context(), ports.ResolveInput{SourceDir: dir})
	require.NoError(t, err)
	require.Len(t, res.Dependencies, 2)
	require.Equal(t, "minipass", res.Dependencies[0].Name)
	// The bundled copy ships inside the tar tarball and is never
	// fetched on its own.
	require.Len(t, res.Fetches, 1)
	require.Equal(t, "tar", res.Fetches[0].Dependency.Name)
}

func TestNpmCollectorUpgradesBundledDuplicate(t *testing.T) {
	collector := npmCollector{}
	require.NoError(t, collector.add("minipass", npmLockEntry{Version: "5.0.0", InBundle: true}))
	require.NoError(t, collector.add("minipass", npmLockEntry{
		Version:   "5.0.0",
		Resolved:  "https://registry.npmjs.org/minipass/-/minipass-5.0.0.tgz",
		Integrity: "sha512-minipass",
	}))

	deps, fetches := collector.finish()
	require.Len(t, deps, 1)
	// The standalone copy must still be cached even though the bundled
	// occurrence was seen first.
	require.Len(t, fetches, 1)
	require.Equal(t, "https://registry.npmjs.org/minipass/-/minipass-5.0.0.tgz", fetches[0].URL)
}

func TestNpmResolveReplacement(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", testPackageJSON)
	writeFile(t, dir, "package-lock.json", testPackageLockV3)

	resolver := NewNpmResolver(policies.NewEcosystemPolicy())
	res, err := resolver.Resolve(t.Context(), ports.ResolveInput{
		SourceDir: dir,
		Replacements: []types.ReplacementDirective{{
			Type:       types.EcosystemNpm,
			Name:       "left-pad",
			Version:    "1.3.0",
			NewVersion: "1.3.1",
		}},
	})
	require.NoError(t, err)
	var replaced *types.Dependency
	for i := range res.Dependencies {
		if res.Dependencies[i].Replaces != nil {
			replaced = &res.Dependencies[i]
		}
	}
	require.NotNil(t, replaced)
	require.Equal(t, "1.3.1", replaced.Version)
	// The fetch for the replaced dependency is re-pointed at the new
	// coordinates and no longer pinned to the old tarball.
	for _, fetch := range res.Fetches {
		if fetch.Dependency.Name == "left-pad" {
			require.Equal(t, "1.3.1", fetch.Dependency.Version)
			require.Empty(t, fetch.URL)
		}
	}
}
