package core

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"depvault/internal/policies"
	"depvault/internal/ports"
	"depvault/internal/types"
)

func TestPipResolvePinned(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "requirements.txt", `
# runtime deps
Django_Rest.Framework==3.14.0
requests==2.31.0  # comment
`)

	resolver := NewPipResolver(policies.NewEcosystemPolicy())
	res, err := resolver.Resolve(t.Context(), ports.ResolveInput{SourceDir: dir, Ref: "abc123"})
	require.NoError(t, err)

	want := []types.Dependency{
		{Type: types.EcosystemPip, Name: "django-rest-framework", Version: "3.14.0", Dev: boolPtr(false)},
		{Type: types.EcosystemPip, Name: "requests", Version: "2.31.0", Dev: boolPtr(false)},
	}
	if diff := cmp.Diff(want, res.Dependencies); diff != "" {
		t.Fatalf("unexpected dependencies (-want +got):\n%s", diff)
	}
	require.Len(t, res.Fetches, 2)
	require.Equal(t, types.SourceKindRegistry, res.Fetches[0].Kind)
}

func TestPipResolveBuildRequirementsAreDev(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "requirements.txt", "requests==2.31.0\n")
	writeFile(t, dir, "requirements-build.txt", "setuptools==69.0.0\n")

	resolver := NewPipResolver(policies.NewEcosystemPolicy())
	res, err := resolver.Resolve(t.Context(), ports.ResolveInput{SourceDir: dir})
	require.NoError(t, err)
	require.Len(t, res.Dependencies, 2)
	for _, dep := range res.Dependencies {
		require.NotNil(t, dep.Dev)
		if dep.Name == "setuptools" {
			require.True(t, *dep.Dev)
		} else {
			require.False(t, *dep.Dev)
		}
	}
}

func TestPipResolveMissingManifest(t *testing.T) {
	resolver := NewPipResolver(policies.NewEcosystemPolicy())
	_, err := resolver.Resolve(t.Context(), ports.ResolveInput{SourceDir: t.TempDir()})
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestPipResolveRejectsGlobalOptions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "requirements.txt", "--index-url https://example.com/simple\nrequests==2.31.0\n")

	resolver := NewPipResolver(policies.NewEcosystemPolicy())
	_, err := resolver.Resolve(t.Context(), ports.ResolveInput{SourceDir: dir})
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestPipParseRequirement(t *testing.T) {
	resolver := NewPipResolver(policies.NewEcosystemPolicy())

	tests := []struct {
		name     string
		line     string
		wantKind types.SourceKind
		wantErr  errbuilder.ErrCode
	}{
		{
			name:     "pinned with extras",
			line:     "uvicorn[standard]==0.27.1",
			wantKind: types.SourceKindRegistry,
		},
		{
			name:    "range specifier",
			line:    "requests>=2.0",
			wantErr: errbuilder.CodeFailedPrecondition,
		},
		{
			name:    "bare name",
			line:    "requests",
			wantErr: errbuilder.CodeFailedPrecondition,
		},
		{
			name:    "invalid version",
			line:    "requests==not.a.version.!",
			wantErr: errbuilder.CodeFailedPrecondition,
		},
		{
			name:     "vcs pinned",
			line:     "git+https://github.com/org/pkg.git@1234567890123456789012345678901234567890#egg=pkg",
			wantKind: types.SourceKindVCS,
		},
		{
			name:    "vcs branch ref",
			line:    "git+https://github.com/org/pkg.git@main#egg=pkg",
			wantErr: errbuilder.CodeFailedPrecondition,
		},
		{
			name:    "vcs unsupported scheme",
			line:    "hg+https://example.com/pkg@1234567890123456789012345678901234567890#egg=pkg",
			wantErr: errbuilder.CodeInvalidArgument,
		},
		{
			name:    "vcs without egg",
			line:    "git+https://github.com/org/pkg.git@1234567890123456789012345678901234567890",
			wantErr: errbuilder.CodeInvalidArgument,
		},
		{
			name:     "url with sha256",
			line:     "https://example.com/pkg-1.0.tar.gz#sha256=" + repeatHex(64) + "&egg=pkg",
			wantKind: types.SourceKindURL,
		},
		{
			name:    "url without checksum",
			line:    "https://example.com/pkg-1.0.tar.gz#egg=pkg",
			wantErr: errbuilder.CodeFailedPrecondition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, fetch, err := resolver.parseRequirement(tt.line, false, nil)
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

func repeatHex(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = "0123456789abcdef"[i%16]
	}
	return string(out)
}

func TestPipResolveLocalAllowlist(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "requirements.txt", "./vendored/toolkit\n")

	resolver := NewPipResolver(policies.NewEcosystemPolicy())

	_, err := resolver.Resolve(t.Context(), ports.ResolveInput{SourceDir: dir})
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))

	res, err := resolver.Resolve(t.Context(), ports.ResolveInput{
		SourceDir:      dir,
		LocalAllowlist: []string{"toolkit"},
	})
	require.NoError(t, err)
	require.Len(t, res.Dependencies, 1)
	require.Equal(t, "toolkit", res.Dependencies[0].Name)
	require.Empty(t, res.Fetches)
}

func TestPipResolveReplacementNormalizesNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "requirements.txt", "Django_Utils==1.0.0\n")

	resolver := NewPipResolver(policies.NewEcosystemPolicy())
	res, err := resolver.Resolve(t.Context(), ports.ResolveInput{
		SourceDir: dir,
		Replacements: []types.ReplacementDirective{{
			Type:       types.EcosystemPip,
			Name:       "django.utils",
			Version:    "1.0.0",
			NewVersion: "1.0.1",
		}},
	})
	require.NoError(t, err)
	require.Equal(t, "1.0.1", res.Dependencies[0].Version)
	require.NotNil(t, res.Dependencies[0].Replaces)
}
