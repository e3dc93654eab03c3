package policies

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"depvault/internal/types"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEcosystemPolicy(t *testing.T) {
	path := writePolicy(t, `
ecosystems:
  npm:
    missing_manifest: skip
    local_allowlist:
      - internal-tooling
  pip:
    local_allowlist:
      - Django_Utils
      - "  "
  gomod:
    strict_vendor: true
`)
	policy, err := LoadEcosystemPolicy(path)
	require.NoError(t, err)

	require.Equal(t, MissingManifestSkip, policy.MissingManifest(types.EcosystemNpm))
	require.Equal(t, MissingManifestFail, policy.MissingManifest(types.EcosystemGomod))
	require.Equal(t, MissingManifestFail, policy.MissingManifest(types.EcosystemPip))

	require.Empty(t, cmp.Diff([]string{"internal-tooling"}, policy.LocalAllowlist(types.EcosystemNpm)))
	// Pip entries are normalized so any spelling of the name matches.
	require.Empty(t, cmp.Diff([]string{"django-utils"}, policy.LocalAllowlist(types.EcosystemPip)))
	require.Empty(t, policy.LocalAllowlist(types.EcosystemGomod))

	require.True(t, policy.StrictVendor(types.EcosystemGomod))
	require.False(t, policy.StrictVendor(types.EcosystemNpm))
}

func TestLoadEcosystemPolicyUnknownEcosystem(t *testing.T) {
	path := writePolicy(t, "ecosystems:\n  cargo:\n    missing_manifest: skip\n")
	_, err := LoadEcosystemPolicy(path)
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestLoadEcosystemPolicyMissingFile(t *testing.T) {
	_, err := LoadEcosystemPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestLoadEcosystemPolicyMalformed(t *testing.T) {
	path := writePolicy(t, "ecosystems: [not, a, map]\n")
	_, err := LoadEcosystemPolicy(path)
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestEcosystemPolicyDefaults(t *testing.T) {
	policy := NewEcosystemPolicy()
	for _, eco := range types.Ecosystems {
		require.Equal(t, MissingManifestFail, policy.MissingManifest(eco))
		require.Empty(t, policy.LocalAllowlist(eco))
		require.False(t, policy.StrictVendor(eco))
	}
}
