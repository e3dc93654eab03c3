package e2e

import (
	"encoding/json"
	"os"
	"os/exec"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"depvault/internal/types"
	"depvault/tests/testutil"
)

const e2eGoMod = `module example.com/app

go 1.23

require (
	github.com/pkg/left v1.2.3
	github.com/pkg/right v0.4.0
)
`

const e2eModulesTxt = "# github.com/pkg/left v1.2.3\n# github.com/pkg/right v0.4.0\n"

var submittedIDPattern = regexp.MustCompile(`submitted: (\S+)`)

// TestRequestCommandsE2E drives the CLI end to end against a local git
// repository with vendored dependencies, so no registry or repository
// manager is needed.
func TestRequestCommandsE2E(t *testing.T) {
	root := testutil.RepoRoot(t)
	repo, ref := testutil.InitGitRepo(t, map[string]string{
		"go.mod":             e2eGoMod,
		"vendor/modules.txt": e2eModulesTxt,
	})
	dataDir := t.TempDir()
	workDir := t.TempDir()

	env := append(os.Environ(),
		"DEPVAULT_DATA_DIR="+dataDir,
		"DEPVAULT_WORK_DIR="+workDir,
		"DEPVAULT_STORE_ENDPOINT=http://store.invalid",
	)
	run := func(args ...string) string {
		cmd := exec.Command("go", append([]string{"run", "./cmd/depvault"}, args...)...)
		cmd.Dir = root
		cmd.Env = env
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
		return string(out)
	}

	submitOut := run("submit",
		"--repo", repo,
		"--ref", ref,
		"--package-manager", "gomod",
		"--flag", "vendor",
	)
	match := submittedIDPattern.FindStringSubmatch(submitOut)
	require.NotNil(t, match, submitOut)
	requestID := match[1]

	processOut := run("process", "--request", requestID)
	require.Contains(t, processOut, "(complete)")
	require.Contains(t, processOut, "dependencies=2")

	statusOut := run("requests", "--request", requestID, "--json")
	start := regexp.MustCompile(`(?s)\[.*\]`).FindString(statusOut)
	require.NotEmpty(t, start, statusOut)
	var records []types.Request
	require.NoError(t, json.Unmarshal([]byte(start), &records))
	require.Len(t, records, 1)
	require.Equal(t, types.RequestStateComplete, records[0].State)
	require.Len(t, records[0].Dependencies, 2)
	require.NotNil(t, records[0].Connection)
}
