package adapters

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"depvault/internal/ports"
	"depvault/internal/shared"
)

// SourceGitAdapter materializes the application source at an exact
// commit. The checkout is a fresh clone per request; nothing is
// shared between requests.
type SourceGitAdapter struct {
	// WorkDir is where request checkouts are created. Empty means the
	// system temp directory.
	WorkDir string
}

func NewSourceGitAdapter(workDir string) SourceGitAdapter {
	return SourceGitAdapter{WorkDir: workDir}
}

func (a SourceGitAdapter) Fetch(ctx context.Context, repoURL string, ref string, includeGitDir bool) (string, error) {
	if strings.TrimSpace(repoURL) == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("repository url is empty")
	}
	if strings.TrimSpace(ref) == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("repository ref is empty")
	}
	dir, err := os.MkdirTemp(a.WorkDir, "depvault-src-")
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create checkout directory").
			WithCause(err)
	}
	if err := a.clone(ctx, repoURL, ref, dir); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	if !includeGitDir {
		if err := os.RemoveAll(filepath.Join(dir, ".git")); err != nil {
			_ = os.RemoveAll(dir)
			return "", errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to strip repository metadata").
				WithCause(err)
		}
	}
	return dir, nil
}

func (a SourceGitAdapter) clone(ctx context.Context, repoURL string, ref string, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--no-checkout", repoURL, dir)
	if output, err := cmd.CombinedOutput(); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to clone %s", repoURL)).
			WithCause(shared.CommandError(output, err))
	}
	checkout := exec.CommandContext(ctx, "git", "checkout", "--detach", ref)
	checkout.Dir = dir
	if output, err := checkout.CombinedOutput(); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("ref %s does not exist in %s", ref, repoURL)).
			WithCause(shared.CommandError(output, err))
	}
	return nil
}

var _ ports.SourcePort = SourceGitAdapter{}

// SourceDirAdapter serves an already-checked-out directory, used when
// the source was staged out of band and in package tests.
type SourceDirAdapter struct {
	Dir string
}

func NewSourceDirAdapter(dir string) SourceDirAdapter {
	return SourceDirAdapter{Dir: dir}
}

func (a SourceDirAdapter) Fetch(ctx context.Context, repoURL string, ref string, includeGitDir bool) (string, error) {
	info, err := os.Stat(a.Dir)
	if err != nil || !info.IsDir() {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("source directory %s does not exist", a.Dir))
	}
	return a.Dir, nil
}

var _ ports.SourcePort = SourceDirAdapter{}
