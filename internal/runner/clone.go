package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// CloneResult describes a completed clone-for-context checkout.
type CloneResult struct {
	LocalPath string
	Owner     string
	Repo      string
	Branch    string
	Commit    string
}

// CloneManager shallow-clones a task's target repository into a
// scratch directory before a worker subprocess is spawned against it —
// spec.md's "clone-for-context" path for tasks (PR review, code-change
// tasks) that need a local checkout rather than an already-open
// working tree.
type CloneManager struct{}

// NewCloneManager builds a CloneManager.
func NewCloneManager() *CloneManager { return &CloneManager{} }

// Clone shallow-clones repoURL into a fresh temp directory under
// baseDir. token, when non-empty, authenticates an HTTPS clone; branch,
// when non-empty, checks out that branch only.
func (cm *CloneManager) Clone(ctx context.Context, baseDir, repoURL, token, branch string) (*CloneResult, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("runner: create clone base dir: %w", err)
	}
	tmpDir, err := os.MkdirTemp(baseDir, "clone-*")
	if err != nil {
		return nil, fmt.Errorf("runner: create clone dir: %w", err)
	}

	opts := &gogit.CloneOptions{
		URL:   repoURL,
		Depth: 1,
	}
	if token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "fleet-orchestrator", Password: token}
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}

	slog.Debug("runner: cloning repository for task context", "url", repoURL, "branch", branch, "dest", tmpDir)

	repo, err := gogit.PlainCloneContext(ctx, tmpDir, false, opts)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("runner: clone %s: %w", repoURL, err)
	}

	head, err := repo.Head()
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("runner: resolve HEAD: %w", err)
	}

	resolvedBranch := head.Name().Short()
	if resolvedBranch == "" {
		resolvedBranch = branch
	}
	owner, repoName := parseOwnerRepo(repoURL)

	return &CloneResult{
		LocalPath: tmpDir,
		Owner:     owner,
		Repo:      repoName,
		Branch:    resolvedBranch,
		Commit:    head.Hash().String(),
	}, nil
}

// Cleanup removes a clone's scratch directory.
func (cm *CloneManager) Cleanup(result *CloneResult) {
	if result == nil {
		return
	}
	if err := os.RemoveAll(result.LocalPath); err != nil {
		slog.Warn("runner: failed to clean up clone directory", "path", result.LocalPath, "error", err)
	}
}

func parseOwnerRepo(repoURL string) (owner, repo string) {
	u := strings.TrimSuffix(repoURL, ".git")

	if strings.Contains(u, "://") {
		parts := strings.Split(u, "/")
		if len(parts) >= 2 {
			return parts[len(parts)-2], parts[len(parts)-1]
		}
	}

	if idx := strings.Index(u, ":"); idx != -1 {
		parts := strings.SplitN(u[idx+1:], "/", 2)
		if len(parts) == 2 {
			return parts[0], parts[1]
		}
	}

	return "", u
}
