package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WorktreeAdd materialises a worktree of the repository at path, checked
// out at sha with a detached HEAD. Idempotent: an existing worktree
// already at sha is reused; one at a different sha is reset.
func (c *RealClient) WorktreeAdd(ctx context.Context, path, sha string) error {
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		head, err := c.HeadOf(ctx, path)
		if err == nil && head == sha {
			if clean, err := c.IsClean(ctx, path); err == nil && clean {
				return nil
			}
		}
		if _, err := c.gitAt(ctx, path, "reset", "--hard", sha); err != nil {
			return fmt.Errorf("reset worktree %s to %s: %w", path, sha, err)
		}
		if _, err := c.gitAt(ctx, path, "clean", "-fd"); err != nil {
			return fmt.Errorf("clean worktree %s: %w", path, err)
		}
		return nil
	}

	if _, err := c.git(ctx, "worktree", "add", "--detach", path, sha); err != nil {
		return fmt.Errorf("add worktree at %s for %s: %w", path, sha, err)
	}
	return nil
}

// WorktreeRemove drops a worktree. The source checkout's index and
// working tree are never touched.
func (c *RealClient) WorktreeRemove(ctx context.Context, path string) error {
	if _, err := c.git(ctx, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("remove worktree %s: %w", path, err)
	}
	return nil
}

// SnapshotTree commits the current index (staged) or index plus working
// tree into a dangling commit and returns its hash. The source
// checkout's HEAD, index, and working tree are left untouched.
func (c *RealClient) SnapshotTree(ctx context.Context, staged bool) (string, error) {
	if staged {
		tree, err := c.git(ctx, "write-tree")
		if err != nil {
			return "", fmt.Errorf("snapshot index: %w", err)
		}
		head, err := c.VerifyCommit(ctx, "HEAD")
		if err != nil {
			return "", err
		}
		headTree, err := c.git(ctx, "rev-parse", "HEAD^{tree}")
		if err != nil {
			return "", err
		}
		if tree == headTree {
			return head, nil
		}
		return c.git(ctx, "commit-tree", tree, "-p", head, "-m", "nixpkgs-review wip snapshot")
	}

	// stash create captures index + working tree without mutating
	// either; it returns nothing when there is nothing to snapshot.
	sha, err := c.git(ctx, "stash", "create", "nixpkgs-review wip snapshot")
	if err != nil {
		return "", fmt.Errorf("snapshot working tree: %w", err)
	}
	if sha == "" {
		return c.VerifyCommit(ctx, "HEAD")
	}
	return sha, nil
}
