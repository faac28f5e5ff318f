// Package git wraps the git CLI for the repository under review. All
// operations run against an explicit repository path; nothing depends on
// the process working directory.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joescharf/nixpkgs-review/internal/runner"
)

// ErrMergeConflict marks a merge that stopped on conflicts. The worktree
// is left in the conflicted state for inspection.
var ErrMergeConflict = errors.New("merge conflict")

// reviewRefPrefix is the dedicated ref namespace fetched refs land in,
// keeping them out of the way of the user's own refs.
const reviewRefPrefix = "refs/nixpkgs-review/"

// identityEnv pins the author/committer identity for any commit the
// tool creates (wip snapshots, merges).
var identityEnv = []string{
	"GIT_AUTHOR_NAME=nixpkgs-review",
	"GIT_AUTHOR_EMAIL=nixpkgs-review@example.com",
	"GIT_COMMITTER_NAME=nixpkgs-review",
	"GIT_COMMITTER_EMAIL=nixpkgs-review@example.com",
}

// Client defines the git operations the review pipeline needs.
type Client interface {
	RepoRoot(ctx context.Context) (string, error)
	VerifyCommit(ctx context.Context, rev string) (string, error)
	MergeBase(ctx context.Context, a, b string) (string, error)
	CurrentBranch(ctx context.Context) (string, error)
	FetchRefs(ctx context.Context, remote string, refs ...string) ([]string, error)
	SnapshotTree(ctx context.Context, staged bool) (string, error)
	WorktreeAdd(ctx context.Context, path, sha string) error
	WorktreeRemove(ctx context.Context, path string) error
	Checkout(ctx context.Context, dir, rev string) error
	Merge(ctx context.Context, dir, commit string) error
	HeadOf(ctx context.Context, dir string) (string, error)
	IsClean(ctx context.Context, dir string) (bool, error)
}

// RealClient implements Client against a repository rooted at Path.
type RealClient struct {
	Path string
}

// NewClient returns a client for the repository at path.
func NewClient(path string) *RealClient {
	return &RealClient{Path: path}
}

func (c *RealClient) git(ctx context.Context, args ...string) (string, error) {
	return c.gitAt(ctx, c.Path, args...)
}

func (c *RealClient) gitAt(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := runner.RunChecked(ctx, runner.Command{
		Args: append([]string{"git", "-C", dir}, args...),
		Env:  identityEnv,
	})
	if err != nil {
		var ee *runner.ExitError
		if errors.As(err, &ee) {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(ee.Stderr))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (c *RealClient) RepoRoot(ctx context.Context) (string, error) {
	return c.git(ctx, "rev-parse", "--show-toplevel")
}

// VerifyCommit resolves rev to a full commit hash, failing when the rev
// does not exist.
func (c *RealClient) VerifyCommit(ctx context.Context, rev string) (string, error) {
	return c.git(ctx, "rev-parse", "--verify", rev+"^{commit}")
}

func (c *RealClient) MergeBase(ctx context.Context, a, b string) (string, error) {
	return c.git(ctx, "merge-base", a, b)
}

func (c *RealClient) CurrentBranch(ctx context.Context) (string, error) {
	return c.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// FetchRefs fetches each ref from remote into the review ref namespace
// and returns the resolved commit hashes in input order. The fetch is
// serialised by an advisory lock so concurrent reviews do not trip over
// each other's object-database writes.
func (c *RealClient) FetchRefs(ctx context.Context, remote string, refs ...string) ([]string, error) {
	gitDir, err := c.git(ctx, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return nil, err
	}

	unlock, err := lockFile(filepath.Join(gitDir, "nixpkgs-review.lock"))
	if err != nil {
		return nil, fmt.Errorf("lock fetch: %w", err)
	}
	defer unlock()

	args := []string{"-c", "fetch.prune=false", "fetch", "--no-tags", "--force", remote}
	if shallow, err := c.git(ctx, "rev-parse", "--is-shallow-repository"); err == nil && shallow == "true" {
		args = append(args, "--depth=2")
	}
	for i, ref := range refs {
		args = append(args, fmt.Sprintf("%s:%s%d", ref, reviewRefPrefix, i))
	}
	if _, err := c.git(ctx, args...); err != nil {
		return nil, fmt.Errorf("fetch %v from %s: %w", refs, remote, err)
	}

	shas := make([]string, 0, len(refs))
	for i := range refs {
		sha, err := c.git(ctx, "rev-parse", "--verify", fmt.Sprintf("%s%d", reviewRefPrefix, i))
		if err != nil {
			return nil, fmt.Errorf("resolve fetched ref %s: %w", refs[i], err)
		}
		shas = append(shas, sha)
	}
	return shas, nil
}

func (c *RealClient) Checkout(ctx context.Context, dir, rev string) error {
	_, err := c.gitAt(ctx, dir, "checkout", rev)
	return err
}

// Merge merges commit into the checkout at dir without committing. On
// conflict the worktree keeps the conflicted state and ErrMergeConflict
// is returned.
func (c *RealClient) Merge(ctx context.Context, dir, commit string) error {
	res, err := runner.Run(ctx, runner.Command{
		Args: []string{"git", "-C", dir, "merge", "--no-commit", "--no-ff", commit},
		Env:  identityEnv,
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: merging %s into %s: %s",
			ErrMergeConflict, commit, dir, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// HeadOf resolves HEAD of an arbitrary checkout directory.
func (c *RealClient) HeadOf(ctx context.Context, dir string) (string, error) {
	return c.gitAt(ctx, dir, "rev-parse", "HEAD")
}

// IsClean reports whether the checkout at dir has no staged or unstaged
// changes.
func (c *RealClient) IsClean(ctx context.Context, dir string) (bool, error) {
	out, err := c.gitAt(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// lockFile takes an exclusive advisory flock on path, creating it if
// needed, and returns the release function.
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, err
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}
