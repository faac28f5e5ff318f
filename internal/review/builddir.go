package review

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// BuildDir is the per-review cache directory: it holds the merged
// worktree, build logs, reports, and result symlinks.
type BuildDir struct {
	// Path is the review directory itself.
	Path string
	// WorktreeDir is the nixpkgs checkout inside it.
	WorktreeDir string
}

// cacheRoot resolves the base directory review dirs are created under:
// $NIXPKGS_REVIEW_CACHE_DIR, then $XDG_CACHE_HOME, then ~/.cache.
func cacheRoot() (string, error) {
	if dir := os.Getenv("NIXPKGS_REVIEW_CACHE_DIR"); dir != "" {
		return dir, nil
	}
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "nixpkgs-review"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache directory: %w", err)
	}
	return filepath.Join(home, ".cache", "nixpkgs-review"), nil
}

// NewBuildDir creates the review directory for name ("pr-1234",
// "rev-<sha>", "wip-<ts>"). A directory that already exists gets a
// counter suffix so concurrent reviews of the same PR do not collide.
func NewBuildDir(name string) (*BuildDir, error) {
	root, err := cacheRoot()
	if err != nil {
		return nil, err
	}

	for counter := 0; counter < 1000; counter++ {
		finalName := name
		if counter > 0 {
			finalName = fmt.Sprintf("%s-%d", name, counter)
		}
		path, err := filepath.Abs(filepath.Join(root, finalName))
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache root: %w", err)
		}
		if err := os.Mkdir(path, 0o755); err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, fmt.Errorf("create review directory: %w", err)
		}
		return &BuildDir{
			Path:        path,
			WorktreeDir: filepath.Join(path, "nixpkgs"),
		}, nil
	}
	return nil, fmt.Errorf("could not create review directory for %s after 1000 attempts", name)
}
