package review

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildDir(t *testing.T) {
	t.Setenv("NIXPKGS_REVIEW_CACHE_DIR", t.TempDir())

	bd, err := NewBuildDir("pr-1234")
	require.NoError(t, err)
	assert.DirExists(t, bd.Path)
	assert.Equal(t, filepath.Join(bd.Path, "nixpkgs"), bd.WorktreeDir)
	assert.Equal(t, "pr-1234", filepath.Base(bd.Path))
}

func TestNewBuildDir_Collision(t *testing.T) {
	t.Setenv("NIXPKGS_REVIEW_CACHE_DIR", t.TempDir())

	first, err := NewBuildDir("pr-1")
	require.NoError(t, err)
	second, err := NewBuildDir("pr-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
	assert.Equal(t, "pr-1-1", filepath.Base(second.Path))
}

func TestCacheRoot_XDG(t *testing.T) {
	t.Setenv("NIXPKGS_REVIEW_CACHE_DIR", "")
	xdg := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", xdg)

	// Empty NIXPKGS_REVIEW_CACHE_DIR falls through to XDG.
	os.Unsetenv("NIXPKGS_REVIEW_CACHE_DIR")
	root, err := cacheRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(xdg, "nixpkgs-review"), root)
}

func TestMergeSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"},
		mergeSorted([]string{"b", "a"}, []string{"c", "a"}))
	assert.Empty(t, mergeSorted(nil, nil))
}
