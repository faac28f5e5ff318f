package nix

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/nixpkgs-review/internal/models"
)

func TestWriteAttrsFile(t *testing.T) {
	dir := t.TempDir()
	path, err := writeAttrsFile(dir, map[models.System][]string{
		"x86_64-linux":  {"pkg1", "pkg2"},
		"aarch64-linux": {"pkg3"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "attrs.nix"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `"x86_64-linux" = [`)
	assert.Contains(t, content, `"pkg1"`)
	assert.Contains(t, content, `"aarch64-linux" = [`)
	// Systems are emitted in a stable order.
	assert.Less(t, strings.Index(content, "aarch64-linux"), strings.Index(content, "x86_64-linux"))
}

func TestExprFilesEmbedded(t *testing.T) {
	o := &Options{CacheDir: t.TempDir()}
	for _, name := range []string{"evalAttrs.nix", "review-shell.nix"} {
		path, err := o.exprFile(name)
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotEmpty(t, data, name)
	}
}
