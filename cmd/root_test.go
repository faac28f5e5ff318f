package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/nixpkgs-review/internal/github"
)

func TestFlattenKeys(t *testing.T) {
	result := map[string]bool{}
	flattenKeys("", map[string]any{
		"remote": "x",
		"github": map[string]any{
			"owner": "NixOS",
			"repo":  "nixpkgs",
		},
	}, result)

	assert.True(t, result["remote"])
	assert.True(t, result["github.owner"])
	assert.True(t, result["github.repo"])
	assert.False(t, result["github"])
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRejectUnknownKeys_Known(t *testing.T) {
	path := writeConfig(t, "remote: https://example.com\ngithub:\n  owner: NixOS\n")
	assert.NoError(t, rejectUnknownKeys(path))
}

func TestRejectUnknownKeys_Unknown(t *testing.T) {
	path := writeConfig(t, "remot: typo\n")
	err := rejectUnknownKeys(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"remot"`)
}

func TestReportError_ExitCodes(t *testing.T) {
	assert.Equal(t, exitFailure, reportError(errBuildsFailed))
	assert.Equal(t, exitSigint, reportError(context.Canceled))
	assert.Equal(t, exitUsage, reportError(usageError{errors.New("bad flag")}))
	assert.Equal(t, exitRemote, reportError(&github.RemoteError{Status: 500}))
	assert.Equal(t, exitRemote, reportError(github.ErrNoToken))
	assert.Equal(t, exitFailure, reportError(errors.New("anything else")))
}
