package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePRArgs_Numbers(t *testing.T) {
	prs, err := parsePRArgs([]string{"1234", "42"})
	require.NoError(t, err)
	assert.Equal(t, []int{1234, 42}, prs)
}

func TestParsePRArgs_Range(t *testing.T) {
	prs, err := parsePRArgs([]string{"10-13"})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11, 12, 13}, prs)
}

func TestParsePRArgs_URL(t *testing.T) {
	prs, err := parsePRArgs([]string{"https://github.com/NixOS/nixpkgs/pull/98765"})
	require.NoError(t, err)
	assert.Equal(t, []int{98765}, prs)

	prs, err = parsePRArgs([]string{"https://github.com/NixOS/nixpkgs/pull/98765/files"})
	require.NoError(t, err)
	assert.Equal(t, []int{98765}, prs)
}

func TestParsePRArgs_Invalid(t *testing.T) {
	_, err := parsePRArgs([]string{"not-a-pr"})
	var uErr usageError
	assert.ErrorAs(t, err, &uErr)

	_, err = parsePRArgs([]string{"20-10"})
	assert.ErrorAs(t, err, &uErr)
}

func TestSplitArgs(t *testing.T) {
	assert.Equal(t, []string{"--builders", "ssh://remote"},
		splitArgs("--builders ssh://remote"))
	assert.Empty(t, splitArgs(""))
	assert.Empty(t, splitArgs("   "))
}
