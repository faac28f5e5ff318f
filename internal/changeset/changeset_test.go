package changeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitChunks(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e"}

	chunks := splitChunks(names, 2)
	assert.Len(t, chunks, 2)
	assert.Equal(t, []string{"a", "b", "c"}, chunks[0])
	assert.Equal(t, []string{"d", "e"}, chunks[1])

	// More chunks than names degrades to one attr per chunk.
	chunks = splitChunks(names, 10)
	assert.Len(t, chunks, 5)

	assert.Nil(t, splitChunks(nil, 4))
	assert.Len(t, splitChunks(names, 0), 1)
}

func TestSplitChunks_CoversEverything(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f", "g"}
	var total int
	for _, c := range splitChunks(names, 3) {
		total += len(c)
	}
	assert.Equal(t, len(names), total)
}

func TestChanged(t *testing.T) {
	base := &Snapshot{OutPaths: map[string]string{
		"unchanged": "/nix/store/same",
		"updated":   "/nix/store/old",
		"removed":   "/nix/store/gone",
	}}
	merged := &Snapshot{
		OutPaths: map[string]string{
			"unchanged": "/nix/store/same",
			"updated":   "/nix/store/new",
			"added":     "/nix/store/added",
		},
		Failed: []string{"cracked"},
	}

	changed := Changed(base, merged)
	assert.Equal(t, []string{"added", "cracked", "updated"}, changed)
}

func TestChanged_Empty(t *testing.T) {
	snap := &Snapshot{OutPaths: map[string]string{"a": "/nix/store/a"}}
	assert.Empty(t, Changed(snap, snap))
}
