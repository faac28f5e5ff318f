package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAttrs() []*Attr {
	return []*Attr{
		{Name: "zeta", Exists: true, OutPaths: map[string]string{"out": "/nix/store/zeta"}},
		{Name: "alpha", Exists: true, OutPaths: map[string]string{"out": "/nix/store/alpha"}},
		{Name: "ghost", Exists: false, Broken: true},
		{Name: "cracked", Exists: true, Broken: true},
		{Name: "huge-blob", Exists: true, Blacklisted: true},
		{Name: "flaky", Exists: true, BuildFailed: true},
		{Name: "nixosTests.nginx", Exists: true, OutPaths: map[string]string{"out": "/nix/store/t"}},
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Outcome{
		"zeta":             OutcomeBuilt,
		"alpha":            OutcomeBuilt,
		"ghost":            OutcomeNonExistent,
		"cracked":          OutcomeBroken,
		"huge-blob":        OutcomeBlacklisted,
		"flaky":            OutcomeFailed,
		"nixosTests.nginx": OutcomeTest,
	}
	for _, a := range sampleAttrs() {
		assert.Equal(t, cases[a.Name], Classify(a), a.Name)
	}
}

func TestSystemResult_DisjointAndSorted(t *testing.T) {
	sr := NewSystemResult(sampleAttrs())

	seen := map[string]Outcome{}
	total := 0
	for _, o := range Outcomes {
		names := sr.Names(o)
		assert.IsIncreasing(t, names, "outcome %s not sorted", o)
		for _, n := range names {
			prev, dup := seen[n]
			require.False(t, dup, "%s appears in both %s and %s", n, prev, o)
			seen[n] = o
		}
		total += len(names)
	}
	assert.Equal(t, len(sampleAttrs()), total)
	assert.Equal(t, []string{"alpha", "zeta"}, sr.Names(OutcomeBuilt))
}

func TestSystemResult_Succeeded(t *testing.T) {
	assert.False(t, NewSystemResult(sampleAttrs()).Succeeded())
	assert.True(t, NewSystemResult([]*Attr{
		{Name: "a", Exists: true, OutPaths: map[string]string{"out": "/nix/store/a"}},
	}).Succeeded())
}

func TestReviewResult_SystemOrderAndBuilt(t *testing.T) {
	res := NewReviewResult(map[System][]*Attr{
		"aarch64-darwin": {{Name: "b", Exists: true}},
		"x86_64-linux":   {{Name: "a", Exists: true}},
	})
	assert.Equal(t, []System{"x86_64-linux", "aarch64-darwin"}, res.Systems)

	built := res.BuiltPerSystem()
	assert.Equal(t, []string{"a"}, built["x86_64-linux"])
	assert.Equal(t, []string{"b"}, built["aarch64-darwin"])
}
