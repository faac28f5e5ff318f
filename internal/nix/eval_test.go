package nix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/nixpkgs-review/internal/models"
)

func str(s string) *string { return &s }

func TestDerivationMetaValidate(t *testing.T) {
	ok := []derivationMeta{
		{Exists: true, Broken: false, DrvPath: str("/nix/store/x.drv"),
			Outputs: map[string]*string{"out": str("/nix/store/x")}},
		{Exists: true, Broken: true},
		{Exists: false, Broken: true},
	}
	for i, m := range ok {
		assert.NoError(t, m.validate("attr"), i)
	}

	bad := []derivationMeta{
		// broken implies no drvPath
		{Exists: true, Broken: true, DrvPath: str("/nix/store/x.drv")},
		// not broken requires drvPath
		{Exists: true, Broken: false},
		// nonexistent must be broken
		{Exists: false, Broken: false, DrvPath: str("/nix/store/x.drv")},
		// null output path
		{Exists: true, Broken: false, DrvPath: str("/nix/store/x.drv"),
			Outputs: map[string]*string{"out": nil}},
	}
	for i, m := range bad {
		assert.Error(t, m.validate("attr"), i)
	}
}

func TestFoldAttrs_SchemaViolationIsFatal(t *testing.T) {
	_, err := foldAttrs("x86_64-linux", map[string]derivationMeta{
		"pkg1": {Exists: true, Broken: true, DrvPath: str("/nix/store/x.drv")},
	})
	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "x86_64-linux", evalErr.System)
}

func TestFoldAttrs_AliasFolding(t *testing.T) {
	attrs, err := foldAttrs("x86_64-linux", map[string]derivationMeta{
		"pkg1": {Exists: true, DrvPath: str("/nix/store/same.drv"),
			Outputs: map[string]*string{"out": str("/nix/store/same")}},
		"pkg1Alias": {Exists: true, DrvPath: str("/nix/store/same.drv"),
			Outputs: map[string]*string{"out": str("/nix/store/same")}},
		"other": {Exists: true, DrvPath: str("/nix/store/other.drv"),
			Outputs: map[string]*string{"out": str("/nix/store/other")}},
	})
	require.NoError(t, err)
	require.Len(t, attrs, 2)

	byName := map[string]*models.Attr{}
	for _, a := range attrs {
		byName[a.Name] = a
	}
	require.Contains(t, byName, "pkg1")
	assert.Equal(t, []string{"pkg1Alias"}, byName["pkg1"].Aliases)
	assert.NotContains(t, byName, "pkg1Alias")
}

func TestFoldAttrs_BrokenKeptSeparate(t *testing.T) {
	attrs, err := foldAttrs("x86_64-linux", map[string]derivationMeta{
		"cracked": {Exists: true, Broken: true},
		"ghost":   {Exists: false, Broken: true},
	})
	require.NoError(t, err)
	assert.Len(t, attrs, 2)
	for _, a := range attrs {
		assert.True(t, a.Broken)
		assert.Empty(t, a.DrvPath)
	}
}

func TestCollectJobs_DedupAcrossSystems(t *testing.T) {
	shared := &models.Attr{Name: "pkg1", Exists: true, DrvPath: "/nix/store/a.drv"}
	sharedOther := &models.Attr{Name: "pkg1", Exists: true, DrvPath: "/nix/store/a.drv"}
	unique := &models.Attr{Name: "pkg2", Exists: true, DrvPath: "/nix/store/b.drv"}
	broken := &models.Attr{Name: "bad", Exists: true, Broken: true}
	blacklisted := &models.Attr{Name: "blob", Exists: true, Blacklisted: true, DrvPath: "/nix/store/c.drv"}

	jobs := collectJobs(map[models.System][]*models.Attr{
		"x86_64-linux":  {shared, unique, broken, blacklisted},
		"aarch64-linux": {sharedOther},
	})

	require.Len(t, jobs, 2)
	assert.Equal(t, "/nix/store/a.drv", jobs[0].drvPath)
	assert.Len(t, jobs[0].refs, 2)
	assert.Equal(t, "/nix/store/b.drv", jobs[1].drvPath)
}

func TestNixpkgsConfig(t *testing.T) {
	o := &Options{}
	cfg := o.NixpkgsConfig()
	assert.Contains(t, cfg, "allowUnfree = true;")
	assert.Contains(t, cfg, "allowBroken = false;")
	assert.Contains(t, cfg, "checkMeta = true;")
	assert.Contains(t, cfg, "allowAliases = false;")

	aliased := &Options{AllowAliases: true}
	assert.NotContains(t, aliased.NixpkgsConfig(), "allowAliases")

	extra := &Options{ExtraConfig: "{ cudaSupport = true; }"}
	assert.Contains(t, extra.NixpkgsConfig(), "// { cudaSupport = true; }")

	noop := &Options{ExtraConfig: "{ }"}
	assert.NotContains(t, noop.NixpkgsConfig(), "//")
}

func TestLogPath(t *testing.T) {
	assert.Equal(t, "/cache/logs/pkg1-x86_64-linux.log",
		LogPath("/cache", "pkg1", "x86_64-linux"))
}
