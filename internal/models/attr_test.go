package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAttr(t *testing.T) {
	valid := []string{
		"pkg1",
		"python3Packages.requests",
		"pkgs.foo.tests.x",
		"_internal",
		"gcc-wrapper",
		"foo_bar.baz-2",
	}
	for _, attr := range valid {
		assert.NoError(t, ValidateAttr(attr), attr)
	}

	invalid := []string{
		"",
		".",
		"foo..bar",
		"foo.",
		"2foo",
		"foo.1bar",
		"foo bar",
	}
	for _, attr := range invalid {
		assert.Error(t, ValidateAttr(attr), attr)
	}
}

func TestEscapeAttr(t *testing.T) {
	assert.Equal(t, "pkg1", EscapeAttr("pkg1"))
	assert.Equal(t, `python3Packages."requests"`, EscapeAttr("python3Packages.requests"))
	assert.Equal(t, `a."b"."c-d"`, EscapeAttr("a.b.c-d"))
}

func TestAttrIsTest(t *testing.T) {
	assert.True(t, (&Attr{Name: "nixosTests.nginx"}).IsTest())
	assert.True(t, (&Attr{Name: "pkg1.passthru.tests.basic"}).IsTest())
	assert.False(t, (&Attr{Name: "pkg1"}).IsTest())
	assert.False(t, (&Attr{Name: "nixosTestsuite"}).IsTest())
}

func TestAttrOutPath(t *testing.T) {
	a := &Attr{OutPaths: map[string]string{
		"doc": "/nix/store/doc",
		"out": "/nix/store/out",
	}}
	assert.Equal(t, "/nix/store/out", a.OutPath())

	b := &Attr{OutPaths: map[string]string{
		"lib": "/nix/store/lib",
		"bin": "/nix/store/bin",
	}}
	assert.Equal(t, "/nix/store/bin", b.OutPath())

	assert.Empty(t, (&Attr{}).OutPath())
}
