package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandSystems_Current(t *testing.T) {
	systems := ExpandSystems([]string{"current"}, "x86_64-linux")
	assert.Equal(t, []System{"x86_64-linux"}, systems)
}

func TestExpandSystems_All(t *testing.T) {
	systems := ExpandSystems([]string{"all"}, "x86_64-linux")
	assert.Equal(t, []System{
		"x86_64-linux", "aarch64-linux", "x86_64-darwin", "aarch64-darwin",
	}, systems)
}

func TestExpandSystems_Groups(t *testing.T) {
	assert.Equal(t, []System{"x86_64-linux", "aarch64-linux"},
		ExpandSystems([]string{"linux"}, "x86_64-linux"))
	assert.Equal(t, []System{"x86_64-darwin", "aarch64-darwin"},
		ExpandSystems([]string{"darwin"}, "x86_64-linux"))
	assert.Equal(t, []System{"x86_64-linux", "x86_64-darwin"},
		ExpandSystems([]string{"x64"}, "x86_64-linux"))
	assert.Equal(t, []System{"aarch64-linux", "aarch64-darwin"},
		ExpandSystems([]string{"aarch64"}, "x86_64-linux"))
}

func TestExpandSystems_Dedup(t *testing.T) {
	systems := ExpandSystems([]string{"current", "x86_64-linux", "linux"}, "x86_64-linux")
	assert.Equal(t, []System{"x86_64-linux", "aarch64-linux"}, systems)
}

func TestExpandSystems_Passthrough(t *testing.T) {
	systems := ExpandSystems([]string{"riscv64-linux"}, "x86_64-linux")
	assert.Equal(t, []System{"riscv64-linux"}, systems)
}

func TestSystemOrderKey(t *testing.T) {
	assert.Equal(t, "linuxx86_64", SystemOrderKey("x86_64-linux"))
	assert.Equal(t, "linuxaarch64", SystemOrderKey("aarch64-linux"))
	// Descending key order yields the conventional report order.
	assert.Greater(t, SystemOrderKey("x86_64-linux"), SystemOrderKey("aarch64-linux"))
	assert.Greater(t, SystemOrderKey("aarch64-linux"), SystemOrderKey("x86_64-darwin"))
}
