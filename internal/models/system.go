package models

import (
	"sort"
	"strings"
)

// System names a nix target triple such as "x86_64-linux".
type System = string

// Platform groups, kept in sync with ofborg's supportedPlatforms.
var (
	PlatformsLinux   = []System{"aarch64-linux", "x86_64-linux"}
	PlatformsDarwin  = []System{"aarch64-darwin", "x86_64-darwin"}
	PlatformsAarch64 = []System{"aarch64-darwin", "aarch64-linux"}
	PlatformsX64     = []System{"x86_64-darwin", "x86_64-linux"}
)

// ExpandSystems resolves the closed alias set ("current", "all", "linux",
// "darwin", "x64", "aarch64") against the local system and returns the
// deduplicated concrete list. Unknown names pass through verbatim so the
// evaluator can reject them.
func ExpandSystems(requested []string, localSystem System) []System {
	set := map[System]struct{}{}
	add := func(systems ...System) {
		for _, s := range systems {
			set[s] = struct{}{}
		}
	}
	for _, raw := range requested {
		switch strings.ToLower(raw) {
		case "current":
			add(localSystem)
		case "all":
			add(PlatformsLinux...)
			add(PlatformsDarwin...)
		case "linux":
			add(PlatformsLinux...)
		case "darwin", "macos":
			add(PlatformsDarwin...)
		case "x64", "x86", "x86_64", "x86-64":
			add(PlatformsX64...)
		case "aarch64", "arm64":
			add(PlatformsAarch64...)
		default:
			add(raw)
		}
	}
	out := make([]System, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return SystemOrderKey(out[i]) > SystemOrderKey(out[j])
	})
	return out
}

// SystemOrderKey turns a system name into a sort key that yields the
// conventional report order: x86_64-linux, aarch64-linux, x86_64-darwin,
// aarch64-darwin. Sort descending on the key.
func SystemOrderKey(system System) string {
	parts := strings.Split(system, "-")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "")
}
