package models

import (
	"fmt"
	"regexp"
	"strings"
)

// Attr is one package attribute resolved for a single system.
// It accumulates state as it flows through the pipeline: evaluation fills
// the derivation fields, the build scheduler sets BuildFailed, and the
// report classifies the final outcome.
type Attr struct {
	Name        string
	Exists      bool
	Broken      bool
	Blacklisted bool
	DrvPath     string
	OutPaths    map[string]string
	Aliases     []string

	// BuildFailed is set by the build scheduler when the builder exited
	// non-zero for this attribute or an expected output is missing.
	BuildFailed bool
}

// OutPath returns the first output path in a stable order, preferring
// the conventional "out" output. Empty when the attribute is broken.
func (a *Attr) OutPath() string {
	if p, ok := a.OutPaths["out"]; ok {
		return p
	}
	for _, name := range sortedKeys(a.OutPaths) {
		return a.OutPaths[name]
	}
	return ""
}

// IsTest reports whether the attribute is a test derivation rather than
// a package proper.
func (a *Attr) IsTest() bool {
	return strings.HasPrefix(a.Name, "nixosTests.") ||
		strings.Contains(a.Name, ".passthru.tests.")
}

var attrSegment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// ValidateAttr checks that name is a dotted attribute path with
// non-empty segments of the allowed character set.
func ValidateAttr(name string) error {
	if name == "" {
		return fmt.Errorf("empty attribute name")
	}
	for _, seg := range strings.Split(name, ".") {
		if !attrSegment.MatchString(seg) {
			return fmt.Errorf("invalid attribute %q: bad segment %q", name, seg)
		}
	}
	return nil
}

// EscapeAttr quotes every segment after the first so the attribute path
// can be spliced into a nix expression. `foo.bar-baz` -> `foo."bar-baz"`.
func EscapeAttr(attr string) string {
	parts := strings.Split(attr, ".")
	escaped := make([]string, 0, len(parts))
	escaped = append(escaped, parts[0])
	for _, p := range parts[1:] {
		escaped = append(escaped, fmt.Sprintf("%q", p))
	}
	return strings.Join(escaped, ".")
}
