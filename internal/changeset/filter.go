package changeset

import (
	"fmt"
	"regexp"
	"sort"
)

// Filters are the user-supplied package selection knobs, applied in
// order: include, skip, blacklist.
type Filters struct {
	// Packages restricts the candidate set to its members (plus
	// PackageRegexps matches) when non-empty.
	Packages []string
	// PackageRegexps use search semantics: a match anywhere in the
	// attribute name includes it.
	PackageRegexps []*regexp.Regexp
	// SkipPackages removes exact members.
	SkipPackages []string
	// SkipRegexps use full-match semantics; compile with
	// CompileAnchored.
	SkipRegexps []*regexp.Regexp
}

// CompileRegexps compiles the user's patterns, surfacing the bad
// pattern in the error.
func CompileRegexps(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// CompileAnchored compiles patterns wrapped in ^(?:...)$ for the
// full-match semantics of skip filters.
func CompileAnchored(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Apply filters the candidate set. Returns the kept attributes and the
// candidates removed by the built-in blacklist (which are reported as
// Blacklisted, unlike user-skipped attributes, which vanish).
func (f *Filters) Apply(candidates []string) (kept, blacklisted []string) {
	selected := candidates
	if len(f.Packages) > 0 || len(f.PackageRegexps) > 0 {
		include := map[string]struct{}{}
		for _, p := range f.Packages {
			include[p] = struct{}{}
		}
		selected = nil
		for _, attr := range candidates {
			if _, ok := include[attr]; ok {
				selected = append(selected, attr)
				continue
			}
			for _, re := range f.PackageRegexps {
				if re.MatchString(attr) {
					selected = append(selected, attr)
					break
				}
			}
		}
	}

	skip := map[string]struct{}{}
	for _, p := range f.SkipPackages {
		skip[p] = struct{}{}
	}
	skipped := func(attr string) bool {
		if _, ok := skip[attr]; ok {
			return true
		}
		for _, re := range f.SkipRegexps {
			if re.MatchString(attr) {
				return true
			}
		}
		return false
	}

	for _, attr := range selected {
		switch {
		case skipped(attr):
		case Blacklisted(attr):
			blacklisted = append(blacklisted, attr)
		default:
			kept = append(kept, attr)
		}
	}
	sort.Strings(kept)
	sort.Strings(blacklisted)
	return kept, blacklisted
}

// MissingFrom reports which explicitly requested packages are not in
// the candidate set; these become NonExistent entries when they do not
// evaluate at all.
func (f *Filters) MissingFrom(candidates []string) []string {
	have := map[string]struct{}{}
	for _, c := range candidates {
		have[c] = struct{}{}
	}
	var missing []string
	for _, p := range f.Packages {
		if _, ok := have[p]; !ok {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)
	return missing
}
