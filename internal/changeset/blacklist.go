package changeset

import (
	_ "embed"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed blacklist.yaml
var blacklistYAML []byte

// blacklistFile is the committed, versioned list of attributes the
// review never builds: huge binary blobs, interactive installers, and
// attributes known to wedge CI evaluators.
type blacklistFile struct {
	Version int      `yaml:"version"`
	Attrs   []string `yaml:"attrs"`
}

var blacklistSet = sync.OnceValue(func() map[string]struct{} {
	var f blacklistFile
	if err := yaml.Unmarshal(blacklistYAML, &f); err != nil {
		// The file is embedded and validated by tests; a parse error
		// here is a build defect, not a runtime condition.
		panic("changeset: invalid embedded blacklist: " + err.Error())
	}
	set := make(map[string]struct{}, len(f.Attrs))
	for _, a := range f.Attrs {
		set[a] = struct{}{}
	}
	return set
})

// Blacklisted reports whether attr is on the built-in blacklist.
func Blacklisted(attr string) bool {
	_, ok := blacklistSet()[attr]
	return ok
}

// BlacklistVersion returns the version stamp of the embedded list.
func BlacklistVersion() int {
	var f blacklistFile
	_ = yaml.Unmarshal(blacklistYAML, &f)
	return f.Version
}
