// Package nix drives the nix CLI: attribute evaluation, parallel
// builds, and the review shell.
package nix

import (
	"context"
	"embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joescharf/nixpkgs-review/internal/runner"
)

//go:embed expr/evalAttrs.nix expr/review-shell.nix
var exprFS embed.FS

// experimentalFeatures is passed to every nix-command invocation.
var experimentalFeatures = []string{"--extra-experimental-features", "nix-command"}

// Options carries the evaluation/build knobs shared across the
// pipeline.
type Options struct {
	// WorktreeDir is the merged nixpkgs checkout under review.
	WorktreeDir string
	// CacheDir is the review directory logs and reports land in.
	CacheDir string
	// BuildGraph is "nix" or "nom".
	BuildGraph string
	// BuildArgs are appended verbatim to the builder invocation.
	BuildArgs []string
	// MaxJobs bounds concurrent builds; zero means NumCPU.
	MaxJobs int
	// AllowAliases keeps deprecated alias attribute paths resolvable.
	AllowAliases bool
	// IncludePassthruTests additionally evaluates
	// <attr>.passthru.tests.* derivations.
	IncludePassthruTests bool
	// ExtraConfig is an extra nixpkgs config attrset expression,
	// merged over the defaults.
	ExtraConfig string

	configOnce sync.Once
	configPath string
	configErr  error

	exprMu      sync.Mutex
	exprWritten map[string]string
}

// NixpkgsConfig renders the nixpkgs config expression used for every
// evaluation: unfree allowed, meta checked, broken disallowed.
func (o *Options) NixpkgsConfig() string {
	aliases := "allowAliases = false;"
	if o.AllowAliases {
		aliases = ""
	}
	cfg := fmt.Sprintf(`{
  allowUnfree = true;
  allowBroken = false;
  checkMeta = true;
  %s
}`, aliases)
	if extra := strings.TrimSpace(o.ExtraConfig); extra != "" && extra != "{ }" && extra != "{}" {
		cfg = fmt.Sprintf("%s // %s", cfg, extra)
	}
	return cfg
}

// WriteConfigFile writes the nixpkgs config expression into the cache
// directory once and returns its path.
func (o *Options) WriteConfigFile() (string, error) {
	o.configOnce.Do(func() {
		path := filepath.Join(o.CacheDir, "config.nix")
		if err := os.WriteFile(path, []byte(o.NixpkgsConfig()+"\n"), 0o644); err != nil {
			o.configErr = fmt.Errorf("write nixpkgs config: %w", err)
			return
		}
		o.configPath = path
	})
	return o.configPath, o.configErr
}

// exprFile materialises one of the embedded expression files into the
// cache directory so nix can import it by path. Written once per
// review; concurrent evaluations share the same file.
func (o *Options) exprFile(name string) (string, error) {
	o.exprMu.Lock()
	defer o.exprMu.Unlock()
	if path, ok := o.exprWritten[name]; ok {
		return path, nil
	}
	data, err := exprFS.ReadFile("expr/" + name)
	if err != nil {
		return "", fmt.Errorf("embedded expression %s: %w", name, err)
	}
	path := filepath.Join(o.CacheDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if o.exprWritten == nil {
		o.exprWritten = map[string]string{}
	}
	o.exprWritten[name] = path
	return path, nil
}

// CurrentSystem asks the local nix for builtins.currentSystem.
func CurrentSystem(ctx context.Context) (string, error) {
	res, err := runner.RunChecked(ctx, runner.Command{
		Args: append(append([]string{"nix"}, experimentalFeatures...),
			"eval", "--impure", "--raw", "--expr", "builtins.currentSystem"),
	})
	if err != nil {
		return "", fmt.Errorf("detect current system: %w", err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// NomAvailable reports whether nom and nom-shell are on $PATH, for the
// prettier build graph.
func NomAvailable() bool {
	for _, bin := range []string{"nom", "nom-shell"} {
		if _, err := exec.LookPath(bin); err != nil {
			return false
		}
	}
	return true
}
