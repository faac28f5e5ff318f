package nix

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/joescharf/nixpkgs-review/internal/models"
	"github.com/joescharf/nixpkgs-review/internal/runner"
)

// ShellOptions control the interactive review shell.
type ShellOptions struct {
	LocalSystem models.System
	// RunCommand is executed instead of an interactive shell when set.
	RunCommand string
	// Sandbox wraps the shell in bwrap (Linux only).
	Sandbox bool
	// Env is appended to the shell's environment (review dir, PR
	// number) so in-shell commands like post-result find their state.
	Env []string
}

// writeAttrsFile renders the per-system built-attribute lists as the
// nix expression consumed by review-shell.nix.
func writeAttrsFile(cacheDir string, attrsPerSystem map[models.System][]string) (string, error) {
	var b strings.Builder
	b.WriteString("{\n")
	systems := make([]string, 0, len(attrsPerSystem))
	for s := range attrsPerSystem {
		systems = append(systems, s)
	}
	sort.Strings(systems)
	for _, system := range systems {
		fmt.Fprintf(&b, "  %q = [\n", system)
		for _, attr := range attrsPerSystem[system] {
			fmt.Fprintf(&b, "    %q\n", attr)
		}
		b.WriteString("  ];\n")
	}
	b.WriteString("}\n")

	path := filepath.Join(cacheDir, "attrs.nix")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write attrs file: %w", err)
	}
	return path, nil
}

// Shell drops the user into a nix-shell (or nom-shell) exposing the
// built packages. Blocks until the shell exits; its exit status is
// returned so a --run command can propagate failure.
func (o *Options) Shell(ctx context.Context, attrsPerSystem map[models.System][]string, shellOpts ShellOptions) (int, error) {
	shellBin := "nix-shell"
	if o.BuildGraph == "nom" && NomAvailable() {
		shellBin = "nom-shell"
	}

	attrsPath, err := writeAttrsFile(o.CacheDir, attrsPerSystem)
	if err != nil {
		return 0, err
	}
	exprPath, err := o.exprFile("review-shell.nix")
	if err != nil {
		return 0, err
	}
	configPath, err := o.WriteConfigFile()
	if err != nil {
		return 0, err
	}

	args := []string{
		shellBin,
		"--argstr", "local-system", shellOpts.LocalSystem,
		"--argstr", "nixpkgs-path", o.WorktreeDir,
		"--argstr", "nixpkgs-config-path", configPath,
		"--argstr", "attrs-path", attrsPath,
		exprPath,
	}
	if shellOpts.RunCommand != "" {
		args = append(args, "--run", shellOpts.RunCommand)
	}

	if shellOpts.Sandbox {
		if runtime.GOOS != "linux" {
			return 0, fmt.Errorf("sandbox mode is only available on Linux")
		}
		args, err = sandboxArgs(args, o.CacheDir, configPath)
		if err != nil {
			return 0, err
		}
	}

	res, err := runner.Run(ctx, runner.Command{
		Args:        args,
		Dir:         o.CacheDir,
		Env:         shellOpts.Env,
		StdinReader: os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	})
	if err != nil {
		return 0, fmt.Errorf("launch %s: %w", shellBin, err)
	}
	return res.ExitCode, nil
}
