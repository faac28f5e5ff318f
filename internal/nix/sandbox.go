package nix

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// sandboxArgs wraps a shell invocation in bwrap: the store and system
// stay read-only, HOME and /tmp become tmpfs mounts, and of the host
// paths only /dev, the review directory and the current directory are
// writable.
func sandboxArgs(shellArgs []string, cacheDir, configPath string) ([]string, error) {
	bwrap, err := exec.LookPath("bwrap")
	if err != nil {
		return nil, fmt.Errorf("bwrap not found in PATH; install it to use --sandbox")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	roBind := func(p string) []string { return []string{"--ro-bind", p, p} }
	roBindTry := func(p string) []string { return []string{"--ro-bind-try", p, p} }
	bind := func(p string) []string { return []string{"--bind", p, p} }

	args := []string{
		bwrap,
		"--die-with-parent",
		"--unshare-cgroup",
		"--unshare-ipc",
		"--unshare-uts",
	}
	args = append(args, roBind("/")...)
	args = append(args, "--dev-bind", "/dev", "/dev")
	args = append(args, "--tmpfs", "/tmp")
	args = append(args, roBind(configPath)...)
	args = append(args, "--dir", home, "--tmpfs", home)
	args = append(args, bind(cwd)...)
	args = append(args, bind(cacheDir)...)
	args = append(args, roBindTry(filepath.Join(xdgConfig, "nixpkgs"))...)
	args = append(args, roBindTry(filepath.Join(xdgConfig, "gh"))...)
	args = append(args, "--")
	args = append(args, shellArgs...)
	return args, nil
}
