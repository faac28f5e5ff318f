package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/nixpkgs-review/internal/github"
	"github.com/joescharf/nixpkgs-review/internal/output"
	"github.com/joescharf/nixpkgs-review/internal/runner"
	"github.com/joescharf/nixpkgs-review/internal/store"
)

// Exit codes: 0 success, 1 build/VCS failure, 2 usage, 3 remote, 130 SIGINT.
const (
	exitFailure = 1
	exitUsage   = 2
	exitRemote  = 3
	exitSigint  = 130
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui      *output.UI
	history store.Store

	verbose bool
)

// errBuildsFailed signals that the pipeline completed but one or more
// builds failed; it maps to exit code 1 without an error banner.
var errBuildsFailed = errors.New("one or more builds failed")

// usageError tags errors that should exit 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "nixpkgs-review",
	Short: "Review nixpkgs pull requests by building the changed packages",
	Long: `nixpkgs-review determines which package attributes a change rebuilds,
builds them for the requested systems, writes a report, and drops you
into a shell exposing the build results.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Single process-wide handler: first SIGINT propagates to all live
	// children and cancels the pipeline; a second one exits hard.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	interrupted := false
	go func() {
		<-sigCh
		interrupted = true
		fmt.Fprintln(os.Stderr, "\ninterrupt received, stopping builds...")
		runner.Interrupt()
		cancel()
		<-sigCh
		os.Exit(exitSigint)
	}()

	err := rootCmd.ExecuteContext(ctx)
	if history != nil {
		_ = history.Close()
	}
	if interrupted {
		os.Exit(exitSigint)
	}
	if err != nil {
		os.Exit(reportError(err))
	}
}

// reportError prints the failure and maps it to an exit code.
func reportError(err error) int {
	switch {
	case errors.Is(err, errBuildsFailed):
		return exitFailure
	case errors.Is(err, context.Canceled):
		return exitSigint
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var (
		uErr   usageError
		remote *github.RemoteError
		netErr net.Error
	)
	switch {
	case errors.As(err, &uErr):
		return exitUsage
	case errors.As(err, &remote), errors.As(err, &netErr):
		return exitRemote
	case errors.Is(err, github.ErrNoToken):
		return exitRemote
	default:
		return exitFailure
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/nixpkgs-review/config.yaml)")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
}

// configKeys enumerates every recognised configuration option; a config
// file key outside this list is a usage error.
var configKeys = []struct {
	Key    string
	EnvVar string
}{
	{Key: "remote", EnvVar: "NIXPKGS_REVIEW_REMOTE"},
	{Key: "checkout", EnvVar: "NIXPKGS_REVIEW_CHECKOUT"},
	{Key: "eval", EnvVar: "NIXPKGS_REVIEW_EVAL"},
	{Key: "systems", EnvVar: "NIXPKGS_REVIEW_SYSTEMS"},
	{Key: "build_graph", EnvVar: "NIXPKGS_REVIEW_BUILD_GRAPH"},
	{Key: "build_args", EnvVar: "NIXPKGS_REVIEW_BUILD_ARGS"},
	{Key: "max_jobs", EnvVar: "NIXPKGS_REVIEW_MAX_JOBS"},
	{Key: "sandbox", EnvVar: "NIXPKGS_REVIEW_SANDBOX"},
	{Key: "extra_nixpkgs_config", EnvVar: "NIXPKGS_REVIEW_EXTRA_NIXPKGS_CONFIG"},
	{Key: "include_passthru_tests", EnvVar: "NIXPKGS_REVIEW_INCLUDE_PASSTHRU_TESTS"},
	{Key: "allow_aliases", EnvVar: "NIXPKGS_REVIEW_ALLOW_ALIASES"},
	{Key: "history_db", EnvVar: "NIXPKGS_REVIEW_HISTORY_DB"},
	{Key: "github.owner", EnvVar: "NIXPKGS_REVIEW_GITHUB_OWNER"},
	{Key: "github.repo", EnvVar: "NIXPKGS_REVIEW_GITHUB_REPO"},
	{Key: "github.token", EnvVar: "NIXPKGS_REVIEW_GITHUB_TOKEN"},
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(exitFailure)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("NIXPKGS_REVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "nixpkgs-review")

	viper.SetDefault("remote", "https://github.com/NixOS/nixpkgs")
	viper.SetDefault("checkout", "merge")
	viper.SetDefault("eval", "auto")
	viper.SetDefault("systems", "current")
	viper.SetDefault("build_graph", "nix")
	viper.SetDefault("build_args", "")
	viper.SetDefault("max_jobs", 0)
	viper.SetDefault("sandbox", false)
	viper.SetDefault("extra_nixpkgs_config", "")
	viper.SetDefault("include_passthru_tests", false)
	viper.SetDefault("allow_aliases", false)
	viper.SetDefault("history_db", filepath.Join(defaultConfigDir, "history.db"))
	viper.SetDefault("github.owner", "NixOS")
	viper.SetDefault("github.repo", "nixpkgs")
	viper.SetDefault("github.token", "")

	if err := viper.ReadInConfig(); err == nil {
		if err := rejectUnknownKeys(viper.ConfigFileUsed()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitUsage)
		}
	}
}

// rejectUnknownKeys fails on configuration options this version does
// not recognise, instead of silently ignoring a typo.
func rejectUnknownKeys(path string) error {
	present := readConfigFileKeys(path)
	known := map[string]bool{}
	for _, k := range configKeys {
		known[k.Key] = true
	}
	for key := range present {
		if !known[key] {
			return fmt.Errorf("unrecognised option %q in %s", key, path)
		}
	}
	return nil
}

// readConfigFileKeys reads the raw YAML file and returns a flat set of
// dot-notation keys present in it.
func readConfigFileKeys(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}
	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
}

// getHistory opens the history store lazily so read-only commands run
// without touching the database.
func getHistory() (store.Store, error) {
	if history != nil {
		return history, nil
	}
	s, err := store.NewSQLiteStore(viper.GetString("history_db"))
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	history = s
	return history, nil
}

// githubClient builds the code-host client with the resolved token.
func githubClient(ctx context.Context, flagToken string) (*github.Client, error) {
	token := flagToken
	if token == "" {
		token = viper.GetString("github.token")
	}
	if token == "" {
		var err error
		token, err = github.ResolveToken(ctx)
		if err != nil {
			return nil, err
		}
	}
	return github.NewClient(viper.GetString("github.owner"), viper.GetString("github.repo"), token), nil
}
