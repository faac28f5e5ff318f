package cmd

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/nixpkgs-review/internal/git"
	"github.com/joescharf/nixpkgs-review/internal/github"
	"github.com/joescharf/nixpkgs-review/internal/nix"
	"github.com/joescharf/nixpkgs-review/internal/review"
)

// reviewFlags are the knobs shared by the pr, rev, and wip commands.
type reviewFlags struct {
	systems          []string
	packages         []string
	packageRegex     []string
	skipPackages     []string
	skipPackageRegex []string
	buildArgs        string
	buildGraph       string
	maxJobs          int
	noShell          bool
	runCommand       string
	sandbox          bool
	remote           string
	extraConfig      string
	passthruTests    bool
	allowAliases     bool
	printResult      bool
}

// addReviewFlags registers the common review flag set on cmd, with
// configuration-file values as defaults.
func addReviewFlags(cmd *cobra.Command, f *reviewFlags) {
	fl := cmd.Flags()
	fl.StringSliceVar(&f.systems, "systems", nil,
		`Systems to review ("current", "all", "linux", "darwin", or concrete systems)`)
	fl.StringArrayVarP(&f.packages, "package", "p", nil,
		"Build only this package (can be passed multiple times)")
	fl.StringArrayVar(&f.packageRegex, "package-regex", nil,
		"Build packages matching this regex (search semantics, repeatable)")
	fl.StringArrayVar(&f.skipPackages, "skip-package", nil,
		"Skip this package (can be passed multiple times)")
	fl.StringArrayVar(&f.skipPackageRegex, "skip-package-regex", nil,
		"Skip packages fully matching this regex (repeatable)")
	fl.StringVar(&f.buildArgs, "build-args", "", "Extra arguments passed to the builder verbatim")
	fl.StringVar(&f.buildGraph, "build-graph", "", `Build graph program: "nix" or "nom"`)
	fl.IntVar(&f.maxJobs, "max-jobs", 0, "Maximum concurrent builds (default: CPU count)")
	fl.BoolVar(&f.noShell, "no-shell", false, "Only evaluate and build, do not start a shell")
	fl.StringVar(&f.runCommand, "run", "", "Run this command in the shell instead of an interactive session")
	fl.BoolVar(&f.sandbox, "sandbox", false, "Wrap the shell in bwrap (Linux only)")
	fl.StringVar(&f.remote, "remote", "", "Remote URL of the nixpkgs repository")
	fl.StringVar(&f.extraConfig, "extra-nixpkgs-config", "",
		"Extra nixpkgs config attrset merged over the defaults, e.g. '{ cudaSupport = true; }'")
	fl.BoolVar(&f.passthruTests, "include-passthru-tests", false,
		"Also build passthru.tests of changed packages")
	fl.BoolVar(&f.allowAliases, "allow-aliases", false, "Resolve deprecated alias attribute paths")
	fl.BoolVar(&f.printResult, "print-result", false, "Print the markdown report to stdout")
}

// orConfig returns the flag value when set, the config value otherwise.
func orConfig(flagVal, key string) string {
	if flagVal != "" {
		return flagVal
	}
	return viper.GetString(key)
}

func orConfigInt(flagVal int, key string) int {
	if flagVal != 0 {
		return flagVal
	}
	return viper.GetInt(key)
}

func orConfigBool(flagVal bool, key string) bool {
	return flagVal || viper.GetBool(key)
}

// toOptions merges flags over configuration into review options.
func (f *reviewFlags) toOptions(checkout, eval string, postResult, approve, merge bool) review.Options {
	systems := f.systems
	if len(systems) == 0 {
		systems = strings.Fields(viper.GetString("systems"))
	}
	buildArgs := f.buildArgs
	if buildArgs == "" {
		buildArgs = viper.GetString("build_args")
	}
	extraConfig := f.extraConfig
	if extraConfig == "" {
		extraConfig = viper.GetString("extra_nixpkgs_config")
	}
	return review.Options{
		Remote:               orConfig(f.remote, "remote"),
		Systems:              systems,
		Checkout:             checkout,
		Eval:                 eval,
		Packages:             f.packages,
		PackageRegex:         f.packageRegex,
		SkipPackages:         f.skipPackages,
		SkipPackageRegex:     f.skipPackageRegex,
		BuildArgs:            splitArgs(buildArgs),
		BuildGraph:           orConfig(f.buildGraph, "build_graph"),
		MaxJobs:              orConfigInt(f.maxJobs, "max_jobs"),
		NoShell:              f.noShell,
		RunCommand:           f.runCommand,
		Sandbox:              orConfigBool(f.sandbox, "sandbox"),
		ExtraNixpkgsConfig:   extraConfig,
		IncludePassthruTests: orConfigBool(f.passthruTests, "include_passthru_tests"),
		AllowAliases:         orConfigBool(f.allowAliases, "allow_aliases"),
		PostResult:           postResult,
		Approve:              approve,
		Merge:                merge,
		PrintResult:          f.printResult,
		ShowLogs:             true,
	}
}

// splitArgs splits a shell-ish argument string on whitespace. Quoting
// is not interpreted, so an argument cannot contain spaces; the
// build_args config value is split the same way.
func splitArgs(s string) []string {
	return strings.Fields(s)
}

// newReview wires the shared collaborators into a Review.
func newReview(ctx context.Context, opts review.Options, token string) (*review.Review, error) {
	localSystem, err := nix.CurrentSystem(ctx)
	if err != nil {
		return nil, err
	}
	gh, err := githubClient(ctx, token)
	if err != nil {
		return nil, err
	}
	hist, err := getHistory()
	if err != nil {
		// History is a convenience; a broken database must not block
		// a review.
		ui.Warning("review history unavailable: %v", err)
		hist = nil
	}
	gitClient := git.NewClient(".")
	return review.New(opts, ui, gitClient, gh, hist, localSystem)
}

var (
	prNumberRe = regexp.MustCompile(`^(\d+)-(\d+)$`)
	prURLRe    = regexp.MustCompile(`^https://github\.com/[^/]+/[^/]+/pull/(\d+)/?`)
)

// parsePRArgs accepts plain numbers, N-M ranges, and PR URLs.
func parsePRArgs(args []string) ([]int, error) {
	var prs []int
	for _, arg := range args {
		switch {
		case prNumberRe.MatchString(arg):
			m := prNumberRe.FindStringSubmatch(arg)
			from, _ := strconv.Atoi(m[1])
			to, _ := strconv.Atoi(m[2])
			if to < from {
				return nil, usageError{fmt.Errorf("invalid PR range %q", arg)}
			}
			for n := from; n <= to; n++ {
				prs = append(prs, n)
			}
		case prURLRe.MatchString(arg):
			m := prURLRe.FindStringSubmatch(arg)
			n, _ := strconv.Atoi(m[1])
			prs = append(prs, n)
		default:
			n, err := strconv.Atoi(arg)
			if err != nil {
				return nil, usageError{fmt.Errorf("expected PR number, range, or URL, got %q", arg)}
			}
			prs = append(prs, n)
		}
	}
	return prs, nil
}

// requireToken ensures write operations have credentials before any
// work starts.
func requireToken(ctx context.Context, flagToken string) (*github.Client, error) {
	gh, err := githubClient(ctx, flagToken)
	if err != nil {
		return nil, err
	}
	if !gh.HasToken() {
		return nil, github.ErrNoToken
	}
	return gh, nil
}
