// Package review is the orchestrator: it connects worktree
// preparation, change-set resolution, evaluation, building, and
// reporting for the pr, rev, and wip modes.
package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/joescharf/nixpkgs-review/internal/changeset"
	"github.com/joescharf/nixpkgs-review/internal/git"
	"github.com/joescharf/nixpkgs-review/internal/github"
	"github.com/joescharf/nixpkgs-review/internal/models"
	"github.com/joescharf/nixpkgs-review/internal/nix"
	"github.com/joescharf/nixpkgs-review/internal/output"
	"github.com/joescharf/nixpkgs-review/internal/report"
	"github.com/joescharf/nixpkgs-review/internal/store"
)

// Checkout selects what the merged worktree contains for PR reviews.
const (
	CheckoutMerge  = "merge"
	CheckoutCommit = "commit"
)

// Eval selects where the change set comes from.
const (
	EvalAuto   = "auto"
	EvalOfborg = "ofborg"
	EvalLocal  = "local"
)

// ciEvalWait is how long a PR review waits for CI eval results before
// giving up (eval=ofborg) or falling back (eval=auto never waits).
const (
	ciEvalWait     = 10 * time.Minute
	ciEvalInterval = 10 * time.Second
)

// Options is the resolved runtime configuration of a review.
type Options struct {
	Remote   string
	Systems  []string
	Checkout string
	Eval     string

	Packages         []string
	PackageRegex     []string
	SkipPackages     []string
	SkipPackageRegex []string

	BuildArgs  []string
	BuildGraph string
	MaxJobs    int

	NoShell    bool
	RunCommand string
	Sandbox    bool

	ExtraNixpkgsConfig   string
	IncludePassthruTests bool
	AllowAliases         bool

	PostResult  bool
	Approve     bool
	Merge       bool
	PrintResult bool
	ShowLogs    bool
}

// Review runs the pipeline for one target (a PR, a rev, or the working
// tree).
type Review struct {
	Opts        Options
	UI          *output.UI
	Git         git.Client
	GitHub      *github.Client
	History     store.Store // optional
	LocalSystem models.System

	systems []models.System
	filters *changeset.Filters
}

// New validates options and builds a Review.
func New(opts Options, ui *output.UI, gitClient git.Client, gh *github.Client, history store.Store, localSystem models.System) (*Review, error) {
	switch opts.Checkout {
	case CheckoutMerge, CheckoutCommit:
	default:
		return nil, fmt.Errorf("invalid checkout option %q (want merge or commit)", opts.Checkout)
	}
	switch opts.Eval {
	case EvalAuto, EvalOfborg, EvalLocal:
	default:
		return nil, fmt.Errorf("invalid eval option %q (want auto, ofborg, or local)", opts.Eval)
	}
	for _, p := range opts.Packages {
		if err := models.ValidateAttr(p); err != nil {
			return nil, err
		}
	}

	pkgRe, err := changeset.CompileRegexps(opts.PackageRegex)
	if err != nil {
		return nil, err
	}
	skipRe, err := changeset.CompileAnchored(opts.SkipPackageRegex)
	if err != nil {
		return nil, err
	}

	systems := models.ExpandSystems(opts.Systems, localSystem)
	if len(systems) == 0 {
		return nil, fmt.Errorf("no systems to review")
	}

	return &Review{
		Opts:        opts,
		UI:          ui,
		Git:         gitClient,
		GitHub:      gh,
		History:     history,
		LocalSystem: localSystem,
		systems:     systems,
		filters: &changeset.Filters{
			Packages:       opts.Packages,
			PackageRegexps: pkgRe,
			SkipPackages:   opts.SkipPackages,
			SkipRegexps:    skipRe,
		},
	}, nil
}

// nixOptions builds the evaluation/build options bound to a review dir.
func (r *Review) nixOptions(bd *BuildDir) *nix.Options {
	return &nix.Options{
		WorktreeDir:          bd.WorktreeDir,
		CacheDir:             bd.Path,
		BuildGraph:           r.Opts.BuildGraph,
		BuildArgs:            r.Opts.BuildArgs,
		MaxJobs:              r.Opts.MaxJobs,
		AllowAliases:         r.Opts.AllowAliases,
		IncludePassthruTests: r.Opts.IncludePassthruTests,
		ExtraConfig:          r.Opts.ExtraNixpkgsConfig,
	}
}

// Result bundles everything a mode run produces.
type Result struct {
	Report   *report.Report
	BuildDir *BuildDir
	Nix      *nix.Options
}

// ReviewPR reviews one pull request.
func (r *Review) ReviewPR(ctx context.Context, pr *models.PRSpec) (*Result, error) {
	bd, err := NewBuildDir(fmt.Sprintf("pr-%d", pr.Number))
	if err != nil {
		return nil, err
	}

	var baseSha, headSha, mergeSha string
	if pr.MergeCommitSha != "" {
		// The merge ref gives us base and head in one fetch.
		shas, err := r.Git.FetchRefs(ctx, r.Opts.Remote, pr.MergeCommitSha)
		if err != nil {
			return nil, err
		}
		mergeSha = shas[0]
		if baseSha, err = r.Git.VerifyCommit(ctx, mergeSha+"^1"); err != nil {
			return nil, fmt.Errorf("resolve base of merge commit: %w", err)
		}
		if headSha, err = r.Git.VerifyCommit(ctx, mergeSha+"^2"); err != nil {
			return nil, fmt.Errorf("resolve head of merge commit: %w", err)
		}
	} else {
		// GitHub has no merge commit: the PR conflicts with its base
		// (or mergeability is still pending). Fetch both sides and
		// merge locally, surfacing the conflict if there is one.
		shas, err := r.Git.FetchRefs(ctx, r.Opts.Remote,
			pr.BaseRef, fmt.Sprintf("pull/%d/head", pr.Number))
		if err != nil {
			return nil, err
		}
		baseSha, headSha = shas[0], shas[1]
	}

	// Try the CI evaluation first; its absence falls back to a local
	// two-pass evaluation.
	ciRebuilds, err := r.ciEvalResult(ctx, pr)
	if err != nil {
		return nil, err
	}

	applyChange := func(c context.Context) error {
		switch {
		case r.Opts.Checkout == CheckoutCommit:
			return r.Git.Checkout(c, bd.WorktreeDir, headSha)
		case mergeSha != "":
			return r.Git.Checkout(c, bd.WorktreeDir, mergeSha)
		default:
			return r.Git.Merge(c, bd.WorktreeDir, headSha)
		}
	}

	var candidates map[models.System][]string
	if ciRebuilds != nil {
		if err := r.Git.WorktreeAdd(ctx, bd.WorktreeDir, baseSha); err != nil {
			return nil, err
		}
		if err := applyChange(ctx); err != nil {
			return nil, err
		}
		candidates = map[models.System][]string{}
		for _, system := range r.systems {
			candidates[system] = ciRebuilds[system]
		}
	} else {
		candidates, err = r.localChangeSet(ctx, bd, baseSha, applyChange)
		if err != nil {
			return nil, err
		}
	}

	rep, err := r.buildAndReport(ctx, bd, headSha, pr.Number, candidates)
	if err != nil {
		return nil, err
	}
	return &Result{Report: rep, BuildDir: bd, Nix: r.nixOptions(bd)}, nil
}

// ciEvalResult fetches the upstream eval artifact when the eval mode
// allows it. nil with no error means "do a local evaluation".
func (r *Review) ciEvalResult(ctx context.Context, pr *models.PRSpec) (map[models.System][]string, error) {
	if r.Opts.Eval == EvalLocal || len(r.Opts.Packages) > 0 {
		return nil, nil
	}

	deadline := time.Now().Add(ciEvalWait)
	for {
		rebuilds, err := r.GitHub.EvalResult(ctx, pr.HeadSha)
		switch {
		case err == nil:
			r.UI.Success("fetched rebuild set from CI evaluation")
			return rebuilds, nil
		case errors.Is(err, github.ErrNoEvalResult), errors.Is(err, github.ErrArtifactExpired):
			if r.Opts.Eval == EvalAuto {
				r.UI.Warning("no CI evaluation available, falling back to local evaluation")
				return nil, nil
			}
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timed out waiting for CI evaluation of %s (try --eval local)", pr.HeadSha)
			}
			r.UI.Info("CI evaluation not ready, retrying in %s", ciEvalInterval)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(ciEvalInterval):
			}
		default:
			return nil, err
		}
	}
}

// ReviewRev reviews a committed revision against its parent.
func (r *Review) ReviewRev(ctx context.Context, rev string) (*Result, error) {
	headSha, err := r.Git.VerifyCommit(ctx, rev)
	if err != nil {
		return nil, err
	}
	baseSha, err := r.Git.VerifyCommit(ctx, rev+"^")
	if err != nil {
		return nil, err
	}

	bd, err := NewBuildDir("rev-" + headSha)
	if err != nil {
		return nil, err
	}

	candidates, err := r.localChangeSet(ctx, bd, baseSha, func(c context.Context) error {
		return r.Git.Merge(c, bd.WorktreeDir, headSha)
	})
	if err != nil {
		return nil, err
	}

	rep, err := r.buildAndReport(ctx, bd, headSha, 0, candidates)
	if err != nil {
		return nil, err
	}
	return &Result{Report: rep, BuildDir: bd, Nix: r.nixOptions(bd)}, nil
}

// ReviewWip reviews the uncommitted working tree (staged changes only
// when staged is set) against HEAD. The dirty state is captured as a
// dangling snapshot commit so the source checkout is never touched.
func (r *Review) ReviewWip(ctx context.Context, staged bool) (*Result, error) {
	baseSha, err := r.Git.VerifyCommit(ctx, "HEAD")
	if err != nil {
		return nil, err
	}
	snapSha, err := r.Git.SnapshotTree(ctx, staged)
	if err != nil {
		return nil, err
	}
	if snapSha == baseSha {
		return nil, fmt.Errorf("no changes detected, nothing to review")
	}

	bd, err := NewBuildDir(fmt.Sprintf("wip-%d", time.Now().Unix()))
	if err != nil {
		return nil, err
	}

	candidates, err := r.localChangeSet(ctx, bd, baseSha, func(c context.Context) error {
		return r.Git.Checkout(c, bd.WorktreeDir, snapSha)
	})
	if err != nil {
		return nil, err
	}

	rep, err := r.buildAndReport(ctx, bd, "", 0, candidates)
	if err != nil {
		return nil, err
	}
	return &Result{Report: rep, BuildDir: bd, Nix: r.nixOptions(bd)}, nil
}

// localChangeSet materialises the base worktree, snapshots it, applies
// the change (a checkout or a merge), snapshots again, and diffs. With
// an explicit package selection both snapshots are skipped.
func (r *Review) localChangeSet(ctx context.Context, bd *BuildDir, baseSha string, applyChange func(context.Context) error) (map[models.System][]string, error) {
	if err := r.Git.WorktreeAdd(ctx, bd.WorktreeDir, baseSha); err != nil {
		return nil, err
	}

	nixOpts := r.nixOptions(bd)
	resolver := &changeset.Resolver{Nix: nixOpts, UI: r.UI}

	// An explicit include set makes the expensive tree diff pointless:
	// the user already named the attributes to build.
	explicitOnly := len(r.Opts.Packages) > 0 && len(r.Opts.PackageRegex) == 0

	base := map[models.System]*changeset.Snapshot{}
	if !explicitOnly {
		r.UI.Info("evaluating base tree for change detection")
		for _, system := range r.systems {
			snap, err := resolver.TakeSnapshot(ctx, system)
			if err != nil {
				return nil, err
			}
			base[system] = snap
		}
	}

	if err := applyChange(ctx); err != nil {
		return nil, err
	}

	candidates := map[models.System][]string{}
	if explicitOnly {
		for _, system := range r.systems {
			candidates[system] = append([]string(nil), r.Opts.Packages...)
		}
		return candidates, nil
	}

	r.UI.Info("evaluating merged tree for change detection")
	for _, system := range r.systems {
		snap, err := resolver.TakeSnapshot(ctx, system)
		if err != nil {
			return nil, err
		}
		changed := changeset.Changed(base[system], snap)
		r.UI.Info("%d packages impacted on %s", len(changed), system)
		candidates[system] = changed
	}
	return candidates, nil
}

// buildAndReport is the tail of the pipeline shared by all modes:
// filter, evaluate, build, aggregate.
func (r *Review) buildAndReport(ctx context.Context, bd *BuildDir, commit string, pr int, candidates map[models.System][]string) (*report.Report, error) {
	start := time.Now()
	nixOpts := r.nixOptions(bd)

	toEval := map[models.System][]string{}
	blacklistedPerSystem := map[models.System][]string{}
	for _, system := range r.systems {
		// Explicitly requested packages absent from the candidate set
		// still reach the evaluator so nonexistent ones surface as
		// such instead of disappearing.
		missing := r.filters.MissingFrom(candidates[system])
		kept, blacklisted := r.filters.Apply(candidates[system])
		toEval[system] = mergeSorted(kept, missing)
		blacklistedPerSystem[system] = blacklisted
	}

	attrsPerSystem, err := nixOpts.EvalSystems(ctx, toEval)
	if err != nil {
		return nil, err
	}
	for system, blacklisted := range blacklistedPerSystem {
		for _, name := range blacklisted {
			attrsPerSystem[system] = append(attrsPerSystem[system], &models.Attr{
				Name:        name,
				Exists:      true,
				Blacklisted: true,
			})
		}
	}

	incomplete := false
	if err := nixOpts.Build(ctx, attrsPerSystem); err != nil {
		if !errors.Is(err, nix.ErrBuildCancelled) {
			return nil, err
		}
		incomplete = true
	}

	rep := &report.Report{
		PR:                 pr,
		Commit:             commit,
		Checkout:           r.Opts.Checkout,
		ExtraNixpkgsConfig: r.Opts.ExtraNixpkgsConfig,
		Result:             models.NewReviewResult(toAttrMap(attrsPerSystem)),
		Incomplete:         incomplete,
		ShowLogs:           r.Opts.ShowLogs,
	}
	if err := rep.Write(bd.Path); err != nil {
		return nil, err
	}
	rep.PrintConsole(r.UI, bd.Path)

	r.recordHistory(ctx, rep, bd, commit, pr, time.Since(start))
	return rep, nil
}

func toAttrMap(in map[models.System][]*models.Attr) map[models.System][]*models.Attr {
	// Copies the per-system map as is. EvalSystems already stores an
	// entry, possibly nil, for every system it evaluated; no system is
	// added here.
	out := make(map[models.System][]*models.Attr, len(in))
	for system, attrs := range in {
		out[system] = attrs
	}
	return out
}

// recordHistory stores the run summary; failures only warn.
func (r *Review) recordHistory(ctx context.Context, rep *report.Report, bd *BuildDir, commit string, pr int, elapsed time.Duration) {
	if r.History == nil {
		return
	}
	mode := "rev"
	switch {
	case pr != 0:
		mode = "pr"
	case commit == "":
		mode = "wip"
	}
	run := &models.ReviewRun{
		Mode:       mode,
		PR:         pr,
		Commit:     commit,
		Systems:    rep.Result.Systems,
		Success:    rep.Succeeded(),
		ReportPath: bd.Path,
		Duration:   elapsed,
	}
	for _, sr := range rep.Result.PerSys {
		run.Built += len(sr.Attrs[models.OutcomeBuilt]) + len(sr.Attrs[models.OutcomeTest])
		run.Failed += len(sr.Attrs[models.OutcomeFailed])
		run.Broken += len(sr.Attrs[models.OutcomeBroken])
	}
	if err := r.History.RecordRun(ctx, run); err != nil {
		r.UI.Warning("could not record review in history: %v", err)
	}
}

// Cleanup drops the worktree after a successful run. On failure the
// worktree is preserved for post-mortem inspection.
func (r *Review) Cleanup(ctx context.Context, bd *BuildDir, preserve bool) {
	if preserve {
		r.UI.Warning("keeping %s for inspection", bd.Path)
		return
	}
	if err := r.Git.WorktreeRemove(ctx, bd.WorktreeDir); err != nil {
		r.UI.Warning("failed to remove worktree: %v", err)
	}
}

// Shell launches the interactive shell (or --run command) over the
// built packages and returns its exit code.
func (r *Review) Shell(ctx context.Context, res *Result) (int, error) {
	env := []string{"NIXPKGS_REVIEW_ROOT=" + res.BuildDir.Path}
	if res.Report.PR != 0 {
		env = append(env, fmt.Sprintf("PR=%d", res.Report.PR))
	}
	return res.Nix.Shell(ctx, res.Report.Result.BuiltPerSystem(), nix.ShellOptions{
		LocalSystem: r.LocalSystem,
		RunCommand:  r.Opts.RunCommand,
		Sandbox:     r.Opts.Sandbox,
		Env:         env,
	})
}

// mergeSorted merges two string slices, deduplicated and sorted.
func mergeSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, dup := seen[s]; !dup {
				seen[s] = struct{}{}
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
