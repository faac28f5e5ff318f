package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/nixpkgs-review/internal/git"
	"github.com/joescharf/nixpkgs-review/internal/github"
	"github.com/joescharf/nixpkgs-review/internal/review"
)

var (
	prFlags      reviewFlags
	prCheckout   string
	prEval       string
	prToken      string
	prPostResult bool
	prApprove    bool
	prMerge      bool
)

var prCmd = &cobra.Command{
	Use:   "pr <number|range|url>...",
	Short: "Review one or more nixpkgs pull requests",
	Long: `Review pull requests: fetch the PR, determine the rebuilt packages,
build them, and report the result. Multiple PRs are reviewed serially;
ranges (1234-1240) and PR URLs are accepted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prRun(cmd, args)
	},
}

func init() {
	addReviewFlags(prCmd, &prFlags)
	prCmd.Flags().StringVarP(&prCheckout, "checkout", "c", "",
		`What to check out for building: "merge" merges into the target branch, "commit" uses the PR head as committed`)
	prCmd.Flags().StringVar(&prEval, "eval", "",
		`Change-set source: "auto" prefers CI artifacts, "ofborg" requires them, "local" always evaluates locally`)
	prCmd.Flags().StringVar(&prToken, "token", "", "GitHub access token")
	prCmd.Flags().BoolVar(&prPostResult, "post-result", false, "Post the report as a PR comment")
	prCmd.Flags().BoolVar(&prApprove, "approve", false, "Approve the PR when all builds succeed")
	prCmd.Flags().BoolVar(&prMerge, "merge", false, "Merge the PR when all builds succeed")
	rootCmd.AddCommand(prCmd)
}

func prRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	prs, err := parsePRArgs(args)
	if err != nil {
		return err
	}

	opts := prFlags.toOptions(
		orConfig(prCheckout, "checkout"),
		orConfig(prEval, "eval"),
		prPostResult, prApprove, prMerge,
	)
	r, err := newReview(ctx, opts, prToken)
	if err != nil {
		return err
	}
	if (opts.PostResult || opts.Approve || opts.Merge) && !r.GitHub.HasToken() {
		return fmt.Errorf("--post-result/--approve/--merge: %w", github.ErrNoToken)
	}

	allSucceeded := true
	for _, number := range prs {
		succeeded, err := reviewOnePR(cmd, r, number)
		if err != nil {
			if len(prs) == 1 {
				return err
			}
			ui.Error("PR #%d failed: %v", number, err)
			allSucceeded = false
			continue
		}
		allSucceeded = allSucceeded && succeeded
	}
	if !allSucceeded {
		return errBuildsFailed
	}
	return nil
}

func reviewOnePR(cmd *cobra.Command, r *review.Review, number int) (bool, error) {
	ctx := cmd.Context()

	pr, err := r.GitHub.PullRequest(ctx, number)
	if err != nil {
		return false, err
	}
	ui.Info("Reviewing PR #%d: %s (%s)", pr.Number, pr.Title, pr.Author)
	if pr.Draft {
		ui.Warning("PR #%d is a draft", pr.Number)
	}

	res, err := r.ReviewPR(ctx, pr)
	if err != nil {
		// The worktree is preserved for inspection on failure;
		// merge conflicts in particular are worth looking at.
		if errors.Is(err, git.ErrMergeConflict) {
			return false, fmt.Errorf("PR #%d does not merge cleanly: %w", number, err)
		}
		return false, err
	}

	if r.Opts.PostResult {
		if err := r.GitHub.CommentIssue(ctx, number, res.Report.Markdown(res.BuildDir.Path)); err != nil {
			ui.Error("could not post result: %v", err)
		} else {
			ui.Success("posted result to PR #%d", number)
		}
	}
	succeeded := res.Report.Succeeded()
	if r.Opts.Approve && succeeded {
		if err := r.GitHub.ApprovePR(ctx, number, "All packages built successfully with `nixpkgs-review`."); err != nil {
			ui.Warning("%v", err)
		} else {
			ui.Success("approved PR #%d", number)
		}
	}
	if r.Opts.Merge && succeeded {
		if err := r.GitHub.MergePR(ctx, number); err != nil {
			ui.Error("could not merge PR #%d: %v", number, err)
		} else {
			ui.Success("merged PR #%d", number)
		}
	}
	if r.Opts.PrintResult {
		fmt.Fprintln(ui.Out, res.Report.Markdown(res.BuildDir.Path))
	}

	if !r.Opts.NoShell {
		if _, err := r.Shell(ctx, res); err != nil {
			ui.Warning("shell failed: %v", err)
		}
	}
	r.Cleanup(ctx, res.BuildDir, !succeeded)
	return succeeded, nil
}
