package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/nixpkgs-review/internal/review"
)

var revFlags reviewFlags

var revCmd = &cobra.Command{
	Use:   "rev <commit>",
	Short: "Review a commit in the local nixpkgs repository",
	Long: `Review a local commit against its parent: packages whose derivation
output changes between <commit>^ and <commit> are built.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return revRun(cmd, args[0])
	},
}

func init() {
	addReviewFlags(revCmd, &revFlags)
	rootCmd.AddCommand(revCmd)
}

func revRun(cmd *cobra.Command, rev string) error {
	ctx := cmd.Context()

	opts := revFlags.toOptions("merge", review.EvalLocal, false, false, false)
	r, err := newReview(ctx, opts, "")
	if err != nil {
		return err
	}

	res, err := r.ReviewRev(ctx, rev)
	if err != nil {
		return err
	}

	if r.Opts.PrintResult {
		fmt.Fprintln(ui.Out, res.Report.Markdown(res.BuildDir.Path))
	}
	if !r.Opts.NoShell {
		if _, err := r.Shell(ctx, res); err != nil {
			ui.Warning("shell failed: %v", err)
		}
	}
	succeeded := res.Report.Succeeded()
	r.Cleanup(ctx, res.BuildDir, !succeeded)
	if !succeeded {
		return errBuildsFailed
	}
	return nil
}
