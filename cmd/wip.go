package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/nixpkgs-review/internal/review"
)

var (
	wipFlags  reviewFlags
	wipStaged bool
)

var wipCmd = &cobra.Command{
	Use:   "wip",
	Short: "Review the uncommitted changes in the working tree",
	Long: `Review the working tree against HEAD: the diff (staged only with
--staged) is applied to a worktree of HEAD and the impacted packages
are built.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return wipRun(cmd)
	},
}

func init() {
	addReviewFlags(wipCmd, &wipFlags)
	wipCmd.Flags().BoolVarP(&wipStaged, "staged", "s", false, "Review only staged changes")
	rootCmd.AddCommand(wipCmd)
}

func wipRun(cmd *cobra.Command) error {
	ctx := cmd.Context()

	opts := wipFlags.toOptions("merge", review.EvalLocal, false, false, false)
	r, err := newReview(ctx, opts, "")
	if err != nil {
		return err
	}

	res, err := r.ReviewWip(ctx, wipStaged)
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
