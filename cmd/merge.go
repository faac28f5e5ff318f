package cmd

import (
	"github.com/spf13/cobra"
)

var mergeToken string

var mergeCmd = &cobra.Command{
	Use:   "merge [number...]",
	Short: "Merge pull requests",
	Long: `Merge one or more PRs. Without arguments the PR of the current
review shell ($PR) is merged. Requires committer access upstream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mergeRun(cmd, args)
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeToken, "token", "", "GitHub access token")
	rootCmd.AddCommand(mergeCmd)
}

func mergeRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	prs, err := currentPRArgs(args)
	if err != nil {
		return err
	}
	gh, err := requireToken(ctx, mergeToken)
	if err != nil {
		return err
	}
	for _, number := range prs {
		if err := gh.MergePR(ctx, number); err != nil {
			return err
		}
		ui.Success("merged PR #%d", number)
	}
	return nil
}
