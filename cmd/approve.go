package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var approveToken string

var approveCmd = &cobra.Command{
	Use:   "approve [number...]",
	Short: "Approve pull requests",
	Long: `Approve one or more PRs. Without arguments the PR of the current
review shell ($PR) is approved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return approveRun(cmd, args)
	},
}

func init() {
	approveCmd.Flags().StringVar(&approveToken, "token", "", "GitHub access token")
	rootCmd.AddCommand(approveCmd)
}

// currentPRArgs resolves PR numbers from args or, inside a review
// shell, from $PR.
func currentPRArgs(args []string) ([]int, error) {
	if len(args) == 0 {
		if pr := os.Getenv("PR"); pr != "" {
			args = []string{pr}
		} else {
			return nil, usageError{errNoPR}
		}
	}
	return parsePRArgs(args)
}

var errNoPR = errors.New("no PR number given and $PR is not set (run inside a review shell or pass a number)")

func approveRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	prs, err := currentPRArgs(args)
	if err != nil {
		return err
	}
	gh, err := requireToken(ctx, approveToken)
	if err != nil {
		return err
	}
	for _, number := range prs {
		if err := gh.ApprovePR(ctx, number, ""); err != nil {
			return err
		}
		ui.Success("approved PR #%d", number)
	}
	return nil
}
