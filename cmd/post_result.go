package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

var postResultToken string

var postResultCmd = &cobra.Command{
	Use:   "post-result",
	Short: "Post the report of the current review shell as a PR comment",
	Long: `Post the report.md of the current review to its pull request. Must be
run inside a review shell, where $PR and $NIXPKGS_REVIEW_ROOT identify
the review.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return postResultRun(cmd)
	},
}

func init() {
	postResultCmd.Flags().StringVar(&postResultToken, "token", "", "GitHub access token")
	rootCmd.AddCommand(postResultCmd)
}

func postResultRun(cmd *cobra.Command) error {
	ctx := cmd.Context()

	root := os.Getenv("NIXPKGS_REVIEW_ROOT")
	if root == "" {
		return usageError{fmt.Errorf("$NIXPKGS_REVIEW_ROOT is not set; run post-result inside a review shell")}
	}
	prEnv := os.Getenv("PR")
	if prEnv == "" {
		return usageError{errNoPR}
	}
	number, err := strconv.Atoi(prEnv)
	if err != nil {
		return usageError{fmt.Errorf("invalid $PR value %q", prEnv)}
	}

	body, err := os.ReadFile(filepath.Join(root, "report.md"))
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	gh, err := requireToken(ctx, postResultToken)
	if err != nil {
		return err
	}
	if err := gh.CommentIssue(ctx, number, string(body)); err != nil {
		return err
	}
	ui.Success("posted result to PR #%d", number)
	return nil
}
