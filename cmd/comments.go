package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var commentsToken string

var commentsCmd = &cobra.Command{
	Use:   "comments [number]",
	Short: "Show the comments of a pull request",
	RunE: func(cmd *cobra.Command, args []string) error {
		return commentsRun(cmd, args)
	},
}

func init() {
	commentsCmd.Flags().StringVar(&commentsToken, "token", "", "GitHub access token")
	rootCmd.AddCommand(commentsCmd)
}

func commentsRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	prs, err := currentPRArgs(args)
	if err != nil {
		return err
	}

	gh, err := githubClient(ctx, commentsToken)
	if err != nil {
		return err
	}

	for _, number := range prs {
		comments, err := gh.Comments(ctx, number)
		if err != nil {
			return err
		}
		if len(comments) == 0 {
			ui.Info("PR #%d has no comments", number)
			continue
		}
		for _, c := range comments {
			ui.Info("%s (%s)", c.Author, c.CreatedAt.Format("2006-01-02 15:04"))
			body := strings.TrimSpace(c.Body)
			if len(body) > 800 {
				body = body[:800] + "\n... (truncated)"
			}
			for _, line := range strings.Split(body, "\n") {
				fmt.Fprintf(ui.Out, "  %s\n", line)
			}
			fmt.Fprintln(ui.Out)
		}
	}
	return nil
}
