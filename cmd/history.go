package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/nixpkgs-review/internal/models"
	"github.com/joescharf/nixpkgs-review/internal/output"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent review runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return historyRun(cmd)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recorded review run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(cmd, args[0])
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyRun(cmd *cobra.Command) error {
	s, err := getHistory()
	if err != nil {
		return err
	}
	runs, err := s.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("no reviews recorded yet")
		return nil
	}

	table := ui.Table([]string{"ID", "WHEN", "TARGET", "BUILT", "FAILED", "BROKEN", "RESULT"})
	for _, run := range runs {
		result := output.Green("ok")
		if !run.Success {
			result = output.Red("failed")
		}
		_ = table.Append([]string{
			run.ID,
			run.CreatedAt.Local().Format("2006-01-02 15:04"),
			runTarget(run),
			fmt.Sprintf("%d", run.Built),
			fmt.Sprintf("%d", run.Failed),
			fmt.Sprintf("%d", run.Broken),
			result,
		})
	}
	return table.Render()
}

func runTarget(run *models.ReviewRun) string {
	switch run.Mode {
	case "pr":
		return fmt.Sprintf("pr %d", run.PR)
	case "wip":
		return "wip"
	default:
		commit := run.Commit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		return "rev " + commit
	}
}

func historyShowRun(cmd *cobra.Command, id string) error {
	s, err := getHistory()
	if err != nil {
		return err
	}
	run, err := s.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	ui.Info("Review %s (%s)", run.ID, runTarget(run))
	ui.Info("  systems:  %v", run.Systems)
	ui.Info("  built:    %d", run.Built)
	ui.Info("  failed:   %d", run.Failed)
	ui.Info("  broken:   %d", run.Broken)
	ui.Info("  duration: %s", run.Duration.Round(time.Second))
	ui.Info("  report:   %s", run.ReportPath)
	return nil
}
