// Package report aggregates per-system outcomes into the review
// artifacts: report.json, report.md, the results symlink tree, and the
// console summary.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joescharf/nixpkgs-review/internal/models"
	"github.com/joescharf/nixpkgs-review/internal/output"
)

// Report is the aggregated result of one review run.
type Report struct {
	PR                 int // 0 when not a PR review
	Commit             string
	Checkout           string
	ExtraNixpkgsConfig string
	Result             *models.ReviewResult
	// Incomplete marks a run that was cancelled mid-build; partial
	// results are still written.
	Incomplete bool
	// ShowLogs embeds failure log tails into the markdown.
	ShowLogs bool
}

// Succeeded reports whether no attribute failed to build.
func (r *Report) Succeeded() bool {
	return r.Result.Succeeded()
}

type jsonReport struct {
	PR                 *int                           `json:"pr"`
	Commit             string                         `json:"commit,omitempty"`
	Systems            []string                       `json:"systems"`
	Checkout           string                         `json:"checkout"`
	ExtraNixpkgsConfig *string                        `json:"extraNixpkgsConfig"`
	Incomplete         bool                           `json:"incomplete,omitempty"`
	Result             map[string]map[string][]string `json:"result"`
}

// JSON renders report.json: sorted, disjoint outcome lists per system.
func (r *Report) JSON() ([]byte, error) {
	out := jsonReport{
		Commit:     r.Commit,
		Systems:    r.Result.Systems,
		Checkout:   r.Checkout,
		Incomplete: r.Incomplete,
		Result:     map[string]map[string][]string{},
	}
	if r.PR != 0 {
		out.PR = &r.PR
	}
	if r.ExtraNixpkgsConfig != "" {
		out.ExtraNixpkgsConfig = &r.ExtraNixpkgsConfig
	}
	for system, sr := range r.Result.PerSys {
		entry := map[string][]string{}
		for _, o := range models.Outcomes {
			names := sr.Names(o)
			if names == nil {
				names = []string{}
			}
			entry[string(o)] = names
		}
		out.Result[system] = entry
	}
	return json.MarshalIndent(out, "", "  ")
}

// Write persists all artifacts into the review directory: symlinks
// first, then report.md (which may embed log tails), then report.json.
func (r *Report) Write(dir string) error {
	if err := r.writeSymlinks(dir); err != nil {
		return err
	}
	md := r.Markdown(dir)
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(md), 0o644); err != nil {
		return fmt.Errorf("write report.md: %w", err)
	}
	data, err := r.JSON()
	if err != nil {
		return fmt.Errorf("encode report.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), data, 0o644); err != nil {
		return fmt.Errorf("write report.json: %w", err)
	}
	return nil
}

// writeSymlinks materialises results/<attr> for built outputs and
// failed_results/<attr> for failures that still produced a path.
func (r *Report) writeSymlinks(dir string) error {
	for system, sr := range r.Result.PerSys {
		for _, o := range []models.Outcome{models.OutcomeBuilt, models.OutcomeTest, models.OutcomeFailed} {
			for _, attr := range sr.Attrs[o] {
				target := attr.OutPath()
				if target == "" {
					continue
				}
				sub := "results"
				if o == models.OutcomeFailed {
					sub = "failed_results"
					if _, err := os.Lstat(target); err != nil {
						// Failed builds usually have no output path on
						// disk; only link what exists.
						continue
					}
				}
				linkDir := filepath.Join(dir, sub)
				if err := os.MkdirAll(linkDir, 0o755); err != nil {
					return err
				}
				name := attr.Name
				if len(r.Result.Systems) > 1 {
					name = fmt.Sprintf("%s-%s", attr.Name, system)
				}
				link := filepath.Join(linkDir, name)
				_ = os.Remove(link)
				if err := os.Symlink(target, link); err != nil {
					return fmt.Errorf("symlink %s: %w", link, err)
				}
			}
		}
	}
	return nil
}

// PrintConsole renders the per-system summary to the terminal.
func (r *Report) PrintConsole(ui *output.UI, dir string) {
	for _, system := range r.Result.Systems {
		sr := r.Result.PerSys[system]
		ui.Info("--------- Report for %q ---------", system)
		printSet(ui, sr, models.OutcomeBroken, "marked as broken and skipped")
		printSet(ui, sr, models.OutcomeNonExistent, "not found in the checkout")
		printSet(ui, sr, models.OutcomeBlacklisted, "blacklisted")
		printSet(ui, sr, models.OutcomeFailed, "failed to build")
		printSet(ui, sr, models.OutcomeTest, "built (tests)")
		printSet(ui, sr, models.OutcomeBuilt, "built")
	}

	table := ui.Table([]string{"SYSTEM", "BUILT", "FAILED", "BROKEN", "SKIPPED"})
	for _, system := range r.Result.Systems {
		sr := r.Result.PerSys[system]
		skipped := len(sr.Attrs[models.OutcomeBlacklisted]) + len(sr.Attrs[models.OutcomeNonExistent])
		_ = table.Append([]string{
			system,
			output.OutcomeColor(models.OutcomeBuilt, fmt.Sprintf("%d", len(sr.Attrs[models.OutcomeBuilt])+len(sr.Attrs[models.OutcomeTest]))),
			output.OutcomeColor(models.OutcomeFailed, fmt.Sprintf("%d", len(sr.Attrs[models.OutcomeFailed]))),
			output.OutcomeColor(models.OutcomeBroken, fmt.Sprintf("%d", len(sr.Attrs[models.OutcomeBroken]))),
			fmt.Sprintf("%d", skipped),
		})
	}
	_ = table.Render()

	if r.Incomplete {
		ui.Warning("review was interrupted; results are incomplete")
	}
	ui.Info("Logs can be found under:")
	ui.Link("file://"+filepath.Join(dir, "logs"), filepath.Join(dir, "logs"))
}

func printSet(ui *output.UI, sr *models.SystemResult, o models.Outcome, msg string) {
	names := sr.Names(o)
	if len(names) == 0 {
		return
	}
	plural := ""
	if len(names) > 1 {
		plural = "s"
	}
	what := "package"
	if o == models.OutcomeTest {
		what = "test"
	}
	ui.Info("%d %s%s %s:", len(names), what, plural, msg)
	line := ""
	for i, n := range names {
		if i > 0 {
			line += " "
		}
		line += output.OutcomeColor(o, n)
	}
	fmt.Fprintln(ui.Out, line)
}
