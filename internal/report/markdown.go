package report

import (
	"fmt"
	"html"
	"strings"

	"github.com/joescharf/nixpkgs-review/internal/models"
)

// maxCommentLength is GitHub's hard limit on comment bodies.
const maxCommentLength = 65536

// Markdown renders report.md / the PR comment body. dir is the review
// directory holding the logs when ShowLogs is set.
func (r *Report) Markdown(dir string) string {
	var b strings.Builder

	b.WriteString("## `nixpkgs-review` result\n\n")
	b.WriteString("Generated using `nixpkgs-review`.\n\n")

	cmd := "nixpkgs-review"
	switch {
	case r.PR != 0:
		cmd += fmt.Sprintf(" pr %d", r.PR)
	case r.Commit != "":
		cmd += fmt.Sprintf(" rev %s", r.Commit)
	}
	if r.ExtraNixpkgsConfig != "" {
		cmd += fmt.Sprintf(" --extra-nixpkgs-config %q", r.ExtraNixpkgsConfig)
	}
	if r.Checkout != "" && r.Checkout != "merge" {
		cmd += " --checkout " + r.Checkout
	}
	fmt.Fprintf(&b, "Command: `%s`\n", cmd)
	if r.Commit != "" {
		fmt.Fprintf(&b, "Commit: `%s`\n", r.Commit)
	}
	if r.Incomplete {
		b.WriteString("\n**Warning:** the review was interrupted; results below are incomplete.\n")
	}

	for _, system := range r.Result.Systems {
		sr := r.Result.PerSys[system]
		b.WriteString("\n---\n")
		fmt.Fprintf(&b, "### `%s`\n", system)
		b.WriteString(section(":fast_forward:", sr, models.OutcomeBroken, "marked as broken and skipped", "package"))
		b.WriteString(section(":fast_forward:", sr, models.OutcomeNonExistent, "present in the change set, but not found in the checkout", "package"))
		b.WriteString(section(":fast_forward:", sr, models.OutcomeBlacklisted, "blacklisted", "package"))
		b.WriteString(section(":x:", sr, models.OutcomeFailed, "failed to build", "package"))
		b.WriteString(section(":white_check_mark:", sr, models.OutcomeTest, "built", "test"))
		b.WriteString(section(":white_check_mark:", sr, models.OutcomeBuilt, "built", "package"))
	}

	msg := b.String()
	if !r.ShowLogs {
		return msg
	}

	const truncated = "\n---\nWARNING: Some logs were omitted from this report: there were too many."
	for _, system := range r.Result.Systems {
		sr := r.Result.PerSys[system]
		if len(sr.Attrs[models.OutcomeFailed]) == 0 {
			continue
		}
		withLogs := msg + logsSection(dir, system, sr.Attrs[models.OutcomeFailed])
		if len(withLogs) > maxCommentLength-len(truncated) {
			msg += truncated
			break
		}
		msg = withLogs
	}
	return msg
}

// section renders one collapsible outcome block; empty sets render
// nothing.
func section(emoji string, sr *models.SystemResult, o models.Outcome, msg, what string) string {
	attrs := sr.Attrs[o]
	if len(attrs) == 0 {
		return ""
	}
	plural := ""
	if len(attrs) > 1 {
		plural = "s"
	}
	var b strings.Builder
	b.WriteString("<details>\n")
	fmt.Fprintf(&b, "  <summary>%s %d %s%s %s:</summary>\n  <ul>\n", emoji, len(attrs), what, plural, msg)
	for _, a := range attrs {
		fmt.Fprintf(&b, "    <li>%s", a.Name)
		if len(a.Aliases) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(a.Aliases, ", "))
		}
		b.WriteString("</li>\n")
	}
	b.WriteString("  </ul>\n</details>\n")
	return b.String()
}

// logsSection renders the deduplicated failure log tails of one system.
func logsSection(dir string, system models.System, failed []*models.Attr) string {
	var b strings.Builder
	seen := map[string]struct{}{}
	for _, a := range failed {
		tail := LogTail(logPath(dir, a.Name, system), tailLines)
		if tail == "" {
			continue
		}
		if _, dup := seen[tail]; dup {
			continue
		}
		seen[tail] = struct{}{}
		if b.Len() == 0 {
			b.WriteString("\n---\n")
			fmt.Fprintf(&b, "<details>\n<summary>Error logs: `%s`</summary>\n", system)
		}
		fmt.Fprintf(&b, "<details>\n<summary>%s</summary>\n<pre>%s</pre>\n</details>\n",
			a.Name, html.EscapeString(tail))
	}
	if b.Len() > 0 {
		b.WriteString("</details>\n")
	}
	return b.String()
}
