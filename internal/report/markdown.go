package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

const maxOutputExcerpt = 2000

// statusOrder is the order statuses are listed in summaries.
var statusOrder = []core.ItemStatus{
	core.ItemStatusSucceeded,
	core.ItemStatusFailed,
	core.ItemStatusTimedOut,
	core.ItemStatusSkipped,
}

// RenderMarkdown renders r as a markdown document with YAML frontmatter.
func RenderMarkdown(r *core.Report) (string, error) {
	fm := NewFrontmatter()
	fm.Set("run_id", r.RunID)
	fm.Set("started_at", r.StartedAt.UTC().Format(time.RFC3339))
	fm.Set("finished_at", r.FinishedAt.UTC().Format(time.RFC3339))
	fm.Set("duration", formatDuration(r.Duration()))
	fm.Set("total", r.Total())
	for _, s := range statusOrder {
		fm.Set(string(s), r.Count(s))
	}
	fm.Set("cancelled", r.Cancelled)
	if r.Error != "" {
		fm.Set("error", r.Error)
	}
	head, err := fm.Render()
	if err != nil {
		return "", fmt.Errorf("rendering frontmatter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(head)
	sb.WriteString(fmt.Sprintf("# Sweep report %s\n\n", r.RunID))

	switch {
	case r.Error != "":
		sb.WriteString(fmt.Sprintf("> **Aborted:** %s\n\n", r.Error))
	case r.Cancelled:
		sb.WriteString("> **Cancelled** before all items finished.\n\n")
	}

	sb.WriteString(fmt.Sprintf("%s\n\n", summaryLine(r)))

	if r.Total() == 0 {
		sb.WriteString("_No items._\n")
		return sb.String(), nil
	}

	sb.WriteString("| Item | Status | Attempts | Duration | Error |\n")
	sb.WriteString("|------|--------|----------|----------|-------|\n")
	for _, id := range r.Order {
		out := r.Items[id]
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %s |\n",
			escapeCell(id), statusLabel(out.Status), out.AttemptCount,
			itemDuration(out), escapeCell(out.ErrorCode)))
	}

	var details strings.Builder
	for _, id := range r.Order {
		out := r.Items[id]
		if out.Error == "" && out.Output == "" {
			continue
		}
		details.WriteString(fmt.Sprintf("### %s\n\n", id))
		if out.Error != "" {
			details.WriteString(fmt.Sprintf("**Error:** %s\n\n", out.Error))
		}
		if out.Output != "" {
			details.WriteString("```\n")
			details.WriteString(truncate(out.Output, maxOutputExcerpt))
			details.WriteString("\n```\n\n")
		}
	}
	if details.Len() > 0 {
		sb.WriteString("\n## Details\n\n")
		sb.WriteString(details.String())
	}
	return sb.String(), nil
}

func summaryLine(r *core.Report) string {
	parts := make([]string, 0, len(statusOrder))
	for _, s := range statusOrder {
		parts = append(parts, fmt.Sprintf("%d %s", r.Count(s), s))
	}
	return fmt.Sprintf("%d items: %s (%s)", r.Total(), strings.Join(parts, ", "), formatDuration(r.Duration()))
}

func statusLabel(s core.ItemStatus) string {
	switch s {
	case core.ItemStatusSucceeded:
		return "✅ succeeded"
	case core.ItemStatusFailed:
		return "❌ failed"
	case core.ItemStatusTimedOut:
		return "⏱ timed_out"
	case core.ItemStatusSkipped:
		return "⏭ skipped"
	default:
		return string(s)
	}
}

func itemDuration(out core.ItemOutcome) string {
	if out.StartedAt == nil || out.FinishedAt == nil {
		return "-"
	}
	return formatDuration(out.FinishedAt.Sub(*out.StartedAt))
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
