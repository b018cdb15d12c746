package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

// RenderTable prints one row per item followed by the summary line.
func RenderTable(w io.Writer, r *core.Report) error {
	if r.Total() == 0 {
		_, err := fmt.Fprintln(w, "No items processed")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Item", "Status", "Attempts", "Duration", "Error")
	for _, id := range r.Order {
		out := r.Items[id]
		if err := table.Append(
			id,
			string(out.Status),
			strconv.Itoa(out.AttemptCount),
			itemDuration(out),
			out.ErrorCode,
		); err != nil {
			return fmt.Errorf("rendering row %s: %w", id, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering table: %w", err)
	}

	_, err := fmt.Fprintf(w, "\n%s\n", summaryLine(r))
	return err
}
