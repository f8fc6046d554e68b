package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/corpus-crawler/internal/app"
	"github.com/JakeFAU/corpus-crawler/internal/pipeline"
)

func newStatusCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show frontier, export and checkpoint state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "table" {
				return fmt.Errorf("--format must be json or table, got %q", format)
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p, err := a.Pipeline(app.RunOptions{})
			if err != nil {
				return err
			}
			report, err := p.Report(cmd.Context())
			if err != nil {
				return err
			}
			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			renderStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: json or table")
	return cmd
}

func renderStatus(out io.Writer, r pipeline.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Frontier")
	t.AppendHeader(table.Row{"Pending", "Processing", "Completed", "Failed", "Total"})
	t.AppendRow(table.Row{r.Frontier.Pending, r.Frontier.Processing, r.Frontier.Completed, r.Frontier.Failed, r.Frontier.Total})
	t.Render()

	t = table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Export")
	t.AppendHeader(table.Row{"Shards", "Finalized", "Active", "Entries", "Bytes", "Pending docs", "Exported docs"})
	t.AppendRow(table.Row{
		r.Export.TotalShards, r.Export.FinalizedShards, r.Export.ActiveShards,
		r.Export.TotalEntries, r.Export.TotalBytes, r.Export.PendingDocs, r.Export.ExportedDocs,
	})
	t.Render()

	t = table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Last checkpoint")
	if cp := r.LastCheckpoint; cp != nil {
		t.AppendHeader(table.Row{"Time", "Crawled", "Successful", "Failed", "Exported", "Success", "Acceptance", "Duplicates"})
		t.AppendRow(table.Row{
			cp.Timestamp.Format(time.RFC3339), cp.Stats.PagesCrawled, cp.Stats.PagesSuccessful,
			cp.Stats.PagesFailed, cp.Stats.EntriesExported,
			percent(cp.Stats.SuccessRate), percent(cp.Stats.AcceptanceRate), percent(cp.Stats.DuplicateRate),
		})
	} else {
		t.AppendRow(table.Row{"no checkpoint recorded"})
	}
	t.Render()

	if len(r.Rejections) == 0 {
		return
	}
	reasons := make([]string, 0, len(r.Rejections))
	for reason := range r.Rejections {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	t = table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Rejections")
	t.AppendHeader(table.Row{"Reason", "Count"})
	for _, reason := range reasons {
		t.AppendRow(table.Row{reason, r.Rejections[reason]})
	}
	t.Render()
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
