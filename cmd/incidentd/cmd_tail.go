package main

import (
	"encoding/json"
	"errors"
	"io"

	"incident-engine/core/appbootstrap"
	"incident-engine/core/incidents"
	"incident-engine/core/redact"
	"incident-engine/core/utils"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var tailFlags struct {
	limit       int
	fingerprint string
	minLevel    int
	asJSON      bool
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "List incident states, most recent first",
	RunE:  runTail,
}

func init() {
	f := tailCmd.Flags()
	f.IntVar(&tailFlags.limit, "limit", 50, "Maximum number of incidents (1-1000)")
	f.StringVar(&tailFlags.fingerprint, "fingerprint", "", "Only this fingerprint")
	f.IntVar(&tailFlags.minLevel, "min-level", 0, "Minimum level (0-3)")
	f.BoolVar(&tailFlags.asJSON, "json", false, "Print JSON instead of a table")
}

func runTail(cmd *cobra.Command, _ []string) error {
	if tailFlags.limit < 1 || tailFlags.limit > 1000 {
		return errors.New("--limit must be between 1 and 1000")
	}
	if tailFlags.minLevel < 0 || tailFlags.minLevel > 3 {
		return errors.New("--min-level must be between 0 and 3")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := appbootstrap.Open(cmd.Context(), cfg, utils.NewDiscardLogger())
	if err != nil {
		return err
	}
	defer rt.Close()
	items, err := rt.Manager.Tail(cmd.Context(), incidents.TailFilter{
		Limit:       tailFlags.limit,
		Fingerprint: tailFlags.fingerprint,
		MinLevel:    tailFlags.minLevel,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if tailFlags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"count": len(items), "items": items})
	}
	renderTail(out, items)
	return nil
}

func renderTail(out io.Writer, items []incidents.TailItem) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Fingerprint", "Level", "Count", "Last seen", "Stage/Event", "Error", "Report"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 6, WidthMax: 48},
	})
	for _, it := range items {
		stageEvent := it.LastEvent.Stage + "/" + it.LastEvent.Event
		if stageEvent == "/" {
			stageEvent = "-"
		}
		errText := "-"
		if it.LastEvent.ErrorType != "" {
			errText = redact.Clip(it.LastEvent.ErrorType+": "+it.LastEvent.Message, 120)
		}
		report := "-"
		if it.ReportPath != "" {
			report = it.ReportPath
		}
		tw.AppendRow(table.Row{it.Fingerprint, it.Level, it.CountInWindow, utils.FormatTimestamp(it.LastSeenAt), stageEvent, errText, report})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "total", len(items)})
	tw.Render()
}
