package cli

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/presentum/presentum/internal/storage"
)

// ImpressionRow is one recorded shown or converted marker.
type ImpressionRow struct {
	ItemID  string `json:"item_id"`
	Surface string `json:"surface"`
	Variant string `json:"variant"`
	Kind    string `json:"kind"`
	At      string `json:"at"`
	Meta    string `json:"meta,omitempty"`
}

// DismissalRow is the latest dismissal of one item.
type DismissalRow struct {
	ItemID  string `json:"item_id"`
	Surface string `json:"surface"`
	Variant string `json:"variant"`
	At      string `json:"at"`
}

// InspectReport is the inspect command's output.
type InspectReport struct {
	Path        string          `json:"path"`
	Impressions []ImpressionRow `json:"impressions"`
	Dismissals  []DismissalRow  `json:"dismissals"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <store.db>",
		Short: "Dump the contents of a SQLite impression store",
		Long: `Dump every impression and dismissal recorded in a SQLite store,
ordered by time. Useful for debugging guard decisions.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runInspect(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error("E005", fmt.Sprintf("store not found: %s", path), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("store not found: %s", path))
	}

	store, err := storage.Open(path)
	if err != nil {
		_ = formatter.Error("E001", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	defer store.Close()

	report, err := buildInspectReport(path, store.DB())
	if err != nil {
		_ = formatter.Error("E001", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "%s: %d impression(s), %d dismissal(s)\n",
		path, len(report.Impressions), len(report.Dismissals))
	for _, row := range report.Impressions {
		line := fmt.Sprintf("  %s  %-9s  %s/%s/%s", row.At, row.Kind, row.ItemID, row.Surface, row.Variant)
		if row.Meta != "" {
			line += "  " + row.Meta
		}
		fmt.Fprintln(formatter.Writer, line)
	}
	for _, row := range report.Dismissals {
		fmt.Fprintf(formatter.Writer, "  %s  dismissed  %s/%s/%s\n", row.At, row.ItemID, row.Surface, row.Variant)
	}
	return nil
}

func buildInspectReport(path string, db *sql.DB) (*InspectReport, error) {
	report := &InspectReport{
		Path:        path,
		Impressions: []ImpressionRow{},
		Dismissals:  []DismissalRow{},
	}

	rows, err := db.Query(`SELECT item_id, surface, variant, kind, at_ms, meta
		FROM impressions ORDER BY at_ms, id`)
	if err != nil {
		return nil, fmt.Errorf("querying impressions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var row ImpressionRow
		var atMS int64
		var meta sql.NullString
		if err := rows.Scan(&row.ItemID, &row.Surface, &row.Variant, &row.Kind, &atMS, &meta); err != nil {
			return nil, fmt.Errorf("scanning impression: %w", err)
		}
		row.At = formatMillis(atMS)
		row.Meta = meta.String
		report.Impressions = append(report.Impressions, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading impressions: %w", err)
	}

	drows, err := db.Query(`SELECT item_id, surface, variant, at_ms
		FROM dismissals ORDER BY at_ms, item_id`)
	if err != nil {
		return nil, fmt.Errorf("querying dismissals: %w", err)
	}
	defer drows.Close()
	for drows.Next() {
		var row DismissalRow
		var atMS int64
		if err := drows.Scan(&row.ItemID, &row.Surface, &row.Variant, &atMS); err != nil {
			return nil, fmt.Errorf("scanning dismissal: %w", err)
		}
		row.At = formatMillis(atMS)
		report.Dismissals = append(report.Dismissals, row)
	}
	if err := drows.Err(); err != nil {
		return nil, fmt.Errorf("reading dismissals: %w", err)
	}

	return report, nil
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
