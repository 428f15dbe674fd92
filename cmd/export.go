package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hotcharts/chartcrawler/internal/chart"
	"github.com/hotcharts/chartcrawler/internal/export"
	"github.com/hotcharts/chartcrawler/internal/store"
)

var (
	exportFormat string
	exportOutput string
	exportFrom   string
	exportTo     string
	exportArtist string
)

// newExportCmd creates the 'export' subcommand, which writes the joined
// dataset as CSV or JSON.
func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Writes the enriched dataset as CSV or JSON",
		Long: `Exports every stored chart entry joined with its match verdict, audio
features, and artist genres. CSV output is semicolon-separated; use --output
to write to a file instead of stdout.`,

		RunE: runExportCommand,
	}
	cmd.Flags().StringVar(&exportFormat, "format", "csv", "output format: csv or json")
	cmd.Flags().StringVar(&exportOutput, "output", "-", "output file (- for stdout)")
	cmd.Flags().StringVar(&exportFrom, "from", "", "only entries on or after this chart date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&exportTo, "to", "", "only entries on or before this chart date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&exportArtist, "artist", "", "only entries credited exactly to this artist")
	return cmd
}

func runExportCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	filter, err := parseFilter(exportFrom, exportTo, exportArtist)
	if err != nil {
		return err
	}

	rows, err := appInstance.GetStore().ListEnriched(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("list enriched entries: %w", err)
	}

	out := os.Stdout
	if exportOutput != "-" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := export.Write(out, format, rows); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d rows.\n", len(rows))
	return nil
}

func parseFilter(from, to, artist string) (store.Filter, error) {
	var f store.Filter
	var err error
	if from != "" {
		if f.From, err = time.Parse(chart.URLDateLayout, from); err != nil {
			return store.Filter{}, fmt.Errorf("--from: %w", err)
		}
	}
	if to != "" {
		if f.To, err = time.Parse(chart.URLDateLayout, to); err != nil {
			return store.Filter{}, fmt.Errorf("--to: %w", err)
		}
	}
	f.Artist = artist
	return f, nil
}
