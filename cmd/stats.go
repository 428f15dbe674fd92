package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hotcharts/chartcrawler/internal/stats"
	"github.com/hotcharts/chartcrawler/internal/store"
)

var statsJSON bool

// newStatsCmd creates the 'stats' subcommand, which summarizes an artist's
// chart performance.
func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <artist>",
		Short: "Summarizes an artist's chart performance",
		Long: `Computes chart statistics for an artist: solo and lead-collaboration
song counts, weeks on chart, total scores, and every song's run ordered by
success. An entry at rank 1 is worth 100 points, rank 100 one point.`,

		Args: cobra.MinimumNArgs(1),
		RunE: runStatsCommand,
	}
	cmd.Flags().BoolVar(&statsJSON, "json", false, "emit the report as JSON")
	return cmd
}

func runStatsCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	artist := strings.Join(args, " ")

	// Lead collaborations carry credits like "X Featuring Y", so the whole
	// listing is fetched and classified rather than filtered by exact credit.
	entries, err := appInstance.GetStore().ListEntries(cmd.Context(), store.Filter{})
	if err != nil {
		return fmt.Errorf("list chart entries: %w", err)
	}

	report := stats.ForArtist(entries, artist)
	if statsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	}
	return report.Render(cmd.OutOrStdout())
}
