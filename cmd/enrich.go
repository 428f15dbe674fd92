package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hotcharts/chartcrawler/internal/enrich"
	"github.com/hotcharts/chartcrawler/internal/match"
	"github.com/hotcharts/chartcrawler/internal/spotify"
)

// newEnrichCmd creates the 'enrich' subcommand, which matches stored tracks
// against the metadata service and merges audio features and genres.
func newEnrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Matches stored tracks and merges audio features and genres",
		Long: `Searches the track-metadata service for every stored (artist, title)
pair without a verdict, records matches, and then pulls audio features and
artist genres for the positive matches in batches. Interrupted runs resume
where they stopped.`,

		RunE: runEnrichCommand,
	}
	return cmd
}

func runEnrichCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	cfg, err := spotify.LoadConfig(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load spotify config: %w", err)
	}
	client := spotify.NewClient(cfg, appInstance.GetLogger())

	enricher := enrich.New(
		appInstance.GetStore(),
		client,
		match.New(viper.GetFloat64("match.threshold")),
		appInstance.GetTracker(),
		appInstance.GetLogger(),
		viper.GetInt("spotify.batch_size"),
	)

	if err := enricher.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run enrichment: %w", err)
	}

	appInstance.GetLogger().Info("Enrich command finished.")
	return nil
}
