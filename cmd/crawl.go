package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hotcharts/chartcrawler/internal/chart"
	"github.com/hotcharts/chartcrawler/internal/crawler"
)

var crawlFrom string

// newCrawlCmd creates and configures the 'crawl' subcommand, which walks the
// weekly chart archive and persists every ranked entry.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Walks the weekly chart archive and stores every entry",
		Long: `Fetches the chart page for every week from the configured start date
(resuming after the most recent stored week), parses the ranked entries, and
persists them. Page snapshots are archived to the configured blob store and a
message is published for each completed week. Passing --from re-crawls from
that date, replacing the weeks already stored.`,

		RunE: runCrawlCommand,
	}
	cmd.Flags().StringVar(&crawlFrom, "from", "", "re-crawl from this chart date (YYYY-MM-DD) instead of resuming")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	cfg, err := crawler.LoadConfig(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load crawler config: %w", err)
	}
	if crawlFrom != "" {
		from, err := time.Parse(chart.URLDateLayout, crawlFrom)
		if err != nil {
			return fmt.Errorf("parse --from date %q: %w", crawlFrom, err)
		}
		cfg.StartDate = from
		cfg.StartExplicit = true
	}

	engine, err := crawler.NewEngine(cfg, crawler.Deps{
		Store:   appInstance.GetStore(),
		Blobs:   appInstance.GetStorage(),
		Queue:   appInstance.GetQueue(),
		Tracker: appInstance.GetTracker(),
		Logger:  appInstance.GetLogger(),
	})
	if err != nil {
		return fmt.Errorf("init crawler engine: %w", err)
	}
	defer func() {
		if cerr := engine.Close(cmd.Context()); cerr != nil {
			appInstance.GetLogger().Warn("Failed to close engine", zap.Error(cerr))
		}
	}()

	if err := engine.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}

	appInstance.GetLogger().Info("Crawl command finished.")
	return nil
}
