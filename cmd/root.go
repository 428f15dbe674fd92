// Package cmd defines and implements the CLI commands for the chartcrawler
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hotcharts/chartcrawler/internal/app"
	"github.com/hotcharts/chartcrawler/internal/logging"
	"github.com/hotcharts/chartcrawler/internal/progress"
	"github.com/hotcharts/chartcrawler/internal/queue"
	"github.com/hotcharts/chartcrawler/internal/storage"
	"github.com/hotcharts/chartcrawler/internal/store"
	"github.com/hotcharts/chartcrawler/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. This allows a
// mock app to be injected during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetStore() store.Store
	GetStorage() storage.Provider
	GetQueue() queue.Provider
	GetTracker() *progress.Tracker
}

// newApp is the application factory. It is a variable so tests can replace
// it with a mock factory.
var newApp func(ctx context.Context) (App, error) = func(ctx context.Context) (App, error) {
	return app.NewApp(ctx)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chartcrawler",
		Short: "Scrapes the weekly Hot 100 archive and enriches it with track metadata.",
		Long: `chartcrawler walks the weekly chart archive page by page, persists every
ranked entry, and enriches the dataset with audio features and artist genres
from the track-metadata service. The resulting dataset can be exported for
analysis or summarized per artist.`,

		// Runs after config is loaded but before the subcommand's RunE:
		// the right place to build and inject the application services.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// Ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cobra.OnInitialize(func() {
		config.CfgFile = cfgFile
		config.InitConfig()
		logging.InitLogger(viper.GetBool("log.development"))
	})

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.chartcrawler/config.yaml)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newEnrichCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
