// Package config is responsible for initializing the application's configuration.
// It uses the Viper library to read settings from a config file, environment
// variables, and command-line flags, providing a unified configuration system.
package config

import (
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hotcharts/chartcrawler/internal/logging"
)

// CfgFile, when set before InitConfig runs, points Viper at an explicit
// config file instead of the search paths.
var CfgFile string

// InitConfig initializes the application's configuration using Viper.
// It sets up default values, defines configuration search paths, and enables
// reading from environment variables. This function is designed to be called
// once at application startup so that configuration is loaded and available
// to all other packages.
func InitConfig() {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")                   // Current working directory
		viper.AddConfigPath("/etc/chartcrawler/")  // System-wide configuration
		viper.AddConfigPath("$HOME/.chartcrawler") // User-specific configuration
	}

	const defaultUA = "chartcrawler/1.0 (+https://github.com/hotcharts/chartcrawler)"
	viper.SetDefault("crawler.user_agent", defaultUA)
	viper.SetDefault("crawler.chart", "hot-100")
	viper.SetDefault("crawler.archive_base_url", "https://www.billboard.com/charts")
	viper.SetDefault("crawler.start_date", "1958-08-02")
	viper.SetDefault("crawler.end_date", "")
	viper.SetDefault("crawler.delay", "2s")
	viper.SetDefault("crawler.request_timeout", "15s")
	viper.SetDefault("crawler.rate_limit_rps", 0.5)
	viper.SetDefault("crawler.rate_limit_burst", 1)
	viper.SetDefault("crawler.max_attempts", 3)
	viper.SetDefault("crawler.snapshot_pages", true)

	// Headless fallback for weeks whose static HTML carries no chart rows.
	viper.SetDefault("renderer.enabled", false)
	viper.SetDefault("renderer.timeout", "20s")
	viper.SetDefault("renderer.max_concurrency", 1)
	viper.SetDefault("renderer.domain_qps", 0.2)
	viper.SetDefault("detector.min_html_bytes", 2000)
	viper.SetDefault("detector.keywords", []string{
		"__NEXT_DATA__",
		"data-reactroot",
		"window.__APOLLO_STATE__",
	})

	viper.SetDefault("spotify.base_url", "https://api.spotify.com")
	viper.SetDefault("spotify.accounts_url", "https://accounts.spotify.com")
	viper.SetDefault("spotify.market", "US")
	viper.SetDefault("spotify.batch_size", 50)
	viper.SetDefault("spotify.rate_limit_rps", 5)
	viper.SetDefault("spotify.max_retry_after", "2m")
	viper.SetDefault("match.threshold", 0.5)

	viper.SetDefault("database.provider", "sqlite")
	viper.SetDefault("database.sqlite.path", "chartcrawler.db")
	viper.SetDefault("database.postgres.dsn", "")

	viper.SetDefault("storage.provider", "local")
	viper.SetDefault("storage.local.dir", "data/snapshots")
	viper.SetDefault("storage.gcs.bucket_name", "")

	viper.SetDefault("queue.provider", "noop")
	viper.SetDefault("queue.gcp.project_id", "")
	viper.SetDefault("queue.gcp.topic_id", "")

	viper.SetDefault("api.listen_addr", ":8080")
	viper.SetDefault("api.enabled", true)

	viper.SetDefault("log.development", false)

	// e.g. CHARTCRAWLER_SPOTIFY_CLIENT_ID=...
	viper.SetEnvPrefix("CHARTCRAWLER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logging.L.Warn("Config file not found; using defaults and environment variables.")
		} else {
			logging.L.Error("Error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("Using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
