// Package app initializes and holds long-lived application services, acting
// as a dependency injection container. It is initialized once at startup and
// passed to the commands that need it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hotcharts/chartcrawler/internal/api"
	"github.com/hotcharts/chartcrawler/internal/logging"
	"github.com/hotcharts/chartcrawler/internal/progress"
	"github.com/hotcharts/chartcrawler/internal/queue"
	"github.com/hotcharts/chartcrawler/internal/storage"
	"github.com/hotcharts/chartcrawler/internal/store"
	"github.com/hotcharts/chartcrawler/internal/store/postgres"
	"github.com/hotcharts/chartcrawler/internal/store/sqlite"
)

// App holds all the shared, long-lived services for the application: the
// logger, the chart store, the snapshot storage provider, the queue, and the
// progress tracker backing the status API.
type App struct {
	logger  *zap.Logger
	store   store.Store
	storage storage.Provider
	queue   queue.Provider
	tracker *progress.Tracker
	api     *http.Server
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetStore provides access to the chart and enrichment store.
func (a *App) GetStore() store.Store {
	return a.store
}

// GetStorage exposes the configured snapshot storage provider.
func (a *App) GetStorage() storage.Provider {
	return a.storage
}

// GetQueue returns the queue provider used to publish week notifications.
func (a *App) GetQueue() queue.Provider {
	return a.queue
}

// GetTracker returns the progress tracker shared with the status API.
func (a *App) GetTracker() *progress.Tracker {
	return a.tracker
}

// NewApp creates and initializes the App from Viper configuration. It is the
// central point for service initialization and fails fast if any critical
// service cannot be built.
func NewApp(ctx context.Context) (*App, error) {
	l := logging.L
	l.Info("Initializing application services...")

	st, err := newStore(ctx, l)
	if err != nil {
		return nil, err
	}

	blobs, err := newStorage(ctx, l)
	if err != nil {
		return nil, err
	}

	q, err := newQueue(ctx, l)
	if err != nil {
		return nil, err
	}

	a := &App{
		logger:  l,
		store:   st,
		storage: blobs,
		queue:   q,
		tracker: progress.NewTracker(),
	}

	if viper.GetBool("api.enabled") {
		a.startAPI(viper.GetString("api.listen_addr"))
	}

	l.Info("Application services initialized successfully.")
	return a, nil
}

func newStore(ctx context.Context, l *zap.Logger) (store.Store, error) {
	switch provider := viper.GetString("database.provider"); provider {
	case "sqlite":
		path := viper.GetString("database.sqlite.path")
		if path == "" {
			return nil, fmt.Errorf("database provider is 'sqlite' but database.sqlite.path is not set")
		}
		l.Info("Using SQLite store", zap.String("path", path))
		return sqlite.New(path)
	case "postgres":
		dsn := viper.GetString("database.postgres.dsn")
		if dsn == "" {
			return nil, fmt.Errorf("database provider is 'postgres' but database.postgres.dsn is not set")
		}
		l.Info("Connecting to PostgreSQL...")
		return postgres.New(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown database provider: %s", provider)
	}
}

func newStorage(ctx context.Context, l *zap.Logger) (storage.Provider, error) {
	switch provider := viper.GetString("storage.provider"); provider {
	case "local":
		dir := viper.GetString("storage.local.dir")
		l.Info("Using local snapshot storage", zap.String("dir", dir))
		return storage.NewLocalProvider(dir)
	case "gcs":
		bucket := viper.GetString("storage.gcs.bucket_name")
		if bucket == "" {
			return nil, fmt.Errorf("storage provider is 'gcs' but storage.gcs.bucket_name is not set")
		}
		l.Info("Using GCS snapshot storage", zap.String("bucket", bucket))
		return storage.NewGCSProvider(ctx, bucket)
	case "noop":
		l.Info("Using No-Op storage provider. Page snapshots will be discarded.")
		return &storage.NoOpProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", provider)
	}
}

func newQueue(ctx context.Context, l *zap.Logger) (queue.Provider, error) {
	switch provider := viper.GetString("queue.provider"); provider {
	case "pubsub":
		projectID := viper.GetString("queue.gcp.project_id")
		topicID := viper.GetString("queue.gcp.topic_id")
		if projectID == "" || topicID == "" {
			return nil, fmt.Errorf("queue provider is 'pubsub' but project_id or topic_id is not set")
		}
		l.Info("Connecting to GCP Pub/Sub", zap.String("topic", topicID))
		return queue.NewPubSubProvider(ctx, projectID, topicID)
	case "noop":
		l.Info("Using No-Op queue provider. No messages will be sent.")
		return &queue.NoOpProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown queue provider: %s", provider)
	}
}

// startAPI serves health, metrics, and progress endpoints for the lifetime
// of the process.
func (a *App) startAPI(addr string) {
	srv := api.NewServer(a.tracker, a.store, a.logger)
	a.api = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("Starting status API", zap.String("addr", addr))
		if err := a.api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Status API failed", zap.Error(err))
		}
	}()
}

// Close gracefully shuts down all services in the App container. It is
// called by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")

	if a.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.api.Shutdown(ctx); err != nil {
			a.logger.Warn("Error shutting down status API", zap.Error(err))
		}
		cancel()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Error closing store", zap.Error(err))
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Warn("Error closing storage provider", zap.Error(err))
	}
	if err := a.queue.Close(); err != nil {
		a.logger.Warn("Error closing queue client", zap.Error(err))
	}

	// Flush buffered log entries before the process exits.
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("Error syncing logger on shutdown", zap.Error(err))
	}
}
