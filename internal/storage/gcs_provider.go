package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/hotcharts/chartcrawler/internal/logging"
)

// GCSProvider implements Provider for Google Cloud Storage.
type GCSProvider struct {
	Client     *storage.Client
	BucketName string
}

// NewGCSProvider initializes a GCS client and verifies the bucket is reachable.
// Authentication is handled via Google's Application Default Credentials.
func NewGCSProvider(ctx context.Context, bucketName string) (*GCSProvider, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}

	// Fail fast on startup if the bucket is missing or inaccessible.
	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logging.L.Warn("Failed to close GCS client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get GCS bucket %q attributes: %w", bucketName, err)
	}

	return &GCSProvider{
		Client:     client,
		BucketName: bucketName,
	}, nil
}

// Save uploads the given data to an object in the bucket and returns its gs:// URI.
func (g *GCSProvider) Save(ctx context.Context, objectName string, data []byte) (string, error) {
	wc := g.Client.Bucket(g.BucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = "text/html; charset=utf-8"

	if _, err := wc.Write(data); err != nil {
		// The primary error is the write failure; Close just cleans up.
		if closeErr := wc.Close(); closeErr != nil {
			logging.L.Warn("Failed to close GCS writer after write failure", zap.Error(closeErr))
		}
		return "", fmt.Errorf("write GCS object %s: %w", objectName, err)
	}

	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer for object %s: %w", objectName, err)
	}

	return fmt.Sprintf("gs://%s/%s", g.BucketName, objectName), nil
}

// Close releases the GCS client's connections.
func (g *GCSProvider) Close() error {
	return g.Client.Close()
}
