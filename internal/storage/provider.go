// Package storage defines the blob storage provider used for page snapshots.
// The abstraction keeps the crawler independent of where raw HTML lands
// (Google Cloud Storage, the local filesystem, or nowhere at all).
package storage

import (
	"context"
)

// Provider is the common interface for a blob storage provider.
type Provider interface {
	// Save uploads data under the given object key and returns a URI
	// that can be stored alongside the parsed record.
	Save(ctx context.Context, objectName string, data []byte) (string, error)

	// Close releases any client connections the provider holds.
	Close() error
}

// NoOpProvider discards snapshots. Useful for dry runs and tests.
type NoOpProvider struct{}

// Save for NoOpProvider does nothing and returns an empty URI.
func (n *NoOpProvider) Save(_ context.Context, _ string, _ []byte) (string, error) {
	return "", nil
}

// Close for NoOpProvider does nothing.
func (n *NoOpProvider) Close() error {
	return nil
}
