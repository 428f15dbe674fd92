package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider implements Provider on the local filesystem. It is the
// default: snapshots land under a base directory mirroring the object keys.
type LocalProvider struct {
	baseDir string
}

// NewLocalProvider creates the base directory if needed.
func NewLocalProvider(baseDir string) (*LocalProvider, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("storage.local.dir must be set")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir %s: %w", baseDir, err)
	}
	return &LocalProvider{baseDir: baseDir}, nil
}

// Save writes data to baseDir/objectName and returns a file:// URI.
// Object keys must stay inside the base directory.
func (l *LocalProvider) Save(ctx context.Context, objectName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean(objectName)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid object name %q", objectName)
	}

	dest := filepath.Join(l.baseDir, clean)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write object %s: %w", dest, err)
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		abs = dest
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// Close is a no-op; the provider holds no connections.
func (l *LocalProvider) Close() error {
	return nil
}
