package storage

import (
	"context"
	"fmt"
	"io"
)

// Storage is the minimal object store used to archive ledger reports.
type Storage interface {
	// Put stores an object at key.
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Get opens the object stored at key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend string // "s3", "local" or "" (disabled)

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	LocalDir string
}

// New returns the configured backend, or nil when archiving is disabled.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "s3":
		return NewS3Storage(ctx, cfg)
	case "local":
		return NewLocalStorage(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
