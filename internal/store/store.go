// Package store abstracts the staging and archive object storage areas.
package store

import (
	"context"
	"fmt"
)

// ObjectStore is the narrow surface the pipeline needs from an object
// storage area.
type ObjectStore interface {
	// Read returns the full contents of the object at key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores data at key, replacing any existing object.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error

	// Exists checks whether an object is present at key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// Config configures one storage area.
type Config struct {
	Backend string // "local" | "s3" | "gcs"

	// Local filesystem
	LocalDir string

	// Bucket name for s3/gcs
	Bucket string

	// S3 (also works for B2, R2, MinIO)
	S3Endpoint string
	S3Region   string

	// Common key prefix within the bucket or local dir
	Prefix string
}

// New creates a storage backend based on configuration.
func New(cfg Config) (ObjectStore, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("store: LocalDir required for local backend")
		}
		return newLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("store: Bucket required for gcs backend")
		}
		return newGCSStore(cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("store: Bucket required for s3 backend")
		}
		return newS3Store(cfg.Bucket, cfg.Prefix, cfg.S3Endpoint, cfg.S3Region)
	default:
		return nil, fmt.Errorf("store: unknown backend: %s", cfg.Backend)
	}
}
