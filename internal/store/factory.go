package store

import (
	"context"
	"fmt"

	"wsk-go/internal/config"
	"wsk-go/internal/ops"
)

// NewStoreFromConfig creates a Store implementation based on the store config type.
func NewStoreFromConfig(cfg config.StoreConfig) (ops.Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem", "":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem store requires root to be set")
		}
		return NewFileSystemStore(cfg.Root)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 store requires s3_bucket to be set")
		}
		return NewS3Store(context.Background(), cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
