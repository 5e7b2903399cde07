package storage

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/config"
	"github.com/yokitheyo/batchflow/internal/domain"
)

// Storage is the object store used for batch inputs and outputs.
// Put overwrites; Get of a missing path returns domain.ErrObjectNotFound.
type Storage interface {
	domain.ObjectStorage
	Delete(ctx context.Context, path string) error
}

var (
	_ Storage = (*localStorage)(nil)
	_ Storage = (*S3Storage)(nil)
	_ Storage = (*MemoryStorage)(nil)
)

// New picks the backend named by cfg.Type.
func New(ctx context.Context, cfg *config.StorageConfig, strategy retry.Strategy) (Storage, error) {
	switch cfg.Type {
	case "local":
		zlog.Logger.Info().Str("path", cfg.LocalPath).Msg("using local object store")
		return NewLocalStorage(cfg)
	case "s3":
		zlog.Logger.Info().Str("endpoint", cfg.S3Endpoint).Str("bucket", cfg.S3Bucket).Msg("using s3 object store")
		s, err := NewS3Storage(ctx, cfg, strategy)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		zlog.Logger.Warn().Msg("using in-memory object store, objects are lost on restart")
		return NewMemoryStorage(), nil
	}
	return nil, fmt.Errorf("unsupported storage type %q, use local, s3 or memory", cfg.Type)
}
