package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/feichai0017/document-splitter/config"
	"github.com/feichai0017/document-splitter/pkg/logger"
	"github.com/feichai0017/document-splitter/pkg/storage/minio"
	"github.com/feichai0017/document-splitter/pkg/storage/s3"
)

// Key prefixes used when mirroring local artifacts.
const (
	PrefixOutput = "out"
	PrefixBackup = "backup"
)

// Storage 接口定义
type Storage interface {
	// Store 存储文件
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// CleanupBefore 清理过期文件
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// NewStorage 创建存储实例的工厂方法. A nil Storage with a nil error means
// mirroring is disabled.
func NewStorage(ctx context.Context, cfg config.StorageConfig, logger logger.Logger) (Storage, error) {
	switch cfg.Type {
	case "", config.StorageNone:
		return nil, nil
	case config.StorageS3:
		return s3.NewS3Storage(ctx, cfg.S3, logger)
	case config.StorageMinio:
		return minio.NewMinioStorage(ctx, cfg.Minio, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// Key builds an object key from a prefix and the base name of a local file.
func Key(prefix, localPath string) string {
	return path.Join(prefix, filepath.Base(localPath))
}

// UploadFile mirrors a local file under key.
func UploadFile(ctx context.Context, s Storage, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := s.Store(ctx, f, key); err != nil {
		return err
	}
	return nil
}

// Prune removes mirrored objects older than retention. A zero retention keeps
// everything. Listing failures are returned; individual deletes are logged by
// the backend.
func Prune(ctx context.Context, s Storage, retention time.Duration, now time.Time, log logger.Logger) error {
	if s == nil || retention <= 0 {
		return nil
	}
	threshold := now.Add(-retention)
	log.Info("Pruning mirrored objects",
		logger.Duration("retention", retention),
		logger.Time("threshold", threshold),
	)
	if err := s.CleanupBefore(ctx, threshold); err != nil {
		return fmt.Errorf("prune mirror: %w", err)
	}
	return nil
}
