package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/config"
	"github.com/yokitheyo/batchflow/internal/domain"
)

const bucketCheckTimeout = 10 * time.Second

// S3Storage keeps batch objects in one bucket under {batchId}/input and
// {batchId}/output prefixes.
type S3Storage struct {
	client   *minio.Client
	bucket   string
	strategy retry.Strategy
}

func NewS3Storage(ctx context.Context, cfg *config.StorageConfig, strategy retry.Strategy) (*S3Storage, error) {
	switch {
	case cfg.S3Endpoint == "":
		return nil, fmt.Errorf("s3 endpoint is required")
	case cfg.S3Bucket == "":
		return nil, fmt.Errorf("s3 bucket is required")
	case cfg.S3AccessKey == "" || cfg.S3SecretKey == "":
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}

	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	s := &S3Storage{client: client, bucket: cfg.S3Bucket, strategy: strategy}
	if err := s.ensureBucket(ctx, cfg.S3Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *S3Storage) ensureBucket(ctx context.Context, region string) error {
	ctx, cancel := context.WithTimeout(ctx, bucketCheckTimeout)
	defer cancel()

	var exists bool
	err := retry.Do(func() error {
		var err error
		exists, err = s.client.BucketExists(ctx, s.bucket)
		return err
	}, s.strategy)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		// another instance may have created it in the meantime
		if again, checkErr := s.client.BucketExists(ctx, s.bucket); checkErr == nil && again {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	zlog.Logger.Info().Str("bucket", s.bucket).Msg("created bucket")
	return nil
}

// Put overwrites the object at path, retrying transport failures.
func (s *S3Storage) Put(ctx context.Context, path string, data []byte, contentType string) error {
	err := retry.Do(func() error {
		_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType,
		})
		return err
	}, s.strategy)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("path", path).Msg("put object failed")
		return fmt.Errorf("put object %s: %w", path, err)
	}

	zlog.Logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("object stored")
	return nil
}

// Get is a single attempt. A failed download is redelivered by the queue.
func (s *S3Storage) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(path, err)
	}
	return data, nil
}

func (s *S3Storage) Delete(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", path, err)
	}
	zlog.Logger.Debug().Str("path", path).Msg("object removed")
	return nil
}

func (s *S3Storage) mapErr(path string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", domain.ErrObjectNotFound, path)
	}
	zlog.Logger.Error().Err(err).Str("path", path).Msg("get object failed")
	return fmt.Errorf("get object %s: %w", path, err)
}
