// Package objectstore archives submitted import files in an S3-compatible
// bucket (MinIO in development).
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/JonMunkholm/stockimport/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNoBucket is returned when the store is configured without a bucket.
var ErrNoBucket = errors.New("object store bucket not configured")

// objectAPI is the subset of *minio.Client the store uses.
type objectAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// Store puts import source files into one bucket.
type Store struct {
	client objectAPI
	bucket string
	region string
}

// NewClient creates a MinIO client with static credentials.
func NewClient(endpoint, key, secret string, useSSL bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(key, secret, ""),
		Secure: useSSL,
	})
}

// New connects a store from storage configuration.
func New(cfg config.StorageConfig) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	client, err := NewClient(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		// Another instance may have created it in the meantime.
		if ok, _ := s.client.BucketExists(ctx, s.bucket); ok {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	slog.Info("created object store bucket", "bucket", s.bucket)
	return nil
}

// Put uploads r under key and returns the stored key. It implements
// core.FileStore.
func (s *Store) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put %s/%s: %w", s.bucket, key, err)
	}
	slog.Debug("archived import source", "bucket", s.bucket, "key", info.Key, "bytes", info.Size)
	return info.Key, nil
}
