// Package objectstore copies rendered report artifacts to an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/couchcryptid/dst-crime-rdd/internal/config"
	"github.com/couchcryptid/dst-crime-rdd/internal/report"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store uploads artifacts under <prefix>/<run id>/<name>.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewStore creates a Store from the S3 settings in cfg. No request is made
// until the first upload.
func NewStore(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Store{
		client: client,
		bucket: cfg.S3Bucket,
		prefix: cfg.S3Prefix,
		logger: logger,
	}, nil
}

// Upload writes every artifact of a run, creating the bucket if needed.
func (s *Store) Upload(ctx context.Context, runID string, artifacts []report.Artifact) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
		s.logger.Info("created bucket", "bucket", s.bucket)
	}

	for _, a := range artifacts {
		key := objectKey(s.prefix, runID, a.Name)
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(a.Data), int64(len(a.Data)), minio.PutObjectOptions{
			ContentType: a.ContentType,
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		s.logger.Debug("uploaded artifact", "bucket", s.bucket, "key", key, "bytes", len(a.Data))
	}

	s.logger.Info("artifacts uploaded", "bucket", s.bucket, "run_id", runID, "count", len(artifacts))
	return nil
}

func objectKey(prefix, runID, name string) string {
	return path.Join(prefix, runID, name)
}
