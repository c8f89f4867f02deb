// Package storage provides the MinIO-backed archive for activation run snapshots.
// This is part of the platform layer and contains no business logic.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"activation_backend/platform/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const snapshotPrefix = "runs/"

// MinIOArchive stores JSON documents in a single bucket.
type MinIOArchive struct {
	client *minio.Client
	bucket string
}

// NewMinIOArchive creates a new MinIO archive for the run snapshot bucket.
func NewMinIOArchive(cfg config.StorageConfig) (*MinIOArchive, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOArchive{client: client, bucket: cfg.GetMinioBucketRunSnapshots()}, nil
}

// EnsureBucketExists creates the bucket if it doesn't exist.
func (a *MinIOArchive) EnsureBucketExists(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

// PutJSON uploads body under key.
func (a *MinIOArchive) PutJSON(ctx context.Context, key string, body []byte) error {
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// PruneBefore removes snapshots whose date segment is before cutoff's date.
func (a *MinIOArchive) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	limit := PruneLimitKey(cutoff)
	removed := 0
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: snapshotPrefix, Recursive: true}) {
		if obj.Err != nil {
			return removed, fmt.Errorf("failed to list snapshots: %w", obj.Err)
		}
		if obj.Key >= limit {
			continue
		}
		if err := a.client.RemoveObject(ctx, a.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", obj.Key, err)
		}
		removed++
	}
	return removed, nil
}

// PruneLimitKey is the smallest key kept when pruning at cutoff.
func PruneLimitKey(cutoff time.Time) string {
	return snapshotPrefix + cutoff.UTC().Format(time.DateOnly)
}

// Ping checks that the bucket is reachable.
func (a *MinIOArchive) Ping(ctx context.Context) error {
	if _, err := a.client.BucketExists(ctx, a.bucket); err != nil {
		return fmt.Errorf("minio unreachable: %w", err)
	}
	return nil
}
