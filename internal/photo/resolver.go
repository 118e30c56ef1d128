// Package photo resolves stored photo keys into time-limited download URLs.
//
// Entries and drafts persist opaque object keys only. Browsers never talk to
// the object store directly with credentials: the API hands out presigned
// URLs that expire after a configured TTL.
package photo

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Resolver turns photo keys into fetchable URLs.
type Resolver interface {
	ResolveURL(ctx context.Context, key string) (string, error)
	ResolveURLs(ctx context.Context, keys []string) ([]string, error)
	UploadURL(ctx context.Context, key string) (string, error)
}

// MinioResolver resolves photo keys against an S3-compatible object store.
type MinioResolver struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

// Config holds object store connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLTTL    time.Duration
}

// NewMinioResolver connects to the object store
func NewMinioResolver(cfg Config) (*MinioResolver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &MinioResolver{
		client: client,
		bucket: cfg.Bucket,
		ttl:    ttl,
	}, nil
}

// EnsureBucket creates the photo bucket if it does not exist yet
func (r *MinioResolver) EnsureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// ResolveURL returns a presigned GET URL for one photo key
func (r *MinioResolver) ResolveURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty photo key")
	}
	u, err := r.client.PresignedGetObject(ctx, r.bucket, key, r.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign photo %s: %w", key, err)
	}
	return u.String(), nil
}

// ResolveURLs resolves a batch of keys, preserving order. A key that fails to
// presign yields an empty string at its position rather than failing the
// whole batch.
func (r *MinioResolver) ResolveURLs(ctx context.Context, keys []string) ([]string, error) {
	urls := make([]string, len(keys))
	for i, key := range keys {
		u, err := r.ResolveURL(ctx, key)
		if err != nil {
			urls[i] = ""
			continue
		}
		urls[i] = u
	}
	return urls, nil
}

// UploadURL returns a presigned PUT URL the client can upload a photo to
func (r *MinioResolver) UploadURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty photo key")
	}
	u, err := r.client.PresignedPutObject(ctx, r.bucket, key, r.ttl)
	if err != nil {
		return "", fmt.Errorf("presign upload %s: %w", key, err)
	}
	return u.String(), nil
}
