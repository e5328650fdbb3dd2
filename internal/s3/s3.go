// Package s3 serves stored report snapshots from a MinIO/S3 bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

var (
	ErrInvalidTTL = errors.New("s3: invalid ttl")
	ErrInvalidKey = errors.New("s3: invalid object key")
)

// Service hands out download links for objects in Bucket.
type Service struct {
	Client *minio.Client
	Bucket string
	// MaxTTL caps the lifetime of generated URLs.
	MaxTTL time.Duration
}

// EnsureBucket creates Bucket when it does not exist yet.
func (s Service) EnsureBucket(ctx context.Context) error {
	ok, err := s.Client.BucketExists(ctx, s.Bucket)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", s.Bucket, err)
	}
	if ok {
		return nil
	}
	return s.Client.MakeBucket(ctx, s.Bucket, minio.MakeBucketOptions{})
}

// PresignGet returns a short-lived URL that downloads objectKey as filename.
func (s Service) PresignGet(ctx context.Context, objectKey, filename string, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > s.MaxTTL {
		return "", ErrInvalidTTL
	}
	if err := ValidKey(objectKey); err != nil {
		return "", err
	}
	vals := url.Values{}
	if filename != "" {
		vals.Set("response-content-disposition", `attachment; filename="`+filename+`"`)
	}
	u, err := s.Client.PresignedGetObject(ctx, s.Bucket, objectKey, ttl, vals)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ValidKey rejects keys that are empty, absolute or leave their prefix.
func ValidKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return ErrInvalidKey
	}
	if clean := path.Clean(key); clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return ErrInvalidKey
	}
	return nil
}
