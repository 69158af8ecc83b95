// Package upload stores note images in S3-compatible object storage.
package upload

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxImageSize caps uploads at 5 MB.
const MaxImageSize = 5 << 20

var allowedImageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// AllowedImageType reports whether contentType is an accepted image type and
// returns the canonical file extension for it.
func AllowedImageType(contentType string) (string, bool) {
	ext, ok := allowedImageTypes[strings.ToLower(strings.TrimSpace(contentType))]
	return ext, ok
}

// ObjectKey builds the storage key for an upload: one prefix per user so
// keys never collide across accounts.
func ObjectKey(userID int64, ext string) string {
	return fmt.Sprintf("%d/%s.%s", userID, uuid.NewString(), ext)
}

// Config holds object storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

// Service uploads images to a MinIO/S3 bucket.
type Service struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// New connects to object storage and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Service{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// PutImage streams one image into the bucket and returns its key and public
// URL.
func (s *Service) PutImage(ctx context.Context, userID int64, contentType string, size int64, body io.Reader) (key, url string, err error) {
	ext, ok := AllowedImageType(contentType)
	if !ok {
		return "", "", fmt.Errorf("unsupported content type %q", contentType)
	}
	if size > MaxImageSize {
		return "", "", fmt.Errorf("image exceeds %d byte limit", MaxImageSize)
	}

	key = ObjectKey(userID, ext)
	_, err = s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", "", fmt.Errorf("put object %s: %w", key, err)
	}

	return key, s.URLFor(key), nil
}

// URLFor returns the public URL for a stored object.
func (s *Service) URLFor(key string) string {
	if s.publicURL == "" {
		return path.Join(s.bucket, key)
	}
	return s.publicURL + "/" + key
}
