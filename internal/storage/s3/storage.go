// Package s3 stores processed outputs in an S3-compatible bucket (MinIO).
package s3

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/imager/internal/config"
	"github.com/aliskhannn/imager/internal/storage"
)

// Storage provides an S3-compatible storage backend using MinIO.
// Objects are stored flat, keyed by file name.
type Storage struct {
	client     *minio.Client
	bucketName string
	strategy   retry.Strategy
}

// NewStorage creates a new Storage connected to the configured MinIO server.
// If the bucket does not exist, it will be created.
func NewStorage(ctx context.Context, cfg config.MinIO, strategy retry.Strategy) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
		strategy:   strategy,
	}, nil
}

// Save uploads src as the object name. PutObject is atomic, so a failed
// upload leaves no object behind.
// Returns the object path including the bucket.
func (s *Storage) Save(ctx context.Context, name string, src io.Reader) (string, error) {
	if err := storage.ValidateName(name); err != nil {
		return "", err
	}

	_, err := s.client.PutObject(ctx, s.bucketName, name, src, -1, minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	return path.Join(s.bucketName, name), nil
}

// Open returns a reader for the named object.
func (s *Storage) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}

	// GetObject is lazy; Stat surfaces a missing key before the response is committed.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return obj, nil
}

// Delete removes the named object, retrying transient failures.
func (s *Storage) Delete(ctx context.Context, name string) error {
	if err := storage.ValidateName(name); err != nil {
		return err
	}

	err := retry.Do(func() error {
		return s.client.RemoveObject(ctx, s.bucketName, name, minio.RemoveObjectOptions{})
	}, s.strategy)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// List returns the names of all objects in the bucket.
func (s *Storage) List(ctx context.Context) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list files: %w", obj.Err)
		}
		names = append(names, obj.Key)
	}

	return names, nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return true
	}

	return false
}
