// Package gcs archives raw upstream pages in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("archive.gcs_bucket is required")
	}
	return &BlobStore{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	object := path.Join(s.prefix, name)
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}
