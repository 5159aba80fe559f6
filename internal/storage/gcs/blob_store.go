// Package gcs archives results in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

type writerFunc func(ctx context.Context, bucket, object, contentType string) io.WriteCloser

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	bucket    string
	prefix    string
	newWriter writerFunc
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	return newStore(cfg, func(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		return w
	})
}

func newStore(cfg Config, fn writerFunc) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		newWriter: fn,
	}, nil
}

// PutObject uploads data and returns a gs:// URI. The write is only
// committed when the writer closes cleanly.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(path, "/")
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	object := path
	if s.prefix != "" {
		object = s.prefix + "/" + path
	}
	w := s.newWriter(ctx, s.bucket, object, contentType)
	if _, err := io.Copy(w, r); err != nil {
		return "", errors.Join(fmt.Errorf("copy object %s: %w", object, err), w.Close())
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}
