package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Strategy stores files in Google Cloud Storage
type Strategy struct {
	client *storage.Client
}

// NewStrategy creates a Strategy using the application default credentials
func NewStrategy(ctx context.Context) (*Strategy, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs.NewStrategy: %w", err)
	}
	return &Strategy{client: client}, nil
}

// Parse splits a gs://bucket/object uri
func Parse(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("gcs.Parse: invalid uri %s", uri)
	}
	bucket, object, _ = strings.Cut(strings.TrimPrefix(uri, "gs://"), "/")
	if bucket == "" {
		return "", "", fmt.Errorf("gcs.Parse: missing bucket in %s", uri)
	}
	return bucket, object, nil
}

// UploadFile copies the content of r into the object at uri
func (s *Strategy) UploadFile(ctx context.Context, uri string, r io.Reader) error {
	bucket, object, err := Parse(uri)
	if err != nil {
		return err
	}
	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("UploadFile.Copy: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("UploadFile.Close: %w", err)
	}
	return nil
}
