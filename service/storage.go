package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/cdse-downloader/interface/storage/gcs"
	"github.com/airbusgeo/cdse-downloader/interface/storage/s3"
)

// Strategy is implemented by the storage backends
type Strategy interface {
	UploadFile(ctx context.Context, uri string, r io.Reader) error
}

// ArchiveStorage persists downloaded archives
type ArchiveStorage interface {
	// SaveArchive persists the archive and returns its uri
	SaveArchive(ctx context.Context, localPath string) (string, error)
}

// StorageOptions configures the backends
type StorageOptions struct {
	S3 s3.Options
}

// StorageStrategy implements ArchiveStorage on top of a Strategy
type StorageStrategy struct {
	storage Strategy
	uri     string
}

// NewStorageStrategy creates a new StorageStrategy given the scheme of the uri:
// gs://bucket/prefix, s3://bucket/prefix, file:///path or /path
func NewStorageStrategy(ctx context.Context, storageURI string, opts StorageOptions) (*StorageStrategy, error) {
	var strategy Strategy
	var err error
	switch {
	case strings.HasPrefix(storageURI, "gs://"):
		strategy, err = gcs.NewStrategy(ctx)
	case strings.HasPrefix(storageURI, "s3://"):
		strategy, err = s3.NewStrategy(ctx, opts.S3)
	case strings.Contains(storageURI, "://") && !strings.HasPrefix(storageURI, "file://"):
		return nil, fmt.Errorf("NewStorageStrategy: unsupported scheme: %s", storageURI)
	default:
		storageURI = strings.TrimPrefix(storageURI, "file://")
		if storageURI == "" {
			return nil, fmt.Errorf("NewStorageStrategy: empty uri")
		}
		strategy = localStrategy{}
	}
	if err != nil {
		return nil, fmt.Errorf("NewStorageStrategy: %w", err)
	}
	return &StorageStrategy{storage: strategy, uri: storageURI}, nil
}

// SaveArchive implements ArchiveStorage
func (ss *StorageStrategy) SaveArchive(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("SaveArchive.Open: %w", err)
	}
	defer f.Close()
	if fi, err := f.Stat(); err != nil {
		return "", fmt.Errorf("SaveArchive.Stat: %w", err)
	} else if fi.IsDir() {
		return "", fmt.Errorf("SaveArchive: %s is a directory", localPath)
	}

	dst := ss.getPath(filepath.Base(localPath))
	if err := ss.storage.UploadFile(ctx, dst, f); err != nil {
		return "", fmt.Errorf("SaveArchive.UploadFile to %s: %w", dst, err)
	}
	return dst, nil
}

func (ss *StorageStrategy) getPath(filename string) string {
	uri := ss.uri
	if !strings.HasSuffix(uri, "/") {
		uri += "/"
	}
	return uri + filename
}

// localStrategy stores files in a local directory
type localStrategy struct{}

func (localStrategy) UploadFile(ctx context.Context, uri string, r io.Reader) error {
	if err := os.MkdirAll(path.Dir(uri), 0755); err != nil {
		return err
	}
	f, err := os.Create(uri)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
