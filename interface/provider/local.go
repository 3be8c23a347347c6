package provider

import (
	"compress/flate"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/cdse-downloader/common"
	"github.com/airbusgeo/cdse-downloader/service/log"
	"github.com/mholt/archiver"
)

// EodataPrefix is the prefix of the S3Path of the products
const EodataPrefix = "/eodata"

// LocalImageProvider implements ImageProvider for a local copy of the EODATA repository
// (e.g. the /eodata mount point of a virtual machine of the Copernicus Data Space).
// The product is located using its S3Path and archived as a zip file.
type LocalImageProvider struct {
	// FilenameLength is the maximum length of the name of the archive (default: DefaultFilenameLength)
	FilenameLength int

	path string
}

// NewLocalImageProvider creates a new ImageProvider from local storage
// path replaces the /eodata prefix of the S3Path of the products
func NewLocalImageProvider(path string) *LocalImageProvider {
	return &LocalImageProvider{path: path, FilenameLength: DefaultFilenameLength}
}

// Name implements ImageProvider
func (ip *LocalImageProvider) Name() string {
	return "FileSystem (" + ip.path + ")"
}

// Download implements ImageProvider
func (ip *LocalImageProvider) Download(ctx context.Context, product common.Product, localDir string) (string, error) {
	if product.S3Path == "" {
		return "", newDownloadError(product, fmt.Errorf("LocalImageProvider: %w", ErrProductNotFound{product.Name}))
	}
	src := filepath.Join(ip.path, strings.TrimPrefix(product.S3Path, EodataPrefix))
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return "", newDownloadError(product, fmt.Errorf("LocalImageProvider: %w", ErrProductNotFound{src}))
		}
		return "", newDownloadError(product, fmt.Errorf("LocalImageProvider: %w", err))
	}
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return "", newDownloadError(product, fmt.Errorf("LocalImageProvider.MkdirAll: %w", err))
	}

	localZip := productFilePath(localDir, product, ip.FilenameLength)
	log.Logger(ctx).Sugar().Infof("Archiving %s to %s", src, localZip)
	zipper := archiver.NewZip()
	zipper.CompressionLevel = flate.BestSpeed
	zipper.OverwriteExisting = true
	if err := zipper.Archive([]string{src}, localZip); err != nil {
		os.Remove(localZip)
		return "", newDownloadError(product, fmt.Errorf("LocalImageProvider.Archive: %w", err))
	}
	return localZip, nil
}
