package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/airbusgeo/cdse-downloader/common"
	"github.com/airbusgeo/cdse-downloader/interface/shared"
	"github.com/airbusgeo/cdse-downloader/service"
	"github.com/airbusgeo/cdse-downloader/service/log"
	"github.com/google/uuid"
)

const CopernicusDownloadURL = "https://download.dataspace.copernicus.eu/odata/v1/Products"

// CopernicusImageProvider implements ImageProvider for the Copernicus Data Space
type CopernicusImageProvider struct {
	// MaxRedirects is the maximum number of redirects followed to find the archive (default: DefaultMaxRedirects)
	MaxRedirects int
	// FilenameLength is the maximum length of the name of the archive (default: DefaultFilenameLength)
	FilenameLength int
	// StallTimeout aborts a download that does not receive any byte during this time (0: no limit)
	StallTimeout time.Duration

	tokens      shared.TokenProvider
	client      *http.Client
	downloadURL string
}

// NewCopernicusImageProvider creates a new ImageProvider from Copernicus
// downloadURL is the OData products endpoint (default: CopernicusDownloadURL)
// client should not have a global timeout, as archives are large.
func NewCopernicusImageProvider(tokens shared.TokenProvider, client *http.Client, downloadURL string) *CopernicusImageProvider {
	if downloadURL == "" {
		downloadURL = CopernicusDownloadURL
	}
	return &CopernicusImageProvider{
		MaxRedirects:   DefaultMaxRedirects,
		FilenameLength: DefaultFilenameLength,
		StallTimeout:   DefaultStallTimeout,
		tokens:         tokens,
		client:         client,
		downloadURL:    strings.TrimSuffix(downloadURL, "/"),
	}
}

// Name implements ImageProvider
func (ip *CopernicusImageProvider) Name() string {
	return "Copernicus"
}

// ProductURL returns the url of the archive of the product
func (ip *CopernicusImageProvider) ProductURL(productID string) string {
	return fmt.Sprintf("%s(%s)/$value", ip.downloadURL, productID)
}

// Download implements ImageProvider
func (ip *CopernicusImageProvider) Download(ctx context.Context, product common.Product, localDir string) (string, error) {
	if _, err := uuid.Parse(product.ID); err != nil {
		return "", newDownloadError(product, fmt.Errorf("CopernicusImageProvider: invalid product id: %w", err))
	}
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return "", newDownloadError(product, fmt.Errorf("CopernicusImageProvider.MkdirAll: %w", err))
	}

	url := ip.ProductURL(product.ID)
	token, url, err := ip.resolve(ctx, url)
	if err != nil {
		return "", newDownloadError(product, fmt.Errorf("CopernicusImageProvider.%w", err))
	}

	localFile := productFilePath(localDir, product, ip.FilenameLength)
	log.Logger(ctx).Sugar().Infof("Downloading %s to %s", product.Name, localFile)
	if err := downloadWithAuth(ctx, ip.client, url, localFile, ip.Name()+":"+product.Identifier(), token,
		transferOptions{maxRedirects: ip.MaxRedirects, stallTimeout: ip.StallTimeout}); err != nil {
		return "", newDownloadError(product, fmt.Errorf("CopernicusImageProvider.%w", err))
	}
	return localFile, nil
}

// resolve gets a token and resolves the redirections of url.
// If the token is rejected, a new token is requested and the resolution is retried once.
func (ip *CopernicusImageProvider) resolve(ctx context.Context, url string) (string, string, error) {
	for retry := 0; ; retry++ {
		token, err := ip.tokens.Token(ctx)
		if err != nil {
			return "", "", fmt.Errorf("resolve.Token: %w", err)
		}
		finalURL, err := resolveRedirects(ctx, ip.client, url, token, ip.MaxRedirects)
		if err == nil {
			return token, finalURL, nil
		}

		var serr *service.HTTPStatusError
		if !errors.As(err, &serr) {
			return "", "", fmt.Errorf("resolve.%w", err)
		}
		switch {
		case serr.StatusCode == http.StatusUnauthorized && retry == 0:
			log.Logger(ctx).Warn("access token rejected: renew token")
			ip.tokens.Invalidate()
			continue
		case serr.StatusCode == http.StatusNotFound:
			err = fmt.Errorf("%w: %w", ErrProductNotFound{url}, err)
		}
		return "", "", fmt.Errorf("resolve.%w", err)
	}
}
