package provider

import (
	"context"
	"fmt"

	"github.com/airbusgeo/cdse-downloader/common"
)

// ImageProvider is the interface of an image download service
type ImageProvider interface {
	// Download the archive of the product to the given localDir and returns its path
	// localDir is created if it does not exist
	// Raise DownloadError
	Download(ctx context.Context, product common.Product, localDir string) (string, error)

	// Name of the provider
	Name() string
}

// DownloadError is returned when the archive of a product cannot be retrieved
type DownloadError struct {
	ProductID string
	Name      string
	Err       error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download of %s (%s) failed: %v", e.Name, e.ProductID, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// TooManyRedirectsError is returned when the redirect chain is longer than the limit
type TooManyRedirectsError struct {
	URL  string // last url of the chain
	Hops int
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("stopped after %d redirects (last url: %s)", e.Hops, e.URL)
}

// ErrProductNotFound is an error returned when a product is not found or available
type ErrProductNotFound struct {
	Product string
}

func (e ErrProductNotFound) Error() string {
	return fmt.Sprintf("Product not found or unavailable: %s", e.Product)
}

func newDownloadError(product common.Product, err error) error {
	return &DownloadError{ProductID: product.ID, Name: product.Name, Err: err}
}
