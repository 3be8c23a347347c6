package catalog

import (
	"context"
	"fmt"

	"github.com/airbusgeo/cdse-downloader/catalog/entities"
	"github.com/airbusgeo/cdse-downloader/common"
)

type ProductsProvider interface {
	// SearchProducts returns the products of the catalogue matching the area
	// Raise QueryError
	SearchProducts(ctx context.Context, area *entities.AreaToIngest) ([]common.Product, error)
}

// QueryError is returned when the catalogue cannot be queried or returns an unexpected response
type QueryError struct {
	URL        string
	StatusCode int // 0 if no response was received
	Err        error
}

func (e *QueryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("query %s failed with status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("query %s failed: %v", e.URL, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
