package catalog

import (
	"context"
	"fmt"

	"github.com/airbusgeo/cdse-downloader/common"
	"github.com/airbusgeo/cdse-downloader/service"
	"github.com/airbusgeo/cdse-downloader/service/log"
	"github.com/paulsmith/gogeos/geos"
)

// removeLevel1C removes the products whose name designates a Level-1C product
// The catalogue query does not filter the processing level: both levels are returned for the same acquisition.
func removeLevel1C(products []common.Product) []common.Product {
	j := 0
	for _, product := range products {
		if !product.IsLevel1C() {
			products[j] = product
			j++
		}
	}
	return products[0:j]
}

// removeDoubleEntries removes products that appear twice in the inventory (same Id)
// The first occurrence is kept.
func removeDoubleEntries(products []common.Product) []common.Product {
	identifiers := service.StringSet{}

	j := 0
	for _, product := range products {
		if !identifiers.Exists(product.ID) {
			products[j] = product
			identifiers.Push(product.ID)
			j++
		}
	}
	return products[0:j]
}

// removeOutsideAOI removes products that are located outside the AOI
// The catalogue may return products whose footprint only intersects the bounding box of the AOI.
// Products without footprint are kept.
func removeOutsideAOI(ctx context.Context, products []common.Product, aoi *geos.Geometry) ([]common.Product, error) {
	// Prepare geometry for intersection
	paoi := aoi.Prepare()

	j := 0
	for _, product := range products {
		footprint, err := product.FootprintWKT()
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("removeOutsideAOI: %v: product is kept", err)
			products[j] = product
			j++
			continue
		}
		gfootprint, err := geos.FromWKT(footprint)
		if err != nil {
			return nil, fmt.Errorf("removeOutsideAOI.FromWKT: %w", err)
		}
		intersect, err := paoi.Intersects(gfootprint)
		if err != nil {
			return nil, fmt.Errorf("removeOutsideAOI.Intersects: %w", err)
		}
		if intersect {
			products[j] = product
			j++
		}
	}

	return products[0:j], nil
}
