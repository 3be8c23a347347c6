package catalog

import (
	"context"
	"fmt"
	"runtime"

	"github.com/airbusgeo/cdse-downloader/catalog/entities"
	"github.com/airbusgeo/cdse-downloader/common"
	"github.com/airbusgeo/cdse-downloader/interface/catalog"
	"github.com/airbusgeo/cdse-downloader/service"
	"github.com/airbusgeo/cdse-downloader/service/log"
	"github.com/paulsmith/gogeos/geos"
)

// Catalog is the main class of this package
type Catalog struct {
	Provider catalog.ProductsProvider
	// StrictAOI removes the products whose footprint does not intersect the AOI
	StrictAOI bool
}

// ValidateArea checks the area and its AOI
func (c *Catalog) ValidateArea(area *entities.AreaToIngest) error {
	if err := area.Validate(); err != nil {
		return err
	}
	aoi, err := geos.FromWKT(area.AOI)
	if err != nil {
		return fmt.Errorf("validateArea.FromWKT: %w", err)
	}
	empty, err := aoi.IsEmpty()
	if err != nil {
		return fmt.Errorf("validateArea.IsEmpty: %w", err)
	}
	if empty {
		return fmt.Errorf("validateArea: empty AOI")
	}
	return nil
}

// ProductsInventory lists the Level-2A products covering the area between StartTime and EndTime
func (c *Catalog) ProductsInventory(ctx context.Context, area *entities.AreaToIngest) (entities.Products, error) {
	if c.Provider == nil {
		return entities.Products{}, fmt.Errorf("ProductsInventory: no catalog is configured")
	}

	log.Logger(ctx).Sugar().Debugf("Search %s products from %v to %v", area.Collection, area.StartTime, area.EndTime)
	products, err := c.Provider.SearchProducts(ctx, area)
	if err != nil {
		return entities.Products{}, fmt.Errorf("ProductsInventory.%w", err)
	}
	found := len(products)

	// Refine inventory
	if products, err = c.refineInventory(ctx, area, products); err != nil {
		return entities.Products{}, fmt.Errorf("ProductsInventory.%w", err)
	}

	log.Logger(ctx).Sugar().Infof("%d products found (%d discarded)", len(products), found-len(products))

	return entities.Products{
		Products: products,
		Properties: map[string]string{
			"collection": area.Collection,
			"start_time": area.StartTime.Format("2006-01-02T15:04:05Z07:00"),
			"end_time":   area.EndTime.Format("2006-01-02T15:04:05Z07:00"),
			"aoi":        area.AOI,
		},
	}, nil
}

// WriteManifest writes the inventory as a GeoJSON FeatureCollection in dir/filename
func (c *Catalog) WriteManifest(products entities.Products, dir, filename string) error {
	if err := service.ToJSON(products, dir, filename); err != nil {
		return fmt.Errorf("WriteManifest.%w", err)
	}
	return nil
}

func (c *Catalog) refineInventory(ctx context.Context, area *entities.AreaToIngest, products []common.Product) ([]common.Product, error) {
	products = removeLevel1C(products)
	products = removeDoubleEntries(products)
	if c.StrictAOI {
		aoi, err := geos.FromWKT(area.AOI)
		if err != nil {
			return nil, fmt.Errorf("refineInventory.FromWKT: %w", err)
		}
		if products, err = removeOutsideAOI(ctx, products, aoi); err != nil {
			return nil, fmt.Errorf("refineInventory.%w", err)
		}
		runtime.KeepAlive(aoi)
	}
	return products, nil
}
