package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/airbusgeo/cdse-downloader/common"
	"github.com/airbusgeo/cdse-downloader/interface/messaging"
	"github.com/airbusgeo/cdse-downloader/interface/provider"
	"github.com/airbusgeo/cdse-downloader/service"
	"github.com/airbusgeo/cdse-downloader/service/log"
	"go.uber.org/zap"
)

// Options of ProcessProducts
type Options struct {
	// OutDir is the directory where the archives are downloaded
	OutDir string
	// Storage (optional) where the archives are exported
	Storage service.ArchiveStorage
	// Unzip extracts the archives in OutDir
	Unzip bool
	// KeepLocal keeps the archive in OutDir after the export or the extraction
	KeepLocal bool
	// Publisher (optional) of a common.Result for each product
	Publisher messaging.Publisher
}

// Report summarizes a batch
type Report struct {
	Results     []common.Result
	Succeeded   int
	Failed      int
	Interrupted bool // the batch has been cancelled before the end
}

// Err returns an error if the batch is not complete
func (r Report) Err() error {
	switch {
	case r.Interrupted:
		return fmt.Errorf("interrupted: %d/%d products downloaded", r.Succeeded, len(r.Results))
	case r.Failed > 0:
		return fmt.Errorf("%d/%d products failed", r.Failed, len(r.Results))
	}
	return nil
}

// ProcessProducts downloads the products one after the other.
// A failure is logged and recorded in the report, then the next product is processed.
// If ctx is cancelled, the remaining products are left PENDING.
func ProcessProducts(ctx context.Context, imageProviders []provider.ImageProvider, products []common.Product, opts Options) Report {
	report := Report{Results: make([]common.Result, 0, len(products))}
	for i, product := range products {
		if ctx.Err() != nil {
			report.Interrupted = true
			for _, p := range products[i:] {
				report.Results = append(report.Results, newResult(p, common.StatusPENDING))
			}
			log.Logger(ctx).Sugar().Warnf("interrupted: %d products not downloaded", len(products)-i)
			break
		}
		pctx := log.With(log.With(ctx, "id", product.ID), "name", product.Name)
		log.Logger(pctx).Sugar().Infof("[%d/%d] processing %s", i+1, len(products), product.Name)

		result := ProcessProduct(pctx, imageProviders, product, opts)
		if result.Status == common.StatusDONE {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, result)
		publishResult(pctx, opts.Publisher, result)
	}
	return report
}

// ProcessProduct downloads the product with the first successful imageProvider, then exports and/or extracts it.
func ProcessProduct(ctx context.Context, imageProviders []provider.ImageProvider, product common.Product, opts Options) common.Result {
	result := newResult(product, common.StatusFAILED)
	path, err := processProduct(ctx, imageProviders, product, opts, &result)
	if err != nil {
		result.Message = err.Error()
		log.Logger(ctx).Error("product failed", zap.Bool("temporary", service.Temporary(err)), zap.Error(err))
		return result
	}
	result.Status = common.StatusDONE
	result.Path = path
	log.Logger(ctx).Sugar().Infof("%s done", product.Name)
	return result
}

func processProduct(ctx context.Context, imageProviders []provider.ImageProvider, product common.Product, opts Options, result *common.Result) (string, error) {
	if len(imageProviders) == 0 {
		return "", fmt.Errorf("ProcessProduct: no image provider is configured")
	}

	// Download with the first successful imageProvider
	var err error
	var path string
	for _, imageProvider := range imageProviders {
		p, e := imageProvider.Download(ctx, product, opts.OutDir)
		if err = service.MergeErrors(false, err, e); err == nil {
			path = p
			break
		}
		log.Logger(ctx).Sugar().Warnf("%s: %v", imageProvider.Name(), e)
	}
	if err != nil {
		return "", fmt.Errorf("ProcessProduct.ImageProviders.%w", err)
	}

	if opts.Storage != nil {
		uri, err := opts.Storage.SaveArchive(ctx, path)
		if err != nil {
			return "", fmt.Errorf("ProcessProduct.%w", err)
		}
		log.Logger(ctx).Sugar().Infof("exported to %s", uri)
		result.URI = uri
	}

	if opts.Unzip {
		files, err := provider.Unarchive(path, opts.OutDir)
		if err != nil {
			return "", fmt.Errorf("ProcessProduct.Unarchive: %w", err)
		}
		log.Logger(ctx).Sugar().Debugf("extracted %v", files)
	}

	if !opts.KeepLocal && (opts.Storage != nil || opts.Unzip) {
		if err := os.Remove(path); err != nil {
			log.Logger(ctx).Sugar().Warnf("unable to remove %s: %v", path, err)
			return path, nil
		}
		return "", nil
	}
	return path, nil
}

func newResult(product common.Product, status common.Status) common.Result {
	return common.Result{
		Type:      common.ResultTypeProduct,
		ProductID: product.ID,
		Name:      product.Name,
		Status:    status,
	}
}

func publishResult(ctx context.Context, publisher messaging.Publisher, result common.Result) {
	if publisher == nil {
		return
	}
	data, err := json.Marshal(result)
	if err == nil {
		err = publisher.Publish(ctx, data)
	}
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("unable to publish result: %v", err)
	}
}
