package downloader_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/airbusgeo/cdse-downloader/common"
	"github.com/airbusgeo/cdse-downloader/downloader"
	"github.com/airbusgeo/cdse-downloader/interface/provider"
	"github.com/airbusgeo/cdse-downloader/service"
	"github.com/mholt/archiver"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Downloader", func() {
	var (
		ctx       context.Context
		outDir    string
		publisher *MokePublisher
		ip        *MokeImageProvider
		opts      downloader.Options
		report    downloader.Report
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		outDir, err = os.MkdirTemp("", "downloads")
		Expect(err).NotTo(HaveOccurred())
		publisher = &MokePublisher{}
		ip = &MokeImageProvider{name: "Moke", failures: map[string]error{}}
		opts = downloader.Options{OutDir: outDir, Publisher: publisher, KeepLocal: true}
	})

	AfterEach(func() {
		os.RemoveAll(outDir)
	})

	Context("without products", func() {
		JustBeforeEach(func() {
			report = downloader.ProcessProducts(ctx, []provider.ImageProvider{ip}, nil, opts)
		})

		It("should not download anything", func() {
			Expect(ip.downloaded).To(BeEmpty())
			Expect(report.Results).To(BeEmpty())
			Expect(report.Err()).NotTo(HaveOccurred())
			Expect(publisher.Results()).To(BeEmpty())
			files, err := os.ReadDir(outDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(BeEmpty())
		})
	})

	Context("when a product fails", func() {
		products := testProducts(3)

		JustBeforeEach(func() {
			ip.failures[products[0].ID] = errors.New("connection reset")
			report = downloader.ProcessProducts(ctx, []provider.ImageProvider{ip}, products, opts)
		})

		It("should download the other products", func() {
			Expect(ip.downloaded).To(Equal([]string{products[1].ID, products[2].ID}))
			Expect(report.Succeeded).To(Equal(2))
			Expect(report.Failed).To(Equal(1))
			Expect(report.Err()).To(HaveOccurred())
			Expect(report.Results[0].Status).To(Equal(common.StatusFAILED))
			Expect(report.Results[0].Message).To(ContainSubstring("connection reset"))
			Expect(report.Results[1].Status).To(Equal(common.StatusDONE))
			b, err := os.ReadFile(report.Results[1].Path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(b)).To(Equal(products[1].Name))
		})

		It("should publish a result per product", func() {
			results := publisher.Results()
			Expect(results).To(HaveLen(3))
			for i, r := range results {
				Expect(r.Type).To(Equal(common.ResultTypeProduct))
				Expect(r.ProductID).To(Equal(products[i].ID))
			}
			Expect(results[0].Status).To(Equal(common.StatusFAILED))
			Expect(results[2].Status).To(Equal(common.StatusDONE))
		})
	})

	Context("with a fallback provider", func() {
		products := testProducts(2)
		var fallback *MokeImageProvider

		JustBeforeEach(func() {
			ip.failures[products[0].ID] = provider.ErrProductNotFound{Product: products[0].Name}
			fallback = &MokeImageProvider{name: "Fallback"}
			report = downloader.ProcessProducts(ctx, []provider.ImageProvider{ip, fallback}, products, opts)
		})

		It("should use the first successful provider", func() {
			Expect(report.Err()).NotTo(HaveOccurred())
			Expect(ip.downloaded).To(Equal([]string{products[1].ID}))
			Expect(fallback.downloaded).To(Equal([]string{products[0].ID}))
		})
	})

	Context("when the publisher fails", func() {
		JustBeforeEach(func() {
			publisher.err = errors.New("unavailable")
			report = downloader.ProcessProducts(ctx, []provider.ImageProvider{ip}, testProducts(2), opts)
		})

		It("should not fail the products", func() {
			Expect(report.Err()).NotTo(HaveOccurred())
			Expect(report.Succeeded).To(Equal(2))
		})
	})

	Context("when the context is cancelled", func() {
		products := testProducts(3)
		var cancel context.CancelFunc

		JustBeforeEach(func() {
			ctx, cancel = context.WithCancel(ctx)
			ip.onDownload = cancel
			report = downloader.ProcessProducts(ctx, []provider.ImageProvider{ip}, products, opts)
		})

		It("should stop between products", func() {
			Expect(ip.downloaded).To(Equal([]string{products[0].ID}))
			Expect(report.Interrupted).To(BeTrue())
			Expect(report.Err()).To(HaveOccurred())
			Expect(report.Results).To(HaveLen(3))
			Expect(report.Results[1].Status).To(Equal(common.StatusPENDING))
			Expect(publisher.Results()).To(HaveLen(1))
		})
	})

	Context("with an export storage", func() {
		var distDir string
		products := testProducts(1)

		BeforeEach(func() {
			var err error
			distDir, err = os.MkdirTemp("", "dist")
			Expect(err).NotTo(HaveOccurred())
			opts.Storage, err = service.NewStorageStrategy(ctx, distDir, service.StorageOptions{})
			Expect(err).NotTo(HaveOccurred())
			opts.KeepLocal = false
		})

		AfterEach(func() {
			os.RemoveAll(distDir)
		})

		JustBeforeEach(func() {
			report = downloader.ProcessProducts(ctx, []provider.ImageProvider{ip}, products, opts)
		})

		It("should export the archive and remove the local file", func() {
			Expect(report.Err()).NotTo(HaveOccurred())
			filename := provider.ProductFileName(products[0], provider.DefaultFilenameLength)
			Expect(report.Results[0].URI).To(Equal(filepath.Join(distDir, filename)))
			Expect(report.Results[0].Path).To(BeEmpty())
			_, err := os.Stat(filepath.Join(distDir, filename))
			Expect(err).NotTo(HaveOccurred())
			_, err = os.Stat(filepath.Join(outDir, filename))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})

	Context("with unzip", func() {
		products := testProducts(1)
		var zipProvider *zipImageProvider

		BeforeEach(func() {
			opts.Unzip = true
			zipProvider = &zipImageProvider{}
		})

		JustBeforeEach(func() {
			report = downloader.ProcessProducts(ctx, []provider.ImageProvider{zipProvider}, products, opts)
		})

		It("should extract the archive and keep it", func() {
			Expect(report.Err()).NotTo(HaveOccurred())
			Expect(report.Results[0].Path).NotTo(BeEmpty())
			b, err := os.ReadFile(filepath.Join(outDir, "PRODUCT.SAFE", "manifest.safe"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(b)).To(Equal("manifest"))
		})
	})
})

// zipImageProvider creates a real zip archive containing PRODUCT.SAFE/manifest.safe
type zipImageProvider struct{}

func (ip *zipImageProvider) Name() string {
	return "Zip"
}

func (ip *zipImageProvider) Download(ctx context.Context, product common.Product, localDir string) (string, error) {
	srcDir, err := os.MkdirTemp("", "src")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(srcDir)
	safe := filepath.Join(srcDir, "PRODUCT.SAFE")
	if err := os.MkdirAll(safe, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(safe, "manifest.safe"), []byte("manifest"), 0644); err != nil {
		return "", err
	}
	path := filepath.Join(localDir, provider.ProductFileName(product, provider.DefaultFilenameLength))
	if err := archiver.NewZip().Archive([]string{safe}, path); err != nil {
		return "", err
	}
	return path, nil
}
