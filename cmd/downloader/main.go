package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airbusgeo/cdse-downloader/catalog"
	"github.com/airbusgeo/cdse-downloader/catalog/entities"
	"github.com/airbusgeo/cdse-downloader/downloader"
	"github.com/airbusgeo/cdse-downloader/interface/catalog/copernicus"
	"github.com/airbusgeo/cdse-downloader/interface/messaging/pubsub"
	"github.com/airbusgeo/cdse-downloader/interface/provider"
	"github.com/airbusgeo/cdse-downloader/interface/shared"
	"github.com/airbusgeo/cdse-downloader/interface/storage/s3"
	"github.com/airbusgeo/cdse-downloader/service"
	"github.com/airbusgeo/cdse-downloader/service/geometry"
	"github.com/airbusgeo/cdse-downloader/service/log"
	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	envPrefix   = "CDSE_"
	defaultDays = 10
)

const (
	exitOK = iota
	exitError
	exitProductsFailed
)

var now = time.Now

type config struct {
	Username string
	Password string

	Area        entities.AreaToIngest
	OutDir      string
	Limit       int
	StrictAOI   bool
	DryRun      bool
	Manifest    string
	QueryRetry  int
	CatalogURL  string
	IdentityURL string

	DownloadURL      string
	MaxRedirects     int
	FilenameLength   int
	TokenPerDownload bool
	EodataDir        string
	Unzip            bool

	Timeout        time.Duration
	ConnectTimeout time.Duration
	RateLimit      float64

	StorageURI string
	KeepLocal  bool
	S3         s3.Options

	PsProject  string
	EventTopic string

	LogLevel string
	LogJSON  bool
}

// envKey returns the environment variable of a flag (e.g. max-redirects => CDSE_MAX_REDIRECTS)
func envKey(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// newAppConfig parses the command line.
// A flag that is not set on the command line is read from the environment, then from the env-file.
func newAppConfig(args []string, getenv func(string) string) (*config, error) {
	config := config{}
	fs := flag.NewFlagSet("cdse-downloader", flag.ContinueOnError)

	// Account
	fs.StringVar(&config.Username, "username", "", "copernicus data space account username")
	fs.StringVar(&config.Password, "password", "", "copernicus data space account password")

	// Area
	aoi := fs.String("aoi", "", "area of interest (WKT or GeoJSON, EPSG:4326)")
	aoiFile := fs.String("aoi-file", "", "file containing the area of interest (WKT or GeoJSON)")
	fs.StringVar(&config.Area.Collection, "collection", entities.DefaultCollection, "collection of the products")
	start := fs.String("start", "", "products sensed after this date (default: end - days)")
	end := fs.String("end", "", "products sensed before this date (default: today at 00:00 UTC)")
	days := fs.Int("days", defaultDays, "number of days before end, if start is not defined")
	fs.StringVar(&config.Area.NameContains, "name-contains", "", "only products whose name contains this string (optional)")
	cloudCover := fs.String("cloud-cover", "", "range of cloud cover: 'Min TO Max' or 'Max' (optional)")

	// Catalog
	fs.StringVar(&config.CatalogURL, "catalogue-url", copernicus.CopernicusODataQueryURL, "odata products endpoint of the catalogue")
	fs.IntVar(&config.Limit, "limit", copernicus.CopernicusPageLimit, "maximum number of products returned by the catalogue")
	fs.IntVar(&config.QueryRetry, "query-retries", 0, "number of retries of the catalogue query in case of temporary failure")
	fs.BoolVar(&config.StrictAOI, "strict-aoi", false, "discard the products whose footprint does not intersect the area of interest")
	fs.BoolVar(&config.DryRun, "dry-run", false, "list the products without downloading them")
	fs.StringVar(&config.Manifest, "manifest", "", "name of the geojson file listing the products, written in outdir (optional)")

	// Download
	fs.StringVar(&config.IdentityURL, "identity-url", shared.CopernicusIdentityURL, "token endpoint of the identity server")
	fs.StringVar(&config.DownloadURL, "download-url", provider.CopernicusDownloadURL, "odata products endpoint of the download service")
	fs.StringVar(&config.OutDir, "outdir", "./downloads", "directory where the archives are downloaded")
	fs.IntVar(&config.MaxRedirects, "max-redirects", provider.DefaultMaxRedirects, "maximum number of redirects to reach an archive")
	fs.IntVar(&config.FilenameLength, "filename-length", provider.DefaultFilenameLength, "maximum length of the name of the archives")
	fs.BoolVar(&config.TokenPerDownload, "token-per-download", false, "request a new access token for each product")
	fs.StringVar(&config.EodataDir, "eodata-dir", "", "local copy of the eodata repository, tried before the download service (optional)")
	fs.BoolVar(&config.Unzip, "unzip", false, "extract the archives in outdir")

	// Network
	fs.DurationVar(&config.Timeout, "timeout", 60*time.Second, "timeout of the catalogue and identity requests, of the response headers of the downloads and of a stalled download")
	fs.DurationVar(&config.ConnectTimeout, "connect-timeout", 30*time.Second, "timeout of the connections")
	fs.Float64Var(&config.RateLimit, "rate-limit", 0, "maximum number of requests per second (0: unlimited)")

	// Export
	fs.StringVar(&config.StorageURI, "storage-uri", "", "storage uri where the archives are exported (currently supported: local, gs, s3) (optional)")
	fs.BoolVar(&config.KeepLocal, "keep-local", true, "keep the archives in outdir after the export or the extraction")
	fs.StringVar(&config.S3.Region, "s3-region", "", "region of the s3 bucket (default: aws configuration)")
	fs.StringVar(&config.S3.Endpoint, "s3-endpoint", "", "endpoint of a s3-compatible storage (optional)")
	fs.StringVar(&config.S3.AccessKeyID, "s3-access-key", "", "s3 access key (default: aws configuration)")
	fs.StringVar(&config.S3.SecretAccessKey, "s3-secret-key", "", "s3 secret key (default: aws configuration)")

	// Messaging
	fs.StringVar(&config.PsProject, "ps-project", "", "pubsub project of the event topic")
	fs.StringVar(&config.EventTopic, "event-topic", "", "pubsub topic where a result is published for each product (optional)")

	// Logging
	fs.StringVar(&config.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.BoolVar(&config.LogJSON, "log-json", false, "json-encoded logs")

	envFile := fs.String("env-file", "", "file defining "+envPrefix+"* variables (optional)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := setFromEnv(fs, getenv, *envFile); err != nil {
		return nil, err
	}

	// Area
	var err error
	switch {
	case *aoi != "" && *aoiFile != "":
		return nil, fmt.Errorf("aoi and aoi-file are mutually exclusive")
	case *aoi != "":
		config.Area.AOI, err = geometry.ParseAOI(*aoi)
	case *aoiFile != "":
		config.Area.AOI, err = geometry.LoadAOI(*aoiFile)
	default:
		return nil, fmt.Errorf("missing aoi or aoi-file config flag")
	}
	if err != nil {
		return nil, fmt.Errorf("aoi: %w", err)
	}

	if config.Area.EndTime, err = parseDate(*end, today()); err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	if *days <= 0 && *start == "" {
		return nil, fmt.Errorf("days must be positive")
	}
	if config.Area.StartTime, err = parseDate(*start, config.Area.EndTime.AddDate(0, 0, -*days)); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if config.Area.CloudCover, err = entities.ParseCloudCover(*cloudCover); err != nil {
		return nil, err
	}
	if err := config.Area.Validate(); err != nil {
		return nil, err
	}

	if !config.DryRun && (config.Username == "" || config.Password == "") {
		return nil, fmt.Errorf("missing username or password config flag")
	}
	if config.OutDir == "" {
		return nil, fmt.Errorf("missing outdir config flag")
	}
	if config.EventTopic != "" && config.PsProject == "" {
		return nil, fmt.Errorf("missing ps-project config flag")
	}
	return &config, nil
}

// setFromEnv sets the flags that are not defined on the command line from getenv, then from envFile
func setFromEnv(fs *flag.FlagSet, getenv func(string) string, envFile string) error {
	if envFile == "" {
		envFile = getenv(envKey("env-file"))
	}
	fileEnv := map[string]string{}
	if envFile != "" {
		var err error
		if fileEnv, err = godotenv.Read(envFile); err != nil {
			return fmt.Errorf("env-file: %w", err)
		}
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] || f.Name == "env-file" {
			return
		}
		key := envKey(f.Name)
		value := getenv(key)
		if value == "" {
			value = fileEnv[key]
		}
		if value == "" {
			return
		}
		if err := fs.Set(f.Name, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	})
	return errors.Join(errs...)
}

// today returns the current date at 00:00 UTC
func today() time.Time {
	y, m, d := now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func parseDate(s string, defaultDate time.Time) (time.Time, error) {
	if s == "" {
		return defaultDate, nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func main() {
	config, err := newAppConfig(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(exitOK)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
	if err := log.Configure(config.LogLevel, config.LogJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	report, err := run(ctx, config)
	stop()
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
	if err := report.Err(); err != nil {
		log.Logger(ctx).Error("downloads incomplete", zap.Error(err))
		log.Sync()
		os.Exit(exitProductsFailed)
	}
}

func run(ctx context.Context, config *config) (downloader.Report, error) {
	ctx = log.With(ctx, "run", uuid.New().String())

	var transport func(http.RoundTripper) http.RoundTripper
	if config.RateLimit > 0 {
		transport = func(t http.RoundTripper) http.RoundTripper {
			return shared.NewRateLimitedTransport(t, config.RateLimit)
		}
	}
	httpClient := service.NewHTTPClient(service.HTTPConfig{
		Timeout:        config.Timeout,
		ConnectTimeout: config.ConnectTimeout,
		Transport:      transport,
	})
	// Archives are large: no global timeout
	downloadClient := service.NewHTTPClient(service.HTTPConfig{
		ConnectTimeout:        config.ConnectTimeout,
		ResponseHeaderTimeout: config.Timeout,
		Transport:             transport,
	})

	// Inventory
	c := catalog.Catalog{
		Provider: &copernicus.Provider{
			URL:     config.CatalogURL,
			Limit:   config.Limit,
			Client:  httpClient,
			Retries: config.QueryRetry,
		},
		StrictAOI: config.StrictAOI,
	}
	if err := c.ValidateArea(&config.Area); err != nil {
		return downloader.Report{}, err
	}
	products, err := c.ProductsInventory(ctx, &config.Area)
	if err != nil {
		return downloader.Report{}, err
	}
	if config.Manifest != "" {
		if err := c.WriteManifest(products, config.OutDir, config.Manifest); err != nil {
			return downloader.Report{}, err
		}
	}
	if len(products.Products) == 0 {
		log.Logger(ctx).Info("no tiles found")
		return downloader.Report{}, nil
	}
	log.Logger(ctx).Sugar().Infof("Total L2A tiles found: %d", len(products.Products))

	if config.DryRun {
		for _, p := range products.Products {
			log.Logger(ctx).Info(p.Name,
				zap.String("id", p.ID),
				zap.Time("date", p.ContentDate.Start),
				zap.String("tile", p.Info()["TILE"]))
		}
		return downloader.Report{}, nil
	}

	// Authentication
	tokens := shared.NewKeycloakTokenManager(httpClient, config.IdentityURL, shared.CopernicusClientID, config.Username, config.Password)
	tokens.RefreshEachTime = config.TokenPerDownload
	if _, err := tokens.Token(ctx); err != nil {
		return downloader.Report{}, fmt.Errorf("authentication: %w", err)
	}

	// Load image providers
	var imageProviders []provider.ImageProvider
	var providerNames []string
	if config.EodataDir != "" {
		local := provider.NewLocalImageProvider(config.EodataDir)
		local.FilenameLength = config.FilenameLength
		providerNames = append(providerNames, local.Name())
		imageProviders = append(imageProviders, local)
	}
	cdse := provider.NewCopernicusImageProvider(tokens, downloadClient, config.DownloadURL)
	cdse.MaxRedirects = config.MaxRedirects
	cdse.FilenameLength = config.FilenameLength
	cdse.StallTimeout = config.Timeout
	providerNames = append(providerNames, cdse.Name())
	imageProviders = append(imageProviders, cdse)

	opts := downloader.Options{
		OutDir:    config.OutDir,
		Unzip:     config.Unzip,
		KeepLocal: config.KeepLocal,
	}
	if config.StorageURI != "" {
		storageService, err := service.NewStorageStrategy(ctx, config.StorageURI, service.StorageOptions{S3: config.S3})
		if err != nil {
			return downloader.Report{}, fmt.Errorf("storage %s: %w", config.StorageURI, err)
		}
		opts.Storage = storageService
	}
	if config.EventTopic != "" {
		publisher, err := pubsub.NewPublisher(ctx, config.PsProject, config.EventTopic)
		if err != nil {
			return downloader.Report{}, fmt.Errorf("pubsub.NewPublisher: %w", err)
		}
		defer publisher.Close()
		opts.Publisher = publisher
	}

	log.Logger(ctx).Debug("downloader starts downloading images from " + strings.Join(providerNames, ", ") + " to " + config.OutDir)
	report := downloader.ProcessProducts(ctx, imageProviders, products.Products, opts)
	log.Logger(ctx).Sugar().Infof("%d products downloaded, %d failed", report.Succeeded, report.Failed)
	return report, nil
}
