package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/airbusgeo/cdse-downloader/common"
	"github.com/airbusgeo/cdse-downloader/service"
	"github.com/airbusgeo/cdse-downloader/service/log"
	"github.com/cavaliercoder/grab"
	"github.com/mholt/archiver"
)

const (
	// DefaultMaxRedirects is the maximum number of redirects followed to find the archive
	DefaultMaxRedirects = 10
	// DefaultFilenameLength is the maximum length of the name of an archive (extension excluded)
	DefaultFilenameLength = 50
	// DefaultStallTimeout is the maximum time without receiving any byte of an archive
	DefaultStallTimeout = time.Minute
	// ExtensionZIP is the extension of the archives
	ExtensionZIP = "zip"
)

// ErrTransferStalled is returned when an archive stops flowing for longer than the stall timeout
var ErrTransferStalled = errors.New("transfer stalled")

// transferOptions configures the download of an archive
type transferOptions struct {
	maxRedirects int           // redirects followed by the http client (default: DefaultMaxRedirects)
	stallTimeout time.Duration // cancel the transfer if no byte is received (0: no limit)
}

var forbiddenChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeIdentifier returns a filesystem-safe version of the name of a product:
// the name up to the first ".", restricted to [A-Za-z0-9_-] and truncated to maxLength characters.
// If maxLength <= 0, DefaultFilenameLength is used.
func SanitizeIdentifier(name string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultFilenameLength
	}
	name, _, _ = strings.Cut(name, ".")
	name = forbiddenChars.ReplaceAllString(name, "")
	if len(name) > maxLength {
		name = name[:maxLength]
	}
	return name
}

// ProductFileName returns the name of the archive of the product: <sanitized identifier>.zip
// The sanitized id of the product is used if the name does not contain any valid character.
func ProductFileName(product common.Product, maxLength int) string {
	name := SanitizeIdentifier(product.Name, maxLength)
	if name == "" {
		name = SanitizeIdentifier(product.ID, maxLength)
	}
	return name + "." + ExtensionZIP
}

func fmtBytes(bytes int64) string {
	v := float64(bytes)
	switch {
	case v > 1<<30:
		return fmt.Sprintf("%.2fGo", v/(1<<30))
	case v > 1<<20:
		return fmt.Sprintf("%.2fMo", v/(1<<20))
	case v > 1<<10:
		return fmt.Sprintf("%.2fko", v/(1<<10))
	default:
		return fmt.Sprintf("%.2fo", v)
	}
}

// displayProgress logs the progress every progressPeriod and calls abort if no byte is received for stallTimeout
func displayProgress(ctx context.Context, prefix string, resp *grab.Response, progressPeriod float64, stallTimeout time.Duration, abort func()) {
	t := time.NewTicker(tickPeriod(stallTimeout))
	defer t.Stop()

	progress, lastBytes, start := progressPeriod, int64(0), time.Now()
	receivedBytes, lastReceived, aborted := int64(0), time.Now(), false
	for {
		select {
		case <-t.C:
			if b := resp.BytesComplete(); b != receivedBytes {
				receivedBytes, lastReceived = b, time.Now()
			} else if stallTimeout > 0 && !aborted && time.Since(lastReceived) >= stallTimeout {
				log.Logger(ctx).Sugar().Warnf("%s: no data received for %v, aborting", prefix, time.Since(lastReceived).Round(time.Millisecond))
				abort()
				aborted = true
			}
			if resp.Progress() >= progress {
				elapsed := time.Since(start).Seconds()
				log.Logger(ctx).Sugar().Infof("%s: %.2f%% %s/%s (%s/s)", prefix, 100*resp.Progress(), fmtBytes(resp.BytesComplete()), fmtBytes(resp.Size), fmtBytes(int64(float64(resp.BytesComplete()-lastBytes)/elapsed)))
				start = time.Now()
				for progress <= resp.Progress() {
					progress += progressPeriod
				}
				lastBytes = resp.BytesComplete()
			}

		case <-resp.Done:
			return
		}
	}
}

// tickPeriod is one second, or less to detect short stalls
func tickPeriod(stallTimeout time.Duration) time.Duration {
	if stallTimeout > 0 && stallTimeout < 4*time.Second {
		return stallTimeout / 4
	}
	return time.Second
}

// redirectStatus returns true if the status code is a redirection to follow
func redirectStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// resolveRedirects follows the redirections of url, one at a time, with the bearer token set on each hop.
// It returns the url of the first response that is not a redirection.
// Raise TooManyRedirectsError or service.HTTPStatusError if the final response is not 2xx.
func resolveRedirects(ctx context.Context, client *http.Client, url, token string, maxRedirects int) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	noRedirectClient := *client
	noRedirectClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	for hops := 0; ; hops++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("resolveRedirects.NewRequest: %w", err)
		}
		service.SetAuth(req, "", "", token)
		resp, err := noRedirectClient.Do(req)
		if err != nil {
			return "", service.MakeTemporary(fmt.Errorf("resolveRedirects.Do[%s]: %w", url, err))
		}

		if !redirectStatus(resp.StatusCode) {
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
				return "", fmt.Errorf("resolveRedirects[%s]: %w", url, &service.HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body})
			}
			// The body, i.e. the archive, is not read: it is downloaded afterwards
			return url, nil
		}
		resp.Body.Close()

		if hops >= maxRedirects {
			return "", &TooManyRedirectsError{URL: url, Hops: hops}
		}
		location := resp.Header.Get("Location")
		if location == "" {
			return "", fmt.Errorf("resolveRedirects[%s]: status %d without Location", url, resp.StatusCode)
		}
		next, err := resp.Request.URL.Parse(location)
		if err != nil {
			return "", fmt.Errorf("resolveRedirects.Parse[%s]: %w", location, err)
		}
		log.Logger(ctx).Sugar().Debugf("redirected (%d) to %s", resp.StatusCode, redactURL(next))
		url = next.String()
	}
}

// redactURL removes the query (that may contain signatures) for logging purpose
func redactURL(u *neturl.URL) string {
	r := *u
	r.RawQuery = ""
	return r.String()
}

// checkRedirectAndCopyAuth follows at most maxRedirects redirects and copies the Authorization header
func checkRedirectAndCopyAuth(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return &TooManyRedirectsError{URL: via[len(via)-1].URL.String(), Hops: len(via) - 1}
		}
		if auth := via[0].Header.Get("Authorization"); auth != "" {
			req.Header.Set("Authorization", auth)
		}
		return nil
	}
}

// downloadWithAuth downloads url to localFile using the bearer token
// The Authorization header is copied when redirected.
func downloadWithAuth(ctx context.Context, client *http.Client, url, localFile, displayPrefix, token string, opts transferOptions) error {
	req, err := grab.NewRequest(localFile, url)
	if err != nil {
		return fmt.Errorf("downloadWithAuth.NewRequest: %w", err)
	}
	req.NoResume = true
	service.SetAuth(req.HTTPRequest, "", "", token)

	if err := download(ctx, client, req, displayPrefix, opts); err != nil {
		os.Remove(localFile)
		return fmt.Errorf("downloadWithAuth.%w", err)
	}
	return nil
}

// download a file with display every 5%
func download(ctx context.Context, httpClient *http.Client, req *grab.Request, displayPrefix string, opts transferOptions) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	req = req.WithContext(ctx)

	client := grab.NewClient()
	if httpClient != nil {
		c := *httpClient
		client.HTTPClient = &c
	}
	client.HTTPClient.CheckRedirect = checkRedirectAndCopyAuth(opts.maxRedirects)
	resp := client.Do(req)

	displayProgress(ctx, displayPrefix, resp, 0.05, opts.stallTimeout, func() {
		cancel(fmt.Errorf("%w: no data for %v", ErrTransferStalled, opts.stallTimeout))
	})

	if err := resp.Err(); err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrTransferStalled) {
			return service.MakeTemporary(fmt.Errorf("download[%s]: %w", redactURL(req.URL()), cause))
		}
		err = fmt.Errorf("download[%s]: %w", redactURL(req.URL()), err)
		if resp.HTTPResponse == nil {
			return service.MakeTemporary(err)
		}
		if service.TemporaryStatus(resp.HTTPResponse.StatusCode) {
			return service.MakeTemporary(err)
		}
		return err
	}
	log.Logger(ctx).Sugar().Infof("%s: downloaded %s in %v", displayPrefix, fmtBytes(resp.BytesComplete()), resp.Duration().Round(time.Millisecond))
	return nil
}

// Unarchive extracts localZip in localDir with basic check and returns the path of the extracted files.
// All errors are temporary.
func Unarchive(localZip, localDir string) ([]string, error) {
	tmpdir, err := os.MkdirTemp(localDir, filepath.Base(localZip))
	if err != nil {
		return nil, service.MakeTemporary(err)
	}
	defer os.RemoveAll(tmpdir)
	if err := archiver.Unarchive(localZip, tmpdir); err != nil {
		return nil, service.MakeTemporary(err)
	}
	files, err := os.ReadDir(tmpdir)
	if err != nil {
		return nil, service.MakeTemporary(err)
	}
	if len(files) == 0 {
		return nil, service.MakeTemporary(fmt.Errorf("empty zip"))
	}
	var paths []string
	for _, f := range files {
		dst := filepath.Join(localDir, f.Name())
		os.RemoveAll(dst)
		if err := os.Rename(filepath.Join(tmpdir, f.Name()), dst); err != nil {
			return nil, service.MakeTemporary(err)
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

// productFilePath returns the path of the archive of the product in dir
func productFilePath(dir string, product common.Product, maxLength int) string {
	return filepath.Join(dir, ProductFileName(product, maxLength))
}
