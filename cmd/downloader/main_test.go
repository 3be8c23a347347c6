package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/airbusgeo/cdse-downloader/catalog/entities"
	"github.com/airbusgeo/cdse-downloader/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAOI = "POLYGON ((-72.079582 -39.533174, -72.079582 -39.331907, -71.760635 -39.331907, -71.760635 -39.533174, -72.079582 -39.533174))"

func fixNow(t *testing.T, date time.Time) {
	saved := now
	now = func() time.Time { return date }
	t.Cleanup(func() { now = saved })
}

func mapEnv(env map[string]string) func(string) string {
	return func(key string) string { return env[key] }
}

func TestNewAppConfigDefaults(t *testing.T) {
	fixNow(t, time.Date(2024, 3, 15, 17, 32, 0, 0, time.UTC))

	config, err := newAppConfig([]string{"-aoi", testAOI, "-username", "user", "-password", "pswd"}, mapEnv(nil))
	require.NoError(t, err)

	assert.Equal(t, "SENTINEL-2", config.Area.Collection)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), config.Area.EndTime)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), config.Area.StartTime)
	assert.Contains(t, config.Area.AOI, "POLYGON")
	assert.Nil(t, config.Area.CloudCover)
	assert.Equal(t, "./downloads", config.OutDir)
	assert.Equal(t, 1000, config.Limit)
	assert.Equal(t, 10, config.MaxRedirects)
	assert.Equal(t, 50, config.FilenameLength)
	assert.Equal(t, 60*time.Second, config.Timeout)
	assert.Equal(t, 30*time.Second, config.ConnectTimeout)
	assert.True(t, config.KeepLocal)
	assert.False(t, config.TokenPerDownload)
	assert.False(t, config.DryRun)
	assert.Equal(t, "info", config.LogLevel)
}

func TestNewAppConfigFlags(t *testing.T) {
	config, err := newAppConfig([]string{
		"-aoi", testAOI,
		"-username", "user", "-password", "pswd",
		"-start", "2024-01-01", "-end", "2024-01-05T12:00:00Z",
		"-cloud-cover", "[0 TO 20]",
		"-name-contains", "T32TQM",
		"-max-redirects", "3",
		"-token-per-download",
		"-keep-local=false",
		"-timeout", "2m",
	}, mapEnv(nil))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), config.Area.StartTime)
	assert.Equal(t, time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC), config.Area.EndTime)
	require.NotNil(t, config.Area.CloudCover)
	assert.Equal(t, 20.0, config.Area.CloudCover.Max)
	assert.Equal(t, "T32TQM", config.Area.NameContains)
	assert.Equal(t, 3, config.MaxRedirects)
	assert.True(t, config.TokenPerDownload)
	assert.False(t, config.KeepLocal)
	assert.Equal(t, 2*time.Minute, config.Timeout)
}

func TestNewAppConfigEnv(t *testing.T) {
	fixNow(t, time.Date(2024, 3, 15, 17, 32, 0, 0, time.UTC))
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CDSE_USERNAME=fileuser\nCDSE_PASSWORD=filepswd\nCDSE_DAYS=2\nCDSE_OUTDIR=/from/file\n"), 0644))

	env := map[string]string{
		"CDSE_AOI":      testAOI,
		"CDSE_USERNAME": "envuser",
		"CDSE_OUTDIR":   "/from/env",
		"CDSE_ENV_FILE": envFile,
	}
	config, err := newAppConfig([]string{"-outdir", "/from/flag"}, mapEnv(env))
	require.NoError(t, err)

	// flag > env > env-file > default
	assert.Equal(t, "/from/flag", config.OutDir)
	assert.Equal(t, "envuser", config.Username)
	assert.Equal(t, "filepswd", config.Password)
	assert.Equal(t, time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC), config.Area.StartTime)
}

func TestNewAppConfigErrors(t *testing.T) {
	aoiFile := filepath.Join(t.TempDir(), "aoi.wkt")
	require.NoError(t, os.WriteFile(aoiFile, []byte(testAOI), 0644))
	creds := []string{"-username", "user", "-password", "pswd"}

	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"missing aoi", creds, nil},
		{"both aoi", append([]string{"-aoi", testAOI, "-aoi-file", aoiFile}, creds...), nil},
		{"wrong aoi", append([]string{"-aoi", "POLYGON ((0 0"}, creds...), nil},
		{"missing aoi file", append([]string{"-aoi-file", aoiFile + ".missing"}, creds...), nil},
		{"missing credentials", []string{"-aoi", testAOI}, nil},
		{"missing password", []string{"-aoi", testAOI, "-username", "user"}, nil},
		{"wrong date", append([]string{"-aoi", testAOI, "-start", "not a date"}, creds...), nil},
		{"start after end", append([]string{"-aoi", testAOI, "-start", "2024-02-01", "-end", "2024-01-01"}, creds...), nil},
		{"wrong days", append([]string{"-aoi", testAOI, "-days", "0"}, creds...), nil},
		{"wrong cloud cover", append([]string{"-aoi", testAOI, "-cloud-cover", "50 TO 10"}, creds...), nil},
		{"unknown flag", append([]string{"-aoi", testAOI, "-unknown"}, creds...), nil},
		{"wrong env", append([]string{"-aoi", testAOI}, creds...), map[string]string{"CDSE_MAX_REDIRECTS": "ten"}},
		{"missing env file", append([]string{"-aoi", testAOI, "-env-file", aoiFile + ".env"}, creds...), nil},
		{"missing ps-project", append([]string{"-aoi", testAOI, "-event-topic", "events"}, creds...), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newAppConfig(tt.args, mapEnv(tt.env))
			assert.Error(t, err)
		})
	}

	config, err := newAppConfig([]string{"-aoi-file", aoiFile, "-dry-run"}, mapEnv(nil))
	require.NoError(t, err, "credentials are not required by a dry run")
	assert.True(t, config.DryRun)

	_, err = newAppConfig([]string{"-h"}, mapEnv(nil))
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "CDSE_MAX_REDIRECTS", envKey("max-redirects"))
	assert.Equal(t, "CDSE_USERNAME", envKey("username"))
}

const (
	l2aID = "2b7a0f6e-8d5a-4c4c-9c0a-6f1a3c9d1e01"
	l1cID = "2b7a0f6e-8d5a-4c4c-9c0a-6f1a3c9d1e02"
	badID = "2b7a0f6e-8d5a-4c4c-9c0a-6f1a3c9d1e03"
)

var catalogueResponse = fmt.Sprintf(`{"@odata.context": "$metadata#Products", "value": [
	{"Id": %q, "Name": "S2B_MSIL2A_20240105T101329_N0510_R022_T32TQM_20240105T121546.SAFE", "ContentDate": {"Start": "2024-01-05T10:13:29.024Z", "End": "2024-01-05T10:13:29.024Z"}},
	{"Id": %q, "Name": "S2B_MSIL1C_20240105T101329_N0510_R022_T32TQM_20240105T110532.SAFE", "ContentDate": {"Start": "2024-01-05T10:13:29.024Z", "End": "2024-01-05T10:13:29.024Z"}},
	{"Id": %q, "Name": "S2A_MSIL2A_20240106T100401_N0510_R122_T33UXP_20240106T120000.SAFE", "ContentDate": {"Start": "2024-01-06T10:04:01.024Z", "End": "2024-01-06T10:04:01.024Z"}}
]}`, l2aID, l1cID, badID)

type testServers struct {
	catalogue, identity, content *httptest.Server
	tokenCalls, downloads        int32
}

func newTestServers(t *testing.T, body string) *testServers {
	ts := &testServers{}
	ts.catalogue = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Query().Get("$filter"), "Collection/Name eq 'SENTINEL-2'") {
			t.Errorf("unexpected filter: %s", r.URL.Query().Get("$filter"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, catalogueResponse)
	}))
	ts.identity = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ts.tokenCalls, 1)
		if err := r.ParseForm(); err != nil {
			t.Error(err)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("username") != "user" || r.PostForm.Get("password") != "pswd" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Invalid user credentials"}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"token","expires_in":600,"token_type":"Bearer"}`)
	}))
	ts.content = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case fmt.Sprintf("/odata/v1/Products(%s)/$value", l2aID):
			http.Redirect(w, r, "/zipper/"+l2aID, http.StatusTemporaryRedirect)
		case "/zipper/" + l2aID:
			if r.Method == http.MethodGet {
				atomic.AddInt32(&ts.downloads, 1)
			}
			w.Header().Set("Content-Type", "application/zip")
			fmt.Fprint(w, body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(func() {
		ts.catalogue.Close()
		ts.identity.Close()
		ts.content.Close()
	})
	return ts
}

func (ts *testServers) config(outdir string) *config {
	return &config{
		Username: "user",
		Password: "pswd",
		Area: entities.AreaToIngest{
			AOI:        testAOI,
			Collection: entities.DefaultCollection,
			StartTime:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EndTime:    time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		},

		OutDir:         outdir,
		Limit:          1000,
		CatalogURL:     ts.catalogue.URL + "/odata/v1/Products",
		IdentityURL:    ts.identity.URL,
		DownloadURL:    ts.content.URL + "/odata/v1/Products",
		MaxRedirects:   10,
		FilenameLength: 50,
		Timeout:        10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		KeepLocal:      true,
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	body := strings.Repeat("zip content ", 100)
	ts := newTestServers(t, body)
	outdir := t.TempDir()

	config := ts.config(outdir)
	config.Manifest = "products.json"
	report, err := run(ctx, config)
	require.NoError(t, err)

	// The L1C product is discarded, the second L2A product is not found
	require.Len(t, report.Results, 2)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Error(t, report.Err())
	assert.Equal(t, common.StatusDONE, report.Results[0].Status)
	assert.Equal(t, common.StatusFAILED, report.Results[1].Status)
	assert.Equal(t, int32(1), ts.tokenCalls)
	assert.Equal(t, int32(1), ts.downloads)

	content, err := os.ReadFile(filepath.Join(outdir, "S2B_MSIL2A_20240105T101329_N0510_R022_T32TQM_20240.zip"))
	require.NoError(t, err)
	assert.Equal(t, body, string(content))

	manifest, err := os.ReadFile(filepath.Join(outdir, "products.json"))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), l2aID)
	assert.NotContains(t, string(manifest), l1cID)
}

func TestRunDryRun(t *testing.T) {
	ts := newTestServers(t, "")
	config := ts.config(t.TempDir())
	config.DryRun = true
	config.Password = ""

	report, err := run(context.Background(), config)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Equal(t, int32(0), ts.tokenCalls)
	assert.Equal(t, int32(0), ts.downloads)
}

func TestRunAuthenticationFailure(t *testing.T) {
	ts := newTestServers(t, "")
	config := ts.config(t.TempDir())
	config.Password = "wrong"

	_, err := run(context.Background(), config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.Equal(t, int32(0), ts.downloads)
}

func TestRunQueryFailure(t *testing.T) {
	ts := newTestServers(t, "")
	config := ts.config(t.TempDir())
	config.CatalogURL = ts.content.URL + "/unknown"

	_, err := run(context.Background(), config)
	assert.Error(t, err)
	assert.Equal(t, int32(0), ts.tokenCalls)
}

func TestRunNoProducts(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value": []}`)
	}))
	defer empty.Close()
	ts := newTestServers(t, "")
	config := ts.config(t.TempDir())
	config.CatalogURL = empty.URL

	report, err := run(context.Background(), config)
	require.NoError(t, err)
	assert.NoError(t, report.Err())
	assert.Empty(t, report.Results)
	assert.Equal(t, int32(0), ts.tokenCalls)
}
