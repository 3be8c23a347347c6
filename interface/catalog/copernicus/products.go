package copernicus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strconv"
	"strings"

	"github.com/airbusgeo/cdse-downloader/catalog/entities"
	"github.com/airbusgeo/cdse-downloader/common"
	"github.com/airbusgeo/cdse-downloader/interface/catalog"
	"github.com/airbusgeo/cdse-downloader/service"
	"github.com/airbusgeo/cdse-downloader/service/log"
)

const (
	CopernicusPageLimit     = 1000
	CopernicusODataQueryURL = "https://catalogue.dataspace.copernicus.eu/odata/v1/Products"
	dateFormat              = "2006-01-02T15:04:05.000Z"
)

// Provider searches products in the OData catalogue of the Copernicus Data Space
type Provider struct {
	URL     string       // Default: CopernicusODataQueryURL
	Limit   int          // Maximum number of products returned by a query ($top). Default: CopernicusPageLimit
	Client  *http.Client // Default: http.DefaultClient
	Retries int          // Number of retries in case of temporary failure
}

var mapKey = map[string]string{
	"collection": "Collection/Name eq '%s'",
	"intersects": "OData.CSC.Intersects(area=geography'SRID=4326;%s')",
	"start":      "ContentDate/Start gt %s",
	"end":        "ContentDate/Start lt %s",
	"filename":   "contains(Name,'%s')",
	"cloudcover": "Attributes/OData.CSC.DoubleAttribute/any(att:att/Name eq 'cloudCover' and att/OData.CSC.DoubleAttribute/Value ge %s) and Attributes/OData.CSC.DoubleAttribute/any(att:att/Name eq 'cloudCover' and att/OData.CSC.DoubleAttribute/Value le %s)",
}

// Filter returns the OData filter expression of the area
func Filter(area *entities.AreaToIngest) string {
	parameters := []string{
		fmt.Sprintf(mapKey["collection"], escapeLiteral(area.Collection)),
		fmt.Sprintf(mapKey["intersects"], area.AOI),
		fmt.Sprintf(mapKey["start"], area.StartTime.UTC().Format(dateFormat)),
		fmt.Sprintf(mapKey["end"], area.EndTime.UTC().Format(dateFormat)),
	}
	if area.NameContains != "" {
		parameters = append(parameters, fmt.Sprintf(mapKey["filename"], escapeLiteral(strings.Trim(area.NameContains, "*"))))
	}
	if cc := area.CloudCover; cc != nil {
		parameters = append(parameters, fmt.Sprintf(mapKey["cloudcover"],
			strconv.FormatFloat(cc.Min, 'f', -1, 64), strconv.FormatFloat(cc.Max, 'f', -1, 64)))
	}
	return strings.Join(parameters, " and ")
}

// escapeLiteral escapes the quotes of an OData string literal
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// QueryURL returns the url of the catalogue query
func (p *Provider) QueryURL(area *entities.AreaToIngest) string {
	baseurl, limit := p.URL, p.Limit
	if baseurl == "" {
		baseurl = CopernicusODataQueryURL
	}
	if limit <= 0 {
		limit = CopernicusPageLimit
	}
	return fmt.Sprintf("%s?$filter=%s&$count=True&$top=%d", baseurl, neturl.QueryEscape(Filter(area)), limit)
}

// SearchProducts implements catalog.ProductsProvider
func (p *Provider) SearchProducts(ctx context.Context, area *entities.AreaToIngest) ([]common.Product, error) {
	url := p.QueryURL(area)
	log.Logger(ctx).Sugar().Debugf("[Copernicus] Search products: %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &catalog.QueryError{URL: url, Err: err}
	}
	body, err := service.GetBodyRetryReq(ctx, p.Client, req, p.Retries)
	if err != nil {
		qerr := &catalog.QueryError{URL: url, Err: err}
		var serr *service.HTTPStatusError
		if errors.As(err, &serr) {
			qerr.StatusCode = serr.StatusCode
		}
		return nil, qerr
	}

	products, count, err := parse(body)
	if err != nil {
		return nil, &catalog.QueryError{URL: url, StatusCode: http.StatusOK, Err: err}
	}
	if count > len(products) {
		log.Logger(ctx).Sugar().Warnf("[Copernicus] %d products match the query, only the first %d are retrieved", count, len(products))
	}
	log.Logger(ctx).Sugar().Debugf("[Copernicus] %d products found", len(products))
	return products, nil
}

func parse(body []byte) ([]common.Product, int, error) {
	results := struct {
		Count int               `json:"@odata.count"`
		Value *[]common.Product `json:"value"`
	}{}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, 0, fmt.Errorf("parse.Unmarshal: %w (response: %.200s)", err, body)
	}
	if results.Value == nil {
		return nil, 0, fmt.Errorf("parse: missing value in response: %.200s", body)
	}
	return *results.Value, results.Count, nil
}
