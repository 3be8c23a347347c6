package entities

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/airbusgeo/cdse-downloader/common"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
)

// DefaultCollection is the collection searched by default
const DefaultCollection = "SENTINEL-2"

// CloudCover is a range of cloud cover percentages
type CloudCover struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AreaToIngest is the input of the catalog
type AreaToIngest struct {
	AOI          string      `json:"aoi"` // WKT, EPSG:4326
	StartTime    time.Time   `json:"start_time"`
	EndTime      time.Time   `json:"end_time"`
	Collection   string      `json:"collection"`
	NameContains string      `json:"name_contains,omitempty"`
	CloudCover   *CloudCover `json:"cloud_cover,omitempty"`
}

// Validate checks the consistency of the area
func (a *AreaToIngest) Validate() error {
	if strings.TrimSpace(a.AOI) == "" {
		return fmt.Errorf("validateArea: empty AOI")
	}
	if strings.TrimSpace(a.Collection) == "" {
		return fmt.Errorf("validateArea: empty collection")
	}
	if !a.StartTime.Before(a.EndTime) {
		return fmt.Errorf("validateArea: start time (%v) must be before end time (%v)", a.StartTime, a.EndTime)
	}
	if c := a.CloudCover; c != nil && (c.Min < 0 || c.Max > 100 || c.Min > c.Max) {
		return fmt.Errorf("validateArea: wrong cloud cover range [%v, %v]", c.Min, c.Max)
	}
	return nil
}

// ParseCloudCover parses a cloud cover range "Min TO Max", "[Min TO Max]" or "Max"
func ParseCloudCover(s string) (*CloudCover, error) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "[]"))
	if s == "" {
		return nil, nil
	}
	cc := CloudCover{}
	vs := strings.Split(s, " TO ")
	switch len(vs) {
	case 1:
		if _, err := fmt.Sscanf(vs[0], "%g", &cc.Max); err != nil {
			return nil, fmt.Errorf("ParseCloudCover: %w", err)
		}
	case 2:
		if _, err := fmt.Sscanf(vs[0], "%g", &cc.Min); err != nil {
			return nil, fmt.Errorf("ParseCloudCover: %w", err)
		}
		if _, err := fmt.Sscanf(vs[1], "%g", &cc.Max); err != nil {
			return nil, fmt.Errorf("ParseCloudCover: %w", err)
		}
	default:
		return nil, fmt.Errorf("ParseCloudCover: cloud cover must be 'Min TO Max'")
	}
	return &cc, nil
}

// Products is the result of the inventory
type Products struct {
	Products   []common.Product
	Properties map[string]string
}

// MarshalJSON encodes the products as a GeoJSON FeatureCollection
func (p Products) MarshalJSON() ([]byte, error) {
	fc := geojson.FeatureCollection{Features: make([]geojson.Feature, len(p.Products))}
	for i, product := range p.Products {
		id := uint64(i)
		var g geom.Geometry = geom.Collection{}
		if product.GeoFootprint != nil && product.GeoFootprint.Geometry != nil {
			g = product.GeoFootprint.Geometry
		}
		properties := map[string]interface{}{
			"id":   product.ID,
			"name": product.Name,
			"date": product.ContentDate.Start,
		}
		if product.ContentLength > 0 {
			properties["size"] = product.ContentLength
		}
		if tile, ok := product.Info()["TILE"]; ok {
			properties["tile"] = tile
		}
		fc.Features[i] = geojson.Feature{ID: &id, Geometry: geojson.Geometry{Geometry: g}, Properties: properties}
	}
	if len(p.Properties) > 0 {
		features := struct {
			Type       string            `json:"type"`
			Features   []geojson.Feature `json:"features"`
			Properties map[string]string `json:"properties"`
		}{"FeatureCollection", fc.Features, p.Properties}
		return json.Marshal(features)
	}
	return json.Marshal(fc)
}
