package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/go-spatial/geom/encoding/wkt"
)

// Level1CTag is the substring identifying Level-1C products in a product name
const Level1CTag = "L1C"

// ContentDate is the sensing interval of a product
type ContentDate struct {
	Start time.Time `json:"Start"`
	End   time.Time `json:"End"`
}

// Product is a record of the catalogue
type Product struct {
	ID            string            `json:"Id"`
	Name          string            `json:"Name"`
	GeoFootprint  *geojson.Geometry `json:"GeoFootprint,omitempty"`
	ContentDate   ContentDate       `json:"ContentDate"`
	ContentLength int64             `json:"ContentLength,omitempty"`
	Online        bool              `json:"Online"`
	S3Path        string            `json:"S3Path,omitempty"`
}

// Identifier returns the name of the product without extension (e.g. without .SAFE)
func (p Product) Identifier() string {
	if i := strings.Index(p.Name, "."); i >= 0 {
		return p.Name[:i]
	}
	return p.Name
}

// IsLevel1C returns true if the name of the product designates a Level-1C product
func (p Product) IsLevel1C() bool {
	return strings.Contains(p.Name, Level1CTag)
}

// FootprintWKT returns the footprint of the product as a WKT string
func (p Product) FootprintWKT() (string, error) {
	if p.GeoFootprint == nil || p.GeoFootprint.Geometry == nil {
		return "", fmt.Errorf("FootprintWKT: product %s has no footprint", p.ID)
	}
	return wkt.EncodeString(p.GeoFootprint.Geometry)
}

// Info returns the fields encoded in the name of the product (see Info)
func (p Product) Info() map[string]string {
	info, err := Info(p.Identifier())
	if err != nil {
		return map[string]string{}
	}
	return info
}
