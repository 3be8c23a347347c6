package geometry

import (
	"fmt"
	"os"
	"strings"

	"github.com/airbusgeo/cdse-downloader/service"
	"github.com/go-spatial/geom"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
	"github.com/paulsmith/gogeos/geos"
)

// Generates a geom.Geometry from a geos.Geometry
func GeosToGeom(g *geos.Geometry) (geom.Geometry, error) {
	wkt, err := g.ToWKT()
	if err != nil {
		return nil, fmt.Errorf("GeosToGeom.ToWKT: %w", err)
	}
	geometry, err := geomwkt.DecodeString(wkt)
	if err != nil {
		return nil, fmt.Errorf("GeosToGeom.DecodeString: %w", err)
	}

	return geometry, nil
}

var TOLERANCE_GEOG = 0.000001

// LoadAOI reads an area of interest from a file containing WKT or GeoJSON
func LoadAOI(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("LoadAOI: %w", err)
	}
	aoi, err := ParseAOI(string(b))
	if err != nil {
		return "", fmt.Errorf("LoadAOI[%s].%w", path, err)
	}
	return aoi, nil
}

// ParseAOI parses an area of interest given as WKT or GeoJSON (geometry, feature or featureCollection)
// and returns a valid WKT (in SRID 4326).
// Polygons of a GeoJSON featureCollection are merged into one (multi)polygon.
func ParseAOI(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("ParseAOI: empty area of interest")
	}
	if strings.HasPrefix(input, "{") {
		g, err := service.UnmarshalGeometry([]byte(input))
		if err != nil {
			return "", fmt.Errorf("ParseAOI.UnmarshalGeometry: %w", err)
		}
		if input, err = geomwkt.EncodeString(g); err != nil {
			return "", fmt.Errorf("ParseAOI.EncodeWKT: %w", err)
		}
		if _, ok := g.(geom.MultiPolygon); ok {
			if input, err = WKTUnion([]string{input}, TOLERANCE_GEOG); err != nil {
				return "", fmt.Errorf("ParseAOI.%w", err)
			}
		}
	}

	aoi, err := geos.FromWKT(input)
	if err != nil {
		return "", fmt.Errorf("ParseAOI.FromWKT: %w", err)
	}
	if empty, err := aoi.IsEmpty(); err != nil {
		return "", fmt.Errorf("ParseAOI.IsEmpty: %w", err)
	} else if empty {
		return "", fmt.Errorf("ParseAOI: empty geometry")
	}
	wkt, err := aoi.ToWKT()
	if err != nil {
		return "", fmt.Errorf("ParseAOI.ToWKT: %w", err)
	}
	return wkt, nil
}

func WKTUnion(wkts []string, tolerance float64) (string, error) {
	var geoms []*geos.Geometry
	for _, wkt := range wkts {
		geo, err := geos.FromWKT(wkt)
		if err != nil {
			return "", fmt.Errorf("WKTUnion.FromWKT: %w", err)
		}
		geoms = append(geoms, geo)
	}
	aoi, err := Union(geoms, tolerance)
	if err != nil {
		return "", fmt.Errorf("WKTUnion.%w", err)
	}
	wkt, err := aoi.ToWKT()
	if err != nil {
		return "", fmt.Errorf("WKTUnion.ToWKT: %w", err)
	}
	return wkt, nil
}

func Union(geoms []*geos.Geometry, tolerance float64) (*geos.Geometry, error) {
	aoi, err := UnaryUnion(geoms)
	if err == nil {
		if aoi, err = aoi.Simplify(tolerance); err != nil {
			return nil, fmt.Errorf("Union.Simplify: %w", err)
		}
		return aoi, nil
	}
	// Union all failed, retry one by one with simplify
	aoi = nil
	for _, g := range geoms {
		if g, err = g.Simplify(tolerance); err != nil {
			return nil, fmt.Errorf("Union.Simplify: %w", err)
		}
		if aoi == nil {
			aoi = g
		} else if aoi, err = g.Union(aoi); err != nil {
			return nil, fmt.Errorf("Union: %w", err)
		}
	}
	if aoi == nil {
		return nil, fmt.Errorf("Union: no geometry")
	}
	return aoi, nil
}

func UnaryUnion(geoms []*geos.Geometry) (*geos.Geometry, error) {
	aoi, err := geos.NewCollection(geos.GEOMETRYCOLLECTION, geoms...)
	if err != nil {
		return nil, fmt.Errorf("UnaryUnion.NewCollection: %w", err)
	}
	if aoi, err = aoi.UnaryUnion(); err != nil {
		return nil, fmt.Errorf("UnaryUnion.UnaryUnion: %w", err)
	}
	return aoi, nil
}

// Intersects returns true if the two WKT geometries intersect
func Intersects(wkt1, wkt2 string) (bool, error) {
	g1, err := geos.FromWKT(wkt1)
	if err != nil {
		return false, fmt.Errorf("Intersects.FromWKT: %w", err)
	}
	g2, err := geos.FromWKT(wkt2)
	if err != nil {
		return false, fmt.Errorf("Intersects.FromWKT: %w", err)
	}
	return g1.Intersects(g2)
}
