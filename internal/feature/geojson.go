package feature

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
	geojson "github.com/twpayne/go-geom/encoding/geojson"
)

// FromGeoJSON decodes a GeoJSON FeatureCollection into a Set. Schema keys are
// ordered by first appearance across features (sorted within each feature,
// since JSON objects are unordered); properties missing from a given feature
// are stored as nil. srid declares the CRS of the payload (GeoJSON itself is
// CRS-less); pass 0 when unknown.
func FromGeoJSON(data []byte, srid int) (*Set, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "feature: decode geojson")
	}

	var keys []string
	seen := make(map[string]bool)
	for _, f := range fc.Features {
		props := make([]string, 0, len(f.Properties))
		for k := range f.Properties {
			props = append(props, k)
		}
		sort.Strings(props)
		for _, k := range props {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	set := NewSet(keys, srid)
	for _, f := range fc.Features {
		attrs := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			attrs[k] = v
		}
		set.Append(attrs, f.Geometry)
	}

	return set, nil
}
