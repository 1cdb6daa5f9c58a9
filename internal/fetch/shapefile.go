package fetch

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/parcelworks/geoharvest/internal/feature"
)

// readShapefile loads a .shp (with its .dbf attributes and optional .prj
// sidecar) into a feature set.
func readShapefile(path string) (*feature.Set, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = strings.TrimRight(f.String(), "\x00")
	}

	set := feature.NewSet(keys, sridFromPRJ(path))

	for reader.Next() {
		_, shape := reader.Shape()

		attrs := make(map[string]any, len(fields))
		for i, f := range fields {
			attrs[keys[i]] = dbfValue(f.Fieldtype, strings.TrimSpace(reader.Attribute(i)))
		}

		set.Append(attrs, shapeToGeom(shape, set.SRID))
	}

	return set, nil
}

// dbfValue converts a DBF string value per its declared field type.
func dbfValue(fieldType byte, raw string) any {
	if raw == "" {
		return nil
	}
	switch fieldType {
	case 'N', 'F':
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	case 'L':
		switch raw {
		case "T", "t", "Y", "y":
			return true
		case "F", "f", "N", "n":
			return false
		}
		return nil
	default:
		return raw
	}
}

// sridFromPRJ sniffs the projection sidecar for the CRSes this pipeline can
// handle. Returns 0 (undeclared) when the sidecar is missing or unrecognized.
func sridFromPRJ(shpPath string) int {
	data, err := os.ReadFile(strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".prj")
	if err != nil {
		return 0
	}
	wkt := string(data)
	switch {
	case strings.Contains(wkt, "Web_Mercator") || strings.Contains(wkt, "3857"):
		return 3857
	case strings.Contains(wkt, "GCS_North_American_1983") || strings.Contains(wkt, "NAD83"):
		return 4269
	case strings.Contains(wkt, "GCS_WGS_1984") || strings.Contains(wkt, "WGS 84") || strings.Contains(wkt, "WGS_1984"):
		return feature.CanonicalSRID
	default:
		return 0
	}
}

// shapeToGeom converts a go-shp geometry to go-geom. Unsupported shape types
// yield nil geometry rather than failing the whole layer.
func shapeToGeom(shape shp.Shape, srid int) geom.T {
	if shape == nil {
		return nil
	}

	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(srid)
	case *shp.PolyLine:
		return polyLineToMultiLineString(s, srid)
	case *shp.Polygon:
		return polygonToMultiPolygon(s, srid)
	default:
		return nil
	}
}

func polyLineToMultiLineString(pl *shp.PolyLine, srid int) geom.T {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}

	mls := geom.NewMultiLineString(geom.XY).SetSRID(srid)
	for i := int32(0); i < pl.NumParts; i++ {
		ls := geom.NewLineStringFlat(geom.XY, partCoords(pl.Points, pl.Parts, i, pl.NumParts))
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("fetch: skipping malformed linestring part", zap.Int32("part", i), zap.Error(err))
		}
	}

	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

func polygonToMultiPolygon(p *shp.Polygon, srid int) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
	for i := int32(0); i < p.NumParts; i++ {
		ring := geom.NewLinearRingFlat(geom.XY, partCoords(p.Points, p.Parts, i, p.NumParts))
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("fetch: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("fetch: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// partCoords flattens the points of one shapefile part.
func partCoords(points []shp.Point, parts []int32, i, numParts int32) []float64 {
	start := parts[i]
	end := int32(len(points))
	if i+1 < numParts {
		end = parts[i+1]
	}

	flat := make([]float64, 0, (end-start)*2)
	for j := start; j < end; j++ {
		flat = append(flat, points[j].X, points[j].Y)
	}
	return flat
}
