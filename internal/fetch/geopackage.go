package fetch

import (
	"database/sql"
	"encoding/binary"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"

	"github.com/parcelworks/geoharvest/internal/feature"
)

// openGPKG opens a GeoPackage read-only.
func openGPKG(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: open geopackage %s", path)
	}
	return db, nil
}

// ListGPKGLayers returns the feature tables of a GeoPackage in name order.
// Satisfies registry.LayerLister.
func ListGPKGLayers(path string) ([]string, error) {
	db, err := openGPKG(path)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck

	rows, err := db.Query(
		`SELECT table_name FROM gpkg_contents WHERE data_type = 'features' ORDER BY table_name`)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: list layers of %s", path)
	}
	defer rows.Close() //nolint:errcheck

	var layers []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "fetch: scan layer name")
		}
		layers = append(layers, name)
	}
	return layers, rows.Err()
}

// readGeoPackage loads one layer of a GeoPackage. An empty layer name is
// allowed when the package holds exactly one feature table.
func readGeoPackage(path, layer string) (*feature.Set, error) {
	layers, err := ListGPKGLayers(path)
	if err != nil {
		return nil, err
	}

	switch {
	case layer == "" && len(layers) == 1:
		layer = layers[0]
	case layer == "":
		return nil, eris.Wrapf(ErrLayerNotFound, "%s has %d layers, a layer name is required", path, len(layers))
	default:
		found := false
		for _, l := range layers {
			if l == layer {
				found = true
				break
			}
		}
		if !found {
			return nil, eris.Wrapf(ErrLayerNotFound, "%s: no layer %q (have %v)", path, layer, layers)
		}
	}

	db, err := openGPKG(path)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck

	var geomCol string
	var srid int
	err = db.QueryRow(
		`SELECT column_name, srs_id FROM gpkg_geometry_columns WHERE table_name = ?`, layer).
		Scan(&geomCol, &srid)
	if err == sql.ErrNoRows {
		geomCol, srid = "", 0 // attribute-only table
	} else if err != nil {
		return nil, eris.Wrapf(err, "fetch: geometry column of %s", layer)
	}

	rows, err := db.Query(fmt.Sprintf(`SELECT * FROM %q`, layer))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: read layer %s", layer)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "fetch: layer columns")
	}

	var keys []string
	geomIdx := -1
	for i, c := range cols {
		if c == geomCol {
			geomIdx = i
			continue
		}
		keys = append(keys, c)
	}

	set := feature.NewSet(keys, srid)

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "fetch: scan layer row")
		}

		attrs := make(map[string]any, len(keys))
		var g geom.T
		for i, c := range cols {
			if i == geomIdx {
				blob, _ := values[i].([]byte)
				g, err = decodeGPKGGeometry(blob)
				if err != nil {
					return nil, eris.Wrapf(err, "fetch: layer %s", layer)
				}
				continue
			}
			attrs[c] = values[i]
		}
		set.Append(attrs, g)
	}

	return set, rows.Err()
}

// decodeGPKGGeometry parses the GeoPackage geometry blob: "GP" magic, version,
// flags, SRID, optional envelope, then standard WKB.
func decodeGPKGGeometry(blob []byte) (geom.T, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, eris.New("not a geopackage geometry blob")
	}

	flags := blob[3]
	if flags&0x20 != 0 { // empty geometry flag
		return nil, nil
	}

	var envelopeLen int
	switch (flags >> 1) & 0x07 {
	case 0:
		envelopeLen = 0
	case 1:
		envelopeLen = 32
	case 2, 3:
		envelopeLen = 48
	case 4:
		envelopeLen = 64
	default:
		return nil, eris.New("invalid geopackage envelope code")
	}

	var order binary.ByteOrder = binary.BigEndian
	if flags&0x01 != 0 {
		order = binary.LittleEndian
	}
	srid := int(int32(order.Uint32(blob[4:8])))

	wkbStart := 8 + envelopeLen
	if len(blob) < wkbStart {
		return nil, eris.New("truncated geopackage geometry blob")
	}

	g, err := wkb.Unmarshal(blob[wkbStart:])
	if err != nil {
		return nil, eris.Wrap(err, "decode wkb")
	}
	return setGeomSRID(g, srid), nil
}

// setGeomSRID stamps the SRID on a decoded geometry.
func setGeomSRID(g geom.T, srid int) geom.T {
	switch gg := g.(type) {
	case *geom.Point:
		return gg.SetSRID(srid)
	case *geom.MultiPoint:
		return gg.SetSRID(srid)
	case *geom.LineString:
		return gg.SetSRID(srid)
	case *geom.MultiLineString:
		return gg.SetSRID(srid)
	case *geom.Polygon:
		return gg.SetSRID(srid)
	case *geom.MultiPolygon:
		return gg.SetSRID(srid)
	case *geom.GeometryCollection:
		return gg.SetSRID(srid)
	default:
		return g
	}
}
