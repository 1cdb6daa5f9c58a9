package fetch

import (
	"database/sql"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// gpkgBlob encodes a geometry as a GeoPackage blob: GP magic, little-endian
// flags, SRID, no envelope, then WKB.
func gpkgBlob(t *testing.T, g geom.T, srid int32) []byte {
	t.Helper()
	data, err := wkb.Marshal(g, wkb.NDR)
	require.NoError(t, err)

	header := []byte{'G', 'P', 0, 0x01, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(header[4:8], uint32(srid))
	return append(header, data...)
}

func createTestGPKG(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "trails.gpkg")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	stmts := []string{
		`CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT NOT NULL)`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT, column_name TEXT, srs_id INTEGER)`,
		`CREATE TABLE hiking (fid INTEGER PRIMARY KEY, trail_name TEXT, miles REAL, geom BLOB)`,
		`CREATE TABLE summary (fid INTEGER PRIMARY KEY, notes TEXT)`,
		`INSERT INTO gpkg_contents VALUES ('hiking', 'features'), ('summary', 'attributes')`,
		`INSERT INTO gpkg_geometry_columns VALUES ('hiking', 'geom', 3857)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}

	pt := geom.NewPointFlat(geom.XY, []float64{-8237642.3, 5316442.2})
	_, err = db.Exec(`INSERT INTO hiking (trail_name, miles, geom) VALUES (?, ?, ?)`,
		"Long Path", 357.5, gpkgBlob(t, pt, 3857))
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO hiking (trail_name, miles, geom) VALUES (?, ?, NULL)`,
		"Unmapped Spur", 1.2)
	require.NoError(t, err)

	return path
}

func TestGPKG_ListLayers(t *testing.T) {
	path := createTestGPKG(t, t.TempDir())

	layers, err := ListGPKGLayers(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"hiking"}, layers) // attribute tables excluded
}

func TestGPKG_ReadLayer(t *testing.T) {
	path := createTestGPKG(t, t.TempDir())

	set, err := readGeoPackage(path, "hiking")
	require.NoError(t, err)
	assert.Equal(t, 3857, set.SRID)
	require.Len(t, set.Features, 2)

	first := set.Features[0]
	assert.Equal(t, "Long Path", first.Attrs["trail_name"])
	require.NotNil(t, first.Geom)
	assert.Equal(t, 3857, first.Geom.(*geom.Point).SRID())
	assert.InDelta(t, -8237642.3, first.Geom.FlatCoords()[0], 1e-6)

	// NULL geometry is preserved as nil, not an error.
	assert.Nil(t, set.Features[1].Geom)
}

func TestGPKG_DefaultSingleLayer(t *testing.T) {
	path := createTestGPKG(t, t.TempDir())

	set, err := readGeoPackage(path, "")
	require.NoError(t, err)
	assert.Len(t, set.Features, 2)
}

func TestGPKG_LayerNotFound(t *testing.T) {
	path := createTestGPKG(t, t.TempDir())

	_, err := readGeoPackage(path, "biking")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrLayerNotFound))
}

func TestDecodeGPKGGeometry_Invalid(t *testing.T) {
	_, err := decodeGPKGGeometry([]byte("not a blob"))
	require.Error(t, err)

	g, err := decodeGPKGGeometry(nil)
	require.NoError(t, err)
	assert.Nil(t, g)
}
