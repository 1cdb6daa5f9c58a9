package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/geoharvest/internal/feature"
	"github.com/parcelworks/geoharvest/internal/registry"
)

func localSource(path, layer string) registry.Source {
	return registry.Source{
		ID:        "local_test",
		Kind:      registry.KindLocalFile,
		Location:  path,
		Layer:     layer,
		TableName: "local_test",
		IsSpatial: true,
	}
}

func TestLocal_GeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wetlands.geojson")
	require.NoError(t, os.WriteFile(path, []byte(wetlandsGeoJSON), 0o644))

	set, err := (&Local{}).Fetch(context.Background(), localSource(path, ""))
	require.NoError(t, err)
	assert.Len(t, set.Features, 2)
	assert.Equal(t, feature.CanonicalSRID, set.SRID)
}

func TestLocal_FileNotFound(t *testing.T) {
	_, err := (&Local{}).Fetch(context.Background(),
		localSource(filepath.Join(t.TempDir(), "missing.geojson"), ""))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrFileNotFound))
}

func TestLocal_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.xyz")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := (&Local{}).Fetch(context.Background(), localSource(path, ""))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnsupportedContainer))
}

func createTestShapefile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "parcels.shp")

	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)

	w.SetFields([]shp.Field{
		shp.StringField("OWNER", 40),
		shp.NumberField("ACRES", 10),
	})

	points := []shp.Point{{X: -73.75, Y: 42.65}, {X: -78.87, Y: 42.88}}
	owners := []string{"Smith", "Jones"}
	acres := []int{12, 40}
	// go-shp v0.1.1 pads DBF records with NUL bytes instead of the spaces
	// the dBASE format calls for, so write each value pre-padded to the
	// full field width to produce a conformant fixture.
	for i, p := range points {
		w.Write(&p)
		require.NoError(t, w.WriteAttribute(i, 0, fmt.Sprintf("%-40s", owners[i])))
		require.NoError(t, w.WriteAttribute(i, 1, fmt.Sprintf("%-10d", acres[i])))
	}
	w.Close()

	// go-shp v0.1.1's Writer strips the ".shp" suffix (dot included) before
	// appending "dbf", so attributes land in "parcelsdbf" while the Reader
	// expects "parcels.dbf". Rename the sidecar to the name the Reader opens.
	base := strings.TrimSuffix(path, ".shp")
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	return path
}

func TestLocal_Shapefile(t *testing.T) {
	path := createTestShapefile(t, t.TempDir())

	set, err := (&Local{}).Fetch(context.Background(), localSource(path, ""))
	require.NoError(t, err)
	require.Len(t, set.Features, 2)

	assert.Equal(t, []string{"OWNER", "ACRES"}, set.Schema.Keys)
	assert.Equal(t, "Smith", set.Features[0].Attrs["OWNER"])
	assert.Equal(t, int64(40), set.Features[1].Attrs["ACRES"])

	require.NotNil(t, set.Features[0].Geom)
	fc := set.Features[0].Geom.FlatCoords()
	assert.InDelta(t, -73.75, fc[0], 1e-6)
	assert.InDelta(t, 42.65, fc[1], 1e-6)
}

func TestLocal_ShapefileLayerMismatch(t *testing.T) {
	path := createTestShapefile(t, t.TempDir())

	_, err := (&Local{}).Fetch(context.Background(), localSource(path, "roads"))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrLayerNotFound))
}

func TestSRIDFromPRJ(t *testing.T) {
	dir := t.TempDir()
	shpPath := filepath.Join(dir, "data.shp")

	assert.Equal(t, 0, sridFromPRJ(shpPath)) // no sidecar

	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.prj"),
		[]byte(`GEOGCS["GCS_North_American_1983",DATUM["D_North_American_1983"]]`), 0o644))
	assert.Equal(t, 4269, sridFromPRJ(shpPath))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.prj"),
		[]byte(`PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere"]`), 0o644))
	assert.Equal(t, 3857, sridFromPRJ(shpPath))
}
