package standardize

import (
	"regexp"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/parcelworks/geoharvest/internal/feature"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_]*$`)

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"OWNER":          "owner",
		"Sale Price":     "saleprice",
		"land_use_desc":  "land_use_desc",
		"ACRES (approx)": "acresapprox",
		"Área":           "area",
		"Parcel-ID #":    "parcelid",
		"":               "",
	}
	for in, want := range cases {
		got := NormalizeKey(in)
		assert.Equal(t, want, got, "NormalizeKey(%q)", in)
		assert.Regexp(t, keyPattern, got)
	}
}

func TestStandardize_KeysNormalizedAndUnique(t *testing.T) {
	in := feature.NewSet([]string{"OWNER", "Sale Price", "acres"}, feature.CanonicalSRID)
	in.Append(map[string]any{"OWNER": "x", "Sale Price": 1000.0, "acres": 2.5}, nil)

	out, err := Standardize(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner", "saleprice", "acres"}, out.Schema.Keys)

	seen := map[string]bool{}
	for _, k := range out.Schema.Keys {
		assert.Regexp(t, keyPattern, k)
		assert.False(t, seen[k], "duplicate key %q", k)
		seen[k] = true
	}

	assert.Equal(t, "x", out.Features[0].Attrs["owner"])
	assert.Equal(t, 1000.0, out.Features[0].Attrs["saleprice"])
}

func TestStandardize_Collision(t *testing.T) {
	in := feature.NewSet([]string{"Sale Price", "SALE PRICE"}, 0)
	in.Append(map[string]any{"Sale Price": 1.0, "SALE PRICE": 2.0}, nil)

	_, err := Standardize(in)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrSchemaCollision))
}

func TestStandardize_Idempotent(t *testing.T) {
	in := feature.NewSet([]string{"Owner Name", "ACRES"}, 3857)
	pt := geom.NewPointFlat(geom.XY, []float64{-8237642.3, 4970241.3}).SetSRID(3857)
	in.Append(map[string]any{"Owner Name": "a", "ACRES": 3.0}, pt)

	once, err := Standardize(in)
	require.NoError(t, err)
	twice, err := Standardize(once)
	require.NoError(t, err)

	assert.Equal(t, once.Schema.Keys, twice.Schema.Keys)
	assert.Equal(t, once.SRID, twice.SRID)
	require.Len(t, twice.Features, 1)
	assert.Equal(t, once.Features[0].Attrs, twice.Features[0].Attrs)
	assert.InDeltaSlice(t,
		once.Features[0].Geom.FlatCoords(),
		twice.Features[0].Geom.FlatCoords(), 1e-12)
}

func TestStandardize_WebMercatorReprojection(t *testing.T) {
	// 0,0 in 3857 is 0,0 in 4326; a known NYC-ish point round-trips.
	in := feature.NewSet([]string{"name"}, 3857)
	in.Append(map[string]any{"name": "origin"},
		geom.NewPointFlat(geom.XY, []float64{0, 0}).SetSRID(3857))
	in.Append(map[string]any{"name": "nyc"},
		geom.NewPointFlat(geom.XY, []float64{-8238310.24, 4970071.58}).SetSRID(3857))

	out, err := Standardize(in)
	require.NoError(t, err)
	assert.Equal(t, feature.CanonicalSRID, out.SRID)
	assert.False(t, out.UnverifiedCRS)

	origin := out.Features[0].Geom.FlatCoords()
	assert.InDelta(t, 0, origin[0], 1e-9)
	assert.InDelta(t, 0, origin[1], 1e-9)

	nyc := out.Features[1].Geom.FlatCoords()
	assert.InDelta(t, -74.006, nyc[0], 0.01)
	assert.InDelta(t, 40.713, nyc[1], 0.01)

	// Input untouched.
	assert.InDelta(t, -8238310.24, in.Features[1].Geom.FlatCoords()[0], 1e-6)
}

func TestStandardize_UnknownCRSFlagged(t *testing.T) {
	in := feature.NewSet([]string{"name"}, 0)
	pt := geom.NewPointFlat(geom.XY, []float64{600000, 4500000})
	in.Append(map[string]any{"name": "mystery"}, pt)

	out, err := Standardize(in)
	require.NoError(t, err)
	assert.True(t, out.UnverifiedCRS)
	// Geometry passes through unchanged.
	assert.Equal(t, pt.FlatCoords(), out.Features[0].Geom.FlatCoords())

	in2 := feature.NewSet([]string{"name"}, 26918) // UTM 18N: not convertible here
	in2.Append(map[string]any{"name": "utm"}, pt)
	out2, err := Standardize(in2)
	require.NoError(t, err)
	assert.True(t, out2.UnverifiedCRS)
}

func TestStandardize_PolygonReprojection(t *testing.T) {
	ring := []float64{0, 0, 1113194.9, 0, 1113194.9, 1118889.97, 0, 0}
	poly := geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)}).SetSRID(3857)

	in := feature.NewSet([]string{"id"}, 3857)
	in.Append(map[string]any{"id": 1.0}, poly)

	out, err := Standardize(in)
	require.NoError(t, err)
	got, ok := out.Features[0].Geom.(*geom.Polygon)
	require.True(t, ok)
	fc := got.FlatCoords()
	assert.InDelta(t, 10.0, fc[2], 0.01) // 1113194.9m ≈ 10°E
	assert.Equal(t, feature.CanonicalSRID, got.SRID())
}
