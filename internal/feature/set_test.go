package feature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestInferType(t *testing.T) {
	assert.Equal(t, TypeBool, InferType(true))
	assert.Equal(t, TypeInt, InferType(int64(7)))
	assert.Equal(t, TypeInt, InferType(42.0)) // whole JSON number
	assert.Equal(t, TypeFloat, InferType(3.14))
	assert.Equal(t, TypeTime, InferType(time.Now()))
	assert.Equal(t, TypeText, InferType("hello"))
	assert.Equal(t, TypeText, InferType(nil))
}

func TestSet_AppendInfersTypes(t *testing.T) {
	s := NewSet([]string{"name", "acres"}, CanonicalSRID)

	// First row has a nil acres; type stays open until a value arrives.
	s.Append(map[string]any{"name": "a", "acres": nil}, nil)
	assert.Equal(t, TypeText, s.Schema.TypeOf("acres"))

	s.Append(map[string]any{"name": "b", "acres": 12.5}, nil)
	assert.Equal(t, TypeFloat, s.Schema.TypeOf("acres"))
	assert.Equal(t, TypeText, s.Schema.TypeOf("name"))
	assert.Len(t, s.Features, 2)
}

func TestSet_Spatial(t *testing.T) {
	s := NewSet([]string{"name"}, CanonicalSRID)
	s.Append(map[string]any{"name": "a"}, nil)
	assert.False(t, s.Spatial())

	pt := geom.NewPointFlat(geom.XY, []float64{-73.9, 42.7}).SetSRID(CanonicalSRID)
	s.Append(map[string]any{"name": "b"}, pt)
	assert.True(t, s.Spatial())
}

func TestSet_Validate(t *testing.T) {
	s := NewSet([]string{"name"}, 0)
	s.Append(map[string]any{"name": "ok"}, nil)
	require.NoError(t, s.Validate())

	s.Features = append(s.Features, Feature{Attrs: map[string]any{"rogue": 1}})
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rogue")
}

func TestFromGeoJSON(t *testing.T) {
	body := `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "geometry": {"type": "Point", "coordinates": [-73.75, 42.65]},
			 "properties": {"NAME": "Albany", "ACRES": 21.5}},
			{"type": "Feature", "geometry": {"type": "Point", "coordinates": [-78.87, 42.88]},
			 "properties": {"NAME": "Buffalo", "ACRES": 40}}
		]
	}`

	set, err := FromGeoJSON([]byte(body), 4326)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACRES", "NAME"}, set.Schema.Keys)
	assert.Equal(t, 4326, set.SRID)
	require.Len(t, set.Features, 2)
	assert.Equal(t, "Albany", set.Features[0].Attrs["NAME"])
	require.NotNil(t, set.Features[0].Geom)
	assert.InDelta(t, -73.75, set.Features[0].Geom.FlatCoords()[0], 1e-9)
}

func TestFromGeoJSON_Invalid(t *testing.T) {
	_, err := FromGeoJSON([]byte(`{"type": "FeatureCollection", "features": [{`), 0)
	require.Error(t, err)
}
