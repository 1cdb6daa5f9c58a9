// Package standardize rewrites a canonical feature set into the destination
// convention: normalized attribute keys and EPSG:4326 geometry. It is pure
// (no I/O) and idempotent.
package standardize

import (
	"math"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/parcelworks/geoharvest/internal/feature"
)

// ErrSchemaCollision reports two source attribute names that normalize to the
// same key. The set must not be loaded; silently overwriting a column is
// worse than failing the source.
var ErrSchemaCollision = eris.New("standardize: attribute keys collide after normalization")

// foldMarks strips combining marks after NFKD decomposition, so accented
// source column names survive the ASCII collapse ("Área" -> "area").
var foldMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// NormalizeKey lowercases a key and removes every character outside
// [a-z0-9_]. Characters are collapsed, not replaced with underscores.
func NormalizeKey(key string) string {
	folded, _, err := transform.String(foldMarks, key)
	if err != nil {
		folded = key
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Standardize returns a new set with normalized attribute keys and geometry
// reprojected to EPSG:4326. A set without a declared CRS (or with one this
// pipeline cannot convert) passes geometry through unchanged and is flagged
// UnverifiedCRS.
func Standardize(in *feature.Set) (*feature.Set, error) {
	rename := make(map[string]string, len(in.Schema.Keys))
	taken := make(map[string]string, len(in.Schema.Keys))
	keys := make([]string, 0, len(in.Schema.Keys))

	for _, k := range in.Schema.Keys {
		nk := NormalizeKey(k)
		if prev, clash := taken[nk]; clash && prev != k {
			return nil, eris.Wrapf(ErrSchemaCollision, "%q and %q both normalize to %q", prev, k, nk)
		}
		taken[nk] = k
		rename[k] = nk
		keys = append(keys, nk)
	}

	out := feature.NewSet(keys, in.SRID)
	out.UnverifiedCRS = in.UnverifiedCRS
	for k, t := range in.Schema.Types {
		out.Schema.Types[rename[k]] = t
	}

	reproject, known := transformFor(in.SRID)
	if known {
		out.SRID = feature.CanonicalSRID
	} else {
		out.UnverifiedCRS = true
	}

	for _, f := range in.Features {
		attrs := make(map[string]any, len(f.Attrs))
		for k, v := range f.Attrs {
			attrs[rename[k]] = v
		}

		g := f.Geom
		if g != nil && known && reproject != nil {
			rg, err := reprojectGeom(g, reproject)
			if err != nil {
				return nil, eris.Wrap(err, "standardize: reproject")
			}
			g = rg
		}
		out.Features = append(out.Features, feature.Feature{Attrs: attrs, Geom: g})
	}

	return out, nil
}

// transformFor returns the coordinate transform for a source SRID, and
// whether the SRID is one this pipeline knows how to bring to 4326. A nil
// transform with known=true means coordinates are already acceptable.
func transformFor(srid int) (func(x, y float64) (float64, float64), bool) {
	switch srid {
	case feature.CanonicalSRID:
		return nil, true
	case 3857:
		return webMercatorInverse, true
	case 4269:
		// NAD83 axes coincide with WGS84 at this system's precision.
		return nil, true
	default:
		return nil, false
	}
}

const webMercatorRadius = 6378137.0

// webMercatorInverse converts EPSG:3857 meters to lon/lat degrees.
func webMercatorInverse(x, y float64) (lon, lat float64) {
	lon = x / webMercatorRadius * 180 / math.Pi
	lat = (2*math.Atan(math.Exp(y/webMercatorRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}

// reprojectGeom applies fn to every vertex, returning a new geometry of the
// same concrete type with SRID 4326. The input is not mutated.
func reprojectGeom(g geom.T, fn func(x, y float64) (float64, float64)) (geom.T, error) {
	fc := append([]float64(nil), g.FlatCoords()...)
	stride := g.Stride()
	for i := 0; i+1 < len(fc); i += stride {
		fc[i], fc[i+1] = fn(fc[i], fc[i+1])
	}

	switch gg := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(gg.Layout(), fc).SetSRID(feature.CanonicalSRID), nil
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(gg.Layout(), fc).SetSRID(feature.CanonicalSRID), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(gg.Layout(), fc).SetSRID(feature.CanonicalSRID), nil
	case *geom.MultiLineString:
		ends := append([]int(nil), gg.Ends()...)
		return geom.NewMultiLineStringFlat(gg.Layout(), fc, ends).SetSRID(feature.CanonicalSRID), nil
	case *geom.Polygon:
		ends := append([]int(nil), gg.Ends()...)
		return geom.NewPolygonFlat(gg.Layout(), fc, ends).SetSRID(feature.CanonicalSRID), nil
	case *geom.MultiPolygon:
		endss := make([][]int, len(gg.Endss()))
		for i, e := range gg.Endss() {
			endss[i] = append([]int(nil), e...)
		}
		return geom.NewMultiPolygonFlat(gg.Layout(), fc, endss).SetSRID(feature.CanonicalSRID), nil
	default:
		return nil, eris.Errorf("standardize: unsupported geometry type %T", g)
	}
}
