// Package feature defines the canonical in-memory representation of a table
// of geographic features, independent of the source format. Fetchers build a
// Set, the standardizer rewrites it once, and a destination loader consumes
// it exactly once; it is never persisted as-is.
package feature

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// CanonicalSRID is the output projection every spatial set is normalized to.
const CanonicalSRID = 4326

// Type is the best-effort scalar type of an attribute column.
type Type int

const (
	TypeText Type = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
)

// String returns the SQL-ish name of the type.
func (t Type) String() string {
	switch t {
	case TypeInt:
		return "bigint"
	case TypeFloat:
		return "double precision"
	case TypeBool:
		return "boolean"
	case TypeTime:
		return "timestamptz"
	default:
		return "text"
	}
}

// Schema is the shared attribute layout of a Set: key order is significant
// and every feature in the set carries exactly these keys.
type Schema struct {
	Keys  []string
	Types map[string]Type
}

// TypeOf returns the inferred type for a key, defaulting to text.
func (s Schema) TypeOf(key string) Type {
	if t, ok := s.Types[key]; ok {
		return t
	}
	return TypeText
}

// Feature is one row: attribute values keyed by schema key, plus at most one
// geometry. Geom is nil for non-spatial sources.
type Feature struct {
	Attrs map[string]any
	Geom  geom.T
}

// Set is an ordered sequence of features sharing one schema and one CRS.
type Set struct {
	Schema   Schema
	Features []Feature

	// SRID is the EPSG code of every geometry in the set; 0 means the
	// source did not declare one.
	SRID int

	// UnverifiedCRS marks a set whose CRS could not be confirmed or
	// converted; geometry passed through untouched.
	UnverifiedCRS bool
}

// NewSet builds a Set from explicit keys and rows, inferring column types
// from the first non-nil value seen per key.
func NewSet(keys []string, srid int) *Set {
	return &Set{
		Schema: Schema{
			Keys:  append([]string(nil), keys...),
			Types: make(map[string]Type, len(keys)),
		},
		SRID: srid,
	}
}

// Append adds one feature, updating type inference for keys not yet typed.
func (s *Set) Append(attrs map[string]any, g geom.T) {
	for _, k := range s.Schema.Keys {
		if _, typed := s.Schema.Types[k]; typed {
			continue
		}
		if v, ok := attrs[k]; ok && v != nil {
			s.Schema.Types[k] = InferType(v)
		}
	}
	s.Features = append(s.Features, Feature{Attrs: attrs, Geom: g})
}

// Spatial reports whether any feature carries geometry.
func (s *Set) Spatial() bool {
	for _, f := range s.Features {
		if f.Geom != nil {
			return true
		}
	}
	return false
}

// Validate checks the set-level invariant: every feature's attribute keys are
// a subset of the schema keys.
func (s *Set) Validate() error {
	known := make(map[string]bool, len(s.Schema.Keys))
	for _, k := range s.Schema.Keys {
		known[k] = true
	}
	for i, f := range s.Features {
		for k := range f.Attrs {
			if !known[k] {
				return eris.Errorf("feature: row %d has attribute %q not in schema", i, k)
			}
		}
	}
	return nil
}

// InferType maps a scalar value to its column type.
func InferType(v any) Type {
	switch x := v.(type) {
	case bool:
		return TypeBool
	case int, int32, int64:
		return TypeInt
	case float32:
		return TypeFloat
	case float64:
		// JSON numbers arrive as float64; keep whole values as bigint.
		if x == float64(int64(x)) {
			return TypeInt
		}
		return TypeFloat
	case time.Time:
		return TypeTime
	default:
		return TypeText
	}
}
