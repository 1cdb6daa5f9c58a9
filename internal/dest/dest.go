// Package dest loads standardized feature sets into destination stores. Every
// loader replaces the whole table: re-importing a source is idempotent and
// never duplicates rows.
package dest

import (
	"context"

	"github.com/parcelworks/geoharvest/internal/feature"
)

// Loader writes a feature set into one destination store.
type Loader interface {
	// Name identifies the destination in logs and reports.
	Name() string

	// Replace swaps the table's contents for the given set. Readers never
	// observe a partial load.
	Replace(ctx context.Context, table string, set *feature.Set) (int64, error)

	// Close releases the underlying connection.
	Close() error
}

// attrValues extracts one feature's attribute values in schema key order.
// Missing attributes become NULL.
func attrValues(f feature.Feature, keys []string) []any {
	vals := make([]any, len(keys))
	for i, k := range keys {
		vals[i] = f.Attrs[k]
	}
	return vals
}
