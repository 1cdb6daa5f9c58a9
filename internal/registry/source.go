// Package registry persists the list of known ingestible sources. The
// registry file is the single source of truth for "already imported": the
// locator and the directory scanner append to it, the orchestrator flips
// imported flags, nothing deletes entries automatically.
package registry

import "github.com/rotisserie/eris"

// Kind selects the fetch strategy for a source.
type Kind string

const (
	KindLocalFile           Kind = "local_file"
	KindArchivedGeodatabase Kind = "archived_geodatabase"
	KindRESTService         Kind = "rest_service"
	KindGeoPackageURL       Kind = "geopackage_url"
)

// Valid reports whether the kind is one the pipeline knows.
func (k Kind) Valid() bool {
	switch k {
	case KindLocalFile, KindArchivedGeodatabase, KindRESTService, KindGeoPackageURL:
		return true
	}
	return false
}

// Source describes one ingestible dataset. ID is immutable once created;
// Imported only ever goes false -> true on the ingestion path.
type Source struct {
	ID        string `yaml:"id"`
	Kind      Kind   `yaml:"kind"`
	Location  string `yaml:"location"`
	Layer     string `yaml:"layer,omitempty"`
	TableName string `yaml:"table_name"`
	IsSpatial bool   `yaml:"is_spatial"`
	Imported  bool   `yaml:"imported"`
}

// Validate checks the descriptor's required fields.
func (s Source) Validate() error {
	if s.ID == "" {
		return eris.New("registry: source missing id")
	}
	if !s.Kind.Valid() {
		return eris.Errorf("registry: source %s has unknown kind %q", s.ID, s.Kind)
	}
	if s.Location == "" {
		return eris.Errorf("registry: source %s missing location", s.ID)
	}
	if s.TableName == "" {
		return eris.Errorf("registry: source %s missing table_name", s.ID)
	}
	// Archived containers are multi-layer by definition; the layer must be named.
	if s.Kind == KindArchivedGeodatabase && s.Layer == "" {
		return eris.Errorf("registry: source %s requires a layer for kind %s", s.ID, s.Kind)
	}
	return nil
}
