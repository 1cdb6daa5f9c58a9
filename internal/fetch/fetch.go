// Package fetch turns a registry source descriptor into a canonical feature
// set. Three interchangeable strategies cover the source kinds: local files,
// archived multi-layer containers downloaded over http(s)/ftp, and paginated
// REST feature services.
package fetch

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/parcelworks/geoharvest/internal/feature"
	"github.com/parcelworks/geoharvest/internal/registry"
)

// Error taxonomy shared by all fetchers. Callers match with eris.Is.
var (
	ErrFileNotFound         = eris.New("fetch: file not found")
	ErrLayerNotFound        = eris.New("fetch: layer not found")
	ErrDownload             = eris.New("fetch: download failed")
	ErrArchiveCorrupt       = eris.New("fetch: archive corrupt")
	ErrContainerNotFound    = eris.New("fetch: no geodatabase container in archive")
	ErrUnsupportedContainer = eris.New("fetch: unsupported container format")
	ErrParse                = eris.New("fetch: response body is not valid GeoJSON")
)

// Fetcher produces a feature set for one source descriptor.
type Fetcher interface {
	Fetch(ctx context.Context, src registry.Source) (*feature.Set, error)
}

// Dispatcher routes each source kind to its fetcher.
type Dispatcher struct {
	local   Fetcher
	archive Fetcher
	rest    Fetcher
}

// NewDispatcher wires the three strategies behind one Fetcher.
func NewDispatcher(client *Client, tempDir string) *Dispatcher {
	return &Dispatcher{
		local:   &Local{},
		archive: NewArchive(client, tempDir),
		rest:    NewREST(client),
	}
}

// Fetch selects the fetcher matching the descriptor's kind.
func (d *Dispatcher) Fetch(ctx context.Context, src registry.Source) (*feature.Set, error) {
	switch src.Kind {
	case registry.KindLocalFile:
		return d.local.Fetch(ctx, src)
	case registry.KindArchivedGeodatabase, registry.KindGeoPackageURL:
		return d.archive.Fetch(ctx, src)
	case registry.KindRESTService:
		return d.rest.Fetch(ctx, src)
	default:
		return nil, eris.Errorf("fetch: no fetcher for kind %q", src.Kind)
	}
}
