package fetch

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parcelworks/geoharvest/internal/feature"
	"github.com/parcelworks/geoharvest/internal/registry"
)

// Local reads geospatial files from disk: GeoJSON, shapefiles, and
// GeoPackages.
type Local struct{}

// Fetch opens the descriptor's path, selecting the reader by extension.
func (l *Local) Fetch(ctx context.Context, src registry.Source) (*feature.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(src.Location); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrFileNotFound, "%s", src.Location)
		}
		return nil, eris.Wrapf(err, "fetch: stat %s", src.Location)
	}

	zap.L().Info("reading local file",
		zap.String("component", "fetch.local"),
		zap.String("source", src.ID),
		zap.String("path", src.Location),
	)

	return readContainer(src.Location, src.Layer)
}

// readContainer reads one layer from a local geospatial file. Shared with the
// archive fetcher after extraction.
func readContainer(path, layer string) (*feature.Set, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: read %s", path)
		}
		// GeoJSON is WGS84 by specification.
		set, err := feature.FromGeoJSON(data, feature.CanonicalSRID)
		if err != nil {
			return nil, eris.Wrapf(ErrParse, "%s: %v", path, err)
		}
		return set, nil

	case ".shp":
		if layer != "" && layer != strings.TrimSuffix(filepath.Base(path), ".shp") {
			return nil, eris.Wrapf(ErrLayerNotFound, "%s: shapefile has single layer, got %q", path, layer)
		}
		return readShapefile(path)

	case ".gpkg":
		return readGeoPackage(path, layer)

	default:
		return nil, eris.Wrapf(ErrUnsupportedContainer, "%s", path)
	}
}
