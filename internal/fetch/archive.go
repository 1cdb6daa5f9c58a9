package fetch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parcelworks/geoharvest/internal/feature"
	"github.com/parcelworks/geoharvest/internal/registry"
)

// Archive downloads a remote container (zipped geodatabase or bare
// GeoPackage) to scoped temporary storage, reads the named layer, and always
// releases the temp directory, success or failure.
type Archive struct {
	client  *Client
	tempDir string
}

// NewArchive creates an archive fetcher rooted at tempDir.
func NewArchive(client *Client, tempDir string) *Archive {
	return &Archive{client: client, tempDir: tempDir}
}

// Fetch downloads and reads the descriptor's container.
func (a *Archive) Fetch(ctx context.Context, src registry.Source) (*feature.Set, error) {
	log := zap.L().With(
		zap.String("component", "fetch.archive"),
		zap.String("source", src.ID),
	)

	if err := os.MkdirAll(a.tempDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "fetch: create temp root %s", a.tempDir)
	}
	workDir, err := os.MkdirTemp(a.tempDir, "archive-*")
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create work dir")
	}
	defer os.RemoveAll(workDir) //nolint:errcheck

	// Bare GeoPackage URLs skip the extraction step.
	if strings.HasSuffix(strings.ToLower(src.Location), ".gpkg") {
		gpkgPath := filepath.Join(workDir, "data.gpkg")
		n, err := a.client.DownloadToFile(ctx, src.Location, gpkgPath)
		if err != nil {
			return nil, err
		}
		log.Info("geopackage downloaded", zap.Int64("bytes", n))
		return readGeoPackage(gpkgPath, src.Layer)
	}

	zipPath := filepath.Join(workDir, "data.zip")
	n, err := a.client.DownloadToFile(ctx, src.Location, zipPath)
	if err != nil {
		return nil, err
	}
	log.Info("archive downloaded", zap.Int64("bytes", n))

	extractDir := filepath.Join(workDir, "extracted")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "fetch: create extract dir")
	}
	if _, err := extractZIP(zipPath, extractDir); err != nil {
		return nil, err
	}

	container, err := findContainer(extractDir, src.Layer)
	if err != nil {
		return nil, err
	}
	log.Info("container located", zap.String("path", container))

	return readContainer(container, src.Layer)
}

// findContainer walks the extracted tree for the geodatabase container:
// a GeoPackage, the layer's shapefile, a single shapefile, or a single
// GeoJSON document. A bare ESRI .gdb directory is recognized but has no
// pure-Go reader, so it is reported as unsupported rather than silently
// skipped.
func findContainer(root, layer string) (string, error) {
	var gpkg, layerShp, gdbDir string
	var shps, geojsons []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := strings.ToLower(d.Name())
		switch {
		case d.IsDir() && strings.HasSuffix(name, ".gdb"):
			gdbDir = path
		case strings.HasSuffix(name, ".gpkg"):
			gpkg = path
		case strings.HasSuffix(name, ".shp"):
			shps = append(shps, path)
			if layer != "" && strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())) == layer {
				layerShp = path
			}
		case strings.HasSuffix(name, ".geojson"):
			geojsons = append(geojsons, path)
		}
		return nil
	})
	if err != nil {
		return "", eris.Wrapf(err, "fetch: walk %s", root)
	}

	switch {
	case gpkg != "":
		return gpkg, nil
	case layerShp != "":
		return layerShp, nil
	case len(shps) == 1:
		return shps[0], nil
	case len(shps) > 1:
		return "", eris.Wrapf(ErrLayerNotFound, "archive has %d shapefiles, none named %q", len(shps), layer)
	case len(geojsons) == 1:
		return geojsons[0], nil
	case gdbDir != "":
		return "", eris.Wrapf(ErrUnsupportedContainer, "%s: ESRI file-geodatabase directories need conversion to geopackage or shapefile", gdbDir)
	default:
		return "", eris.Wrapf(ErrContainerNotFound, "no container under %s", root)
	}
}
