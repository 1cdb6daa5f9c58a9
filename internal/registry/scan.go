package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// LayerLister enumerates the layers of a multi-layer container file. Wired to
// the geopackage reader at the call site to keep this package free of driver
// imports. Single-layer formats return one empty-string layer.
type LayerLister func(path string) ([]string, error)

// Scan walks a drop directory for geospatial files not yet in the registry
// and appends one unimported descriptor per layer. Table names are
// placeholders derived from the file and layer; operators are expected to
// review them before ingesting.
func Scan(r *Registry, dir string, listLayers LayerLister) (int, error) {
	log := zap.L().With(zap.String("component", "registry.scan"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, eris.Wrapf(err, "registry: scan %s", dir)
	}

	known := make(map[string]bool)
	for _, s := range r.Sources() {
		known[s.Location] = true
	}

	added := 0
	for _, e := range entries {
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".gpkg" && ext != ".shp" && ext != ".geojson" && ext != ".json" {
			continue
		}

		path := filepath.Join(dir, name)
		if known[path] {
			continue
		}

		layers := []string{""}
		if ext == ".gpkg" && listLayers != nil {
			layers, err = listLayers(path)
			if err != nil {
				log.Warn("skipping unreadable container",
					zap.String("path", path), zap.Error(err))
				continue
			}
		}

		for _, layer := range layers {
			s := Source{
				ID:        scanID(name, layer),
				Kind:      KindLocalFile,
				Location:  path,
				Layer:     layer,
				TableName: scanTable(name, layer),
				IsSpatial: true,
			}
			if err := r.Upsert(s); err != nil {
				return added, err
			}
			added++
			log.Info("registered local source",
				zap.String("id", s.ID), zap.String("layer", layer))
		}
	}

	return added, nil
}

func scanID(file, layer string) string {
	base := Slug(strings.TrimSuffix(file, filepath.Ext(file)))
	if layer == "" {
		return "local_" + base
	}
	return fmt.Sprintf("local_%s_%s", base, Slug(layer))
}

func scanTable(file, layer string) string {
	if layer != "" {
		return "import_" + Slug(layer)
	}
	return "import_" + Slug(strings.TrimSuffix(file, filepath.Ext(file)))
}

// Slug lowercases and keeps [a-z0-9_], mapping separators to underscores.
func Slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.':
			b.WriteRune('_')
		}
	}
	return b.String()
}
