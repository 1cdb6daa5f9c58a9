package registry

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrCorrupt marks a registry file that cannot be trusted: malformed YAML,
// duplicate ids, or invalid descriptors. Fatal to a run; there is no safe
// partial recovery without a valid source list.
var ErrCorrupt = eris.New("registry: corrupt registry file")

// ErrUnknownSource is returned when an id is not in the registry.
var ErrUnknownSource = eris.New("registry: unknown source id")

type fileFormat struct {
	Sources []Source `yaml:"sources"`
}

// Registry is the in-memory view of one registry file. All mutation goes
// through a single mutex so concurrent source workers never interleave
// partial updates.
type Registry struct {
	mu      sync.Mutex
	path    string
	sources []Source
	index   map[string]int
}

// Load reads and validates the registry file. A missing file is an empty
// registry, not an error; anything unparseable is ErrCorrupt.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, index: make(map[string]int)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}

	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, eris.Wrapf(ErrCorrupt, "%s: %v", path, err)
	}

	for _, s := range f.Sources {
		if err := s.Validate(); err != nil {
			return nil, eris.Wrapf(ErrCorrupt, "%s: %v", path, err)
		}
		if _, dup := r.index[s.ID]; dup {
			return nil, eris.Wrapf(ErrCorrupt, "%s: duplicate source id %q", path, s.ID)
		}
		r.index[s.ID] = len(r.sources)
		r.sources = append(r.sources, s)
	}

	return r, nil
}

// Save rewrites the whole registry file atomically (temp file + rename).
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

func (r *Registry) saveLocked() error {
	out, err := yaml.Marshal(fileFormat{Sources: r.sources})
	if err != nil {
		return eris.Wrap(err, "registry: marshal")
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "registry: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.yaml")
	if err != nil {
		return eris.Wrap(err, "registry: create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "registry: write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "registry: close temp file")
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrapf(err, "registry: replace %s", r.path)
	}
	return nil
}

// Sources returns a copy of all descriptors in registry order.
func (r *Registry) Sources() []Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Unimported returns the descriptors still awaiting ingestion, in order.
func (r *Registry) Unimported() []Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Source
	for _, s := range r.sources {
		if !s.Imported {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the descriptor for an id.
func (r *Registry) Get(id string) (Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return Source{}, eris.Wrapf(ErrUnknownSource, "%s", id)
	}
	return r.sources[i], nil
}

// Upsert adds a descriptor or refreshes the existing one with the same id.
// On rediscovery the endpoint is overwritten in place; a changed location
// resets the imported flag (the old import no longer covers the new data),
// while an identical location preserves it.
func (r *Registry) Upsert(s Source) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[s.ID]
	if !ok {
		r.index[s.ID] = len(r.sources)
		r.sources = append(r.sources, s)
		return nil
	}

	prev := r.sources[i]
	if prev.Location == s.Location {
		s.Imported = prev.Imported
	} else {
		zap.L().Info("registry: source endpoint changed, resetting import flag",
			zap.String("id", s.ID),
			zap.String("old", prev.Location),
			zap.String("new", s.Location),
		)
		s.Imported = false
	}
	r.sources[i] = s
	return nil
}

// MarkImported flips a source's imported flag to true. The flag is monotonic:
// this is the only mutation the ingestion path performs.
func (r *Registry) MarkImported(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return eris.Wrapf(ErrUnknownSource, "%s", id)
	}
	r.sources[i].Imported = true
	return nil
}

// Len returns the number of descriptors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}
