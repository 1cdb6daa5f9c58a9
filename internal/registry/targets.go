package registry

import (
	"bytes"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Target is one dataset the locator should resolve: the catalog category to
// search under, the card keywords to match, and the destination purpose used
// to derive the source id and table name.
type Target struct {
	Category string `yaml:"category"`
	Keywords string `yaml:"keywords"`
	Purpose  string `yaml:"purpose"`
}

// Validate checks the target's required fields.
func (t Target) Validate() error {
	if t.Category == "" {
		return eris.New("registry: target missing category")
	}
	if t.Keywords == "" {
		return eris.New("registry: target missing keywords")
	}
	if t.Purpose == "" {
		return eris.Errorf("registry: target %q missing purpose", t.Keywords)
	}
	return nil
}

type targetFile struct {
	Targets []Target `yaml:"targets"`
}

// LoadTargets reads the ordered locator target list.
func LoadTargets(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read targets %s", path)
	}

	var f targetFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, eris.Wrapf(err, "registry: parse targets %s", path)
	}

	for _, t := range f.Targets {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Targets, nil
}
