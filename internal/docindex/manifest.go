package docindex

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the serialized form of an Index, generated ahead of time so a
// deployment can skip walking the asset root.
type Manifest struct {
	Generated time.Time `yaml:"generated"`
	Folders   []Folder  `yaml:"folders"`
}

// WriteManifest encodes idx as YAML.
func WriteManifest(w io.Writer, idx *Index, now time.Time) error {
	m := Manifest{Generated: now.UTC(), Folders: idx.Folders()}
	if m.Folders == nil {
		m.Folders = []Folder{}
	}
	e := yaml.NewEncoder(w)
	e.SetIndent(2)
	if err := e.Encode(&m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return e.Close()
}

// ReadManifest decodes a manifest written by WriteManifest.
func ReadManifest(r io.Reader) (*Index, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return New(nil), nil
		}
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	for _, f := range m.Folders {
		if f.Name == "" {
			return nil, errors.New("manifest folder without name")
		}
		for _, e := range f.Entries {
			if e.Name == "" || e.Path == "" {
				return nil, fmt.Errorf("manifest entry in %q without name or path", f.Name)
			}
		}
	}
	return New(m.Folders), nil
}
