package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

type document struct {
	Entities []EntitySpec `yaml:"entities"`
}

// Parse builds a Catalog from its YAML representation. Unknown keys are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode yaml: %w", err)
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("catalog: no entities declared")
	}
	return New(doc.Entities...)
}

func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
})

// Default returns the embedded console catalog. It is parsed once per process.
func Default() (*Catalog, error) {
	return defaultCatalog()
}

// Load returns the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}
