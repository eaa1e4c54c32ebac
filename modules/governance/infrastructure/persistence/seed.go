package persistence

import (
	"os"
	"slices"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
)

// Seed holds entity documents keyed by entity type, then entity id.
type Seed map[catalog.EntityType]map[string]map[string]any

// ParseSeed reads a YAML (or JSON) seed document:
//
//	Agent:
//	  "42": {name: Kano North, status: ACTIVE}
func ParseSeed(c *catalog.Catalog, data []byte) (Seed, error) {
	raw := map[string]map[string]map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode seed")
	}
	out := make(Seed, len(raw))
	for name, docs := range raw {
		et, err := c.ParseEntityType(name)
		if err != nil {
			return nil, errors.Wrap(err, "seed")
		}
		out[et] = docs
	}
	return out, nil
}

func LoadSeedFile(c *catalog.Catalog, path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read seed")
	}
	return ParseSeed(c, data)
}

// Each visits every document ordered by entity type, then id.
func (s Seed) Each(fn func(entityType catalog.EntityType, entityID string, document map[string]any) error) error {
	types := make([]catalog.EntityType, 0, len(s))
	for et := range s {
		types = append(types, et)
	}
	slices.Sort(types)
	for _, et := range types {
		ids := make([]string, 0, len(s[et]))
		for id := range s[et] {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			if err := fn(et, id, s[et][id]); err != nil {
				return errors.Wrapf(err, "seed %s %s", et, id)
			}
		}
	}
	return nil
}
