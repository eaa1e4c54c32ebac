package catalog

import (
	"fmt"
	"slices"
	"strings"
)

type EntityType string

const (
	Agent          EntityType = "Agent"
	Vendor         EntityType = "Vendor"
	Employee       EntityType = "Employee"
	BillingDispute EntityType = "BillingDispute"
	Meter          EntityType = "Meter"
	Feeder         EntityType = "Feeder"
)

func (t EntityType) String() string { return string(t) }

type EntitySpec struct {
	Type            EntityType  `yaml:"type" json:"entityType"`
	LabelPath       string      `yaml:"labelPath" json:"labelPath"`
	ReferencePrefix string      `yaml:"referencePrefix" json:"referencePrefix"`
	Fields          []FieldSpec `yaml:"fields" json:"fields"`
}

// Catalog is the read-only registry of mutable fields per entity type.
// It is never modified after New returns.
type Catalog struct {
	order    []EntityType
	entities map[EntityType]EntitySpec
	fields   map[EntityType]map[string]FieldSpec
}

func New(specs ...EntitySpec) (*Catalog, error) {
	c := &Catalog{
		entities: make(map[EntityType]EntitySpec, len(specs)),
		fields:   make(map[EntityType]map[string]FieldSpec, len(specs)),
	}
	for _, spec := range specs {
		if strings.TrimSpace(string(spec.Type)) == "" {
			return nil, fmt.Errorf("catalog: entity type is required")
		}
		if _, dup := c.entities[spec.Type]; dup {
			return nil, fmt.Errorf("catalog: entity type %s declared twice", spec.Type)
		}
		if strings.TrimSpace(spec.ReferencePrefix) == "" {
			return nil, fmt.Errorf("catalog: %s: referencePrefix is required", spec.Type)
		}
		byPath := make(map[string]FieldSpec, len(spec.Fields))
		for i, f := range spec.Fields {
			if err := validateField(f); err != nil {
				return nil, fmt.Errorf("catalog: %s field #%d: %w", spec.Type, i, err)
			}
			if _, dup := byPath[f.Path]; dup {
				return nil, fmt.Errorf("catalog: %s: field %q declared twice", spec.Type, f.Path)
			}
			f.Values = slices.Clone(f.Values)
			byPath[f.Path] = f
		}
		spec.Fields = slices.Clone(spec.Fields)
		c.order = append(c.order, spec.Type)
		c.entities[spec.Type] = spec
		c.fields[spec.Type] = byPath
	}
	return c, nil
}

func validateField(f FieldSpec) error {
	if strings.TrimSpace(f.Path) == "" {
		return fmt.Errorf("path is required")
	}
	for _, segment := range strings.Split(f.Path, ".") {
		if segment == "" {
			return fmt.Errorf("path %q has an empty segment", f.Path)
		}
	}
	if !f.Kind.Valid() {
		return fmt.Errorf("path %q: unknown kind %q", f.Path, f.Kind)
	}
	if f.Kind == KindEnum && len(f.Values) == 0 {
		return fmt.Errorf("path %q: enum requires values", f.Path)
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("path %q: min is greater than max", f.Path)
	}
	if f.MaxLength < 0 {
		return fmt.Errorf("path %q: maxLength must be non-negative", f.Path)
	}
	return nil
}

// Resolve returns the field spec for a path on the given entity type.
func (c *Catalog) Resolve(entityType EntityType, path string) (FieldSpec, error) {
	fields, ok := c.fields[entityType]
	if !ok {
		return FieldSpec{}, &UnknownEntityTypeError{EntityType: string(entityType)}
	}
	f, ok := fields[path]
	if !ok {
		return FieldSpec{}, &UnknownPathError{EntityType: entityType, Path: path}
	}
	return f, nil
}

func (c *Catalog) Entity(entityType EntityType) (EntitySpec, error) {
	spec, ok := c.entities[entityType]
	if !ok {
		return EntitySpec{}, &UnknownEntityTypeError{EntityType: string(entityType)}
	}
	spec.Fields = slices.Clone(spec.Fields)
	return spec, nil
}

func (c *Catalog) EntityTypes() []EntityType {
	return slices.Clone(c.order)
}

// ParseEntityType matches raw case-insensitively against the declared entity types.
func (c *Catalog) ParseEntityType(raw string) (EntityType, error) {
	raw = strings.TrimSpace(raw)
	for _, t := range c.order {
		if strings.EqualFold(string(t), raw) {
			return t, nil
		}
	}
	return "", &UnknownEntityTypeError{EntityType: raw}
}

// Label returns the display label of an entity snapshot, falling back to its id.
func (c *Catalog) Label(entityType EntityType, entityID string, snapshot map[string]any) string {
	spec, ok := c.entities[entityType]
	if ok && spec.LabelPath != "" {
		if v, found := Lookup(snapshot, spec.LabelPath); found && v != nil {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	return entityID
}
