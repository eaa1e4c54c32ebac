package catalog

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// FieldSpec describes one mutable field of an entity type.
type FieldSpec struct {
	Path      string   `yaml:"path" json:"path"`
	Label     string   `yaml:"label" json:"label"`
	Kind      Kind     `yaml:"kind" json:"kind"`
	Values    []string `yaml:"values,omitempty" json:"values,omitempty"`
	Min       *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	MaxLength int      `yaml:"maxLength,omitempty" json:"maxLength,omitempty"`
}

// Parse coerces a raw submitted string into a typed Value.
func (f FieldSpec) Parse(raw string) (Value, error) {
	switch f.Kind {
	case KindBoolean:
		switch raw {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		return Value{}, f.parseError(raw, `expected "true" or "false"`)
	case KindNumber:
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return Value{}, f.parseError(raw, "empty number")
		}
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return Value{}, f.parseError(raw, "not a number")
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, f.parseError(raw, "number must be finite")
		}
		if f.Min != nil && n < *f.Min {
			return Value{}, f.parseError(raw, "below minimum "+strconv.FormatFloat(*f.Min, 'f', -1, 64))
		}
		if f.Max != nil && n > *f.Max {
			return Value{}, f.parseError(raw, "above maximum "+strconv.FormatFloat(*f.Max, 'f', -1, 64))
		}
		return Number(n), nil
	case KindEnum:
		if !slices.Contains(f.Values, raw) {
			return Value{}, f.parseError(raw, "must be one of "+strings.Join(f.Values, ", "))
		}
		return Enum(raw), nil
	case KindText:
		if f.MaxLength > 0 && utf8.RuneCountInString(raw) > f.MaxLength {
			return Value{}, f.parseError(raw, "longer than "+strconv.Itoa(f.MaxLength)+" characters")
		}
		return Text(raw), nil
	}
	return Value{}, f.parseError(raw, "unsupported field kind")
}

// Check validates an already typed value against the field constraints.
// Entity stores use it to re-validate patch operations at apply time.
func (f FieldSpec) Check(v Value) error {
	if !v.IsSet() {
		return nil
	}
	if v.Kind() != f.Kind {
		return f.parseError(v.String(), "value kind "+string(v.Kind())+" does not match field kind")
	}
	_, err := f.Parse(v.String())
	return err
}

func (f FieldSpec) parseError(raw, reason string) *ParseError {
	return &ParseError{Path: f.Path, Kind: f.Kind, Raw: raw, Reason: reason}
}

// Pointer returns the RFC 6901 pointer for the dotted field path.
func (f FieldSpec) Pointer() string {
	return PathPointer(f.Path)
}

func PathPointer(path string) string {
	segments := strings.Split(path, ".")
	for i, s := range segments {
		s = strings.ReplaceAll(s, "~", "~0")
		segments[i] = strings.ReplaceAll(s, "/", "~1")
	}
	return "/" + strings.Join(segments, "/")
}

// Lookup reads a dotted path out of a nested snapshot.
func Lookup(snapshot map[string]any, path string) (any, bool) {
	var cur any = snapshot
	for _, segment := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
