package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type Kind string

const (
	KindBoolean Kind = "boolean"
	KindNumber  Kind = "number"
	KindEnum    Kind = "enum"
	KindText    Kind = "text"
)

func (k Kind) Valid() bool {
	switch k {
	case KindBoolean, KindNumber, KindEnum, KindText:
		return true
	}
	return false
}

// Value is a typed field value. The zero Value is "not set".
type Value struct {
	kind Kind
	set  bool
	b    bool
	n    float64
	s    string
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBoolean, set: true, b: b} }

func Number(n float64) Value { return Value{kind: KindNumber, set: true, n: n} }

func Enum(s string) Value { return Value{kind: KindEnum, set: true, s: s} }

func Text(s string) Value { return Value{kind: KindText, set: true, s: s} }

func (v Value) Kind() Kind  { return v.kind }
func (v Value) IsSet() bool { return v.set }

func (v Value) AsBool() (bool, bool) {
	return v.b, v.set && v.kind == KindBoolean
}

func (v Value) AsNumber() (float64, bool) {
	return v.n, v.set && v.kind == KindNumber
}

func (v Value) AsString() (string, bool) {
	return v.s, v.set && (v.kind == KindEnum || v.kind == KindText)
}

// Equal is strict: both kind and payload must match. Two unset values are equal.
func (v Value) Equal(o Value) bool {
	if v.set != o.set {
		return false
	}
	if !v.set {
		return true
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBoolean:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	default:
		return v.s == o.s
	}
}

// Interface returns the JSON-native representation stored in entity documents.
func (v Value) Interface() any {
	if !v.set {
		return nil
	}
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindNumber:
		return v.n
	default:
		return v.s
	}
}

func (v Value) String() string {
	if !v.set {
		return "<not set>"
	}
	switch v.kind {
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	default:
		return v.s
	}
}

type valueEnvelope struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.set {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueEnvelope{Kind: v.kind, Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Null()
		return nil
	}
	var env valueEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch env.Kind {
	case KindBoolean:
		var b bool
		if err := json.Unmarshal(env.Value, &b); err != nil {
			return fmt.Errorf("catalog: boolean value: %w", err)
		}
		*v = Bool(b)
	case KindNumber:
		var n float64
		if err := json.Unmarshal(env.Value, &n); err != nil {
			return fmt.Errorf("catalog: number value: %w", err)
		}
		*v = Number(n)
	case KindEnum, KindText:
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return fmt.Errorf("catalog: %s value: %w", env.Kind, err)
		}
		if env.Kind == KindEnum {
			*v = Enum(s)
		} else {
			*v = Text(s)
		}
	default:
		return fmt.Errorf("catalog: unknown value kind %q", env.Kind)
	}
	return nil
}

// FromAny converts a raw snapshot value into a Value of the field's kind.
// Values whose JSON type does not fit the kind are kept as Text so that they
// never compare equal to a properly typed proposal.
func FromAny(kind Kind, raw any) Value {
	if raw == nil {
		return Null()
	}
	switch kind {
	case KindBoolean:
		if b, ok := raw.(bool); ok {
			return Bool(b)
		}
	case KindNumber:
		if n, ok := toFloat(raw); ok {
			return Number(n)
		}
	case KindEnum:
		if s, ok := raw.(string); ok {
			return Enum(s)
		}
	case KindText:
		if s, ok := raw.(string); ok {
			return Text(s)
		}
	}
	return Text(fmt.Sprint(raw))
}

func toFloat(raw any) (float64, bool) {
	switch t := raw.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
