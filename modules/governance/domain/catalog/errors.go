package catalog

import "fmt"

type UnknownEntityTypeError struct {
	EntityType string
}

func (e *UnknownEntityTypeError) Error() string {
	return fmt.Sprintf("catalog: unknown entity type %q", e.EntityType)
}

type UnknownPathError struct {
	EntityType EntityType
	Path       string
}

func (e *UnknownPathError) Error() string {
	return fmt.Sprintf("catalog: %s has no mutable field %q", e.EntityType, e.Path)
}

type ParseError struct {
	Path   string
	Kind   Kind
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("catalog: %s: cannot parse %q as %s: %s", e.Path, e.Raw, e.Kind, e.Reason)
}
