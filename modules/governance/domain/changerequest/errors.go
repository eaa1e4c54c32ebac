package changerequest

import (
	"fmt"
	"strings"

	"github.com/voltgrid/opsconsole/pkg/serrors"
)

const (
	CodeRequired          = "REQUIRED"
	CodeUnknownEntityType = "UNKNOWN_ENTITY_TYPE"
	CodeUnknownPath       = "UNKNOWN_PATH"
	CodeParseError        = "PARSE_ERROR"
	CodeDuplicatePath     = "DUPLICATE_PATH"
	CodeInvalid           = "INVALID"
	CodeNotFound          = "NOT_FOUND"
)

var (
	ErrNoEffectiveChanges = serrors.NewError("CR_NO_EFFECTIVE_CHANGES", "every proposed change equals the current value", "Governance.Errors.NoEffectiveChanges")
	ErrStaleSnapshot      = serrors.NewError("CR_STALE_SNAPSHOT", "live value no longer matches the value recorded at submission", "Governance.Errors.StaleSnapshot")
)

// FieldError is a single problem found while validating a submission.
// Field names the offending input, e.g. "changes[1]" or "requesterComment".
type FieldError struct {
	Field   string `json:"field"`
	Path    string `json:"path,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "changerequest: validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(f FieldError) {
	e.Fields = append(e.Fields, f)
}

// Err returns e when it holds at least one field error, nil otherwise.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func RequiredField(field string) FieldError {
	return FieldError{Field: field, Code: CodeRequired, Message: field + " is required"}
}

func requiredError(field string) *ValidationError {
	return &ValidationError{Fields: []FieldError{RequiredField(field)}}
}

type InvalidStateTransitionError struct {
	Current    Status
	Transition Transition
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("changerequest: cannot %s a request in status %s", e.Transition, e.Current)
}

// ApplyFailure is a single patch operation rejected by the entity store.
type ApplyFailure struct {
	Path  string
	Cause error
}

func (e *ApplyFailure) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Path, e.Cause)
}

func (e *ApplyFailure) Unwrap() error { return e.Cause }

type NotFoundError struct {
	PublicID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("changerequest: %s not found", e.PublicID)
}

type EntityNotFoundError struct {
	EntityType string
	EntityID   string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("changerequest: %s %s not found", e.EntityType, e.EntityID)
}

// PreconditionFailedError is returned by a Repository when the persisted
// status no longer matches the expected pre-state.
type PreconditionFailedError struct {
	PublicID string
	Expected Status
	Current  Status
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("changerequest: %s status is %s, expected %s", e.PublicID, e.Current, e.Expected)
}

// ConflictError reports open requests already targeting the same entity paths.
type ConflictError struct {
	ConflictingID string
	Paths         []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("changerequest: paths %s already pending in %s", strings.Join(e.Paths, ", "), e.ConflictingID)
}
