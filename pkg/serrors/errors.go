package serrors

import (
	"errors"
	"fmt"
)

// BaseError is a coded error that the presentation layer can localize or
// render without parsing the message.
type BaseError struct {
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	LocaleKey    string            `json:"locale_key,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
}

func NewError(code, message, localeKey string) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		LocaleKey: localeKey,
	}
}

func (e *BaseError) Error() string {
	return e.Message
}

// Is matches on Code so that copies produced by WithTemplateData still
// compare equal to the sentinel they came from.
func (e *BaseError) Is(target error) bool {
	var other *BaseError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// WithTemplateData returns a copy carrying the given template data.
func (e *BaseError) WithTemplateData(data map[string]string) *BaseError {
	cp := *e
	cp.TemplateData = make(map[string]string, len(data))
	for k, v := range data {
		cp.TemplateData[k] = v
	}
	return &cp
}

func NewFieldRequiredError(field, localeKey string) *BaseError {
	return NewError(
		"FIELD_REQUIRED",
		fmt.Sprintf("%s is required", field),
		localeKey,
	).WithTemplateData(map[string]string{"field": field})
}
