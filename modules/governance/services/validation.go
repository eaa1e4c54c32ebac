package services

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
)

var useValidator = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
})

// fieldErrors runs struct validation and converts the result into field errors.
func fieldErrors(params any) []changerequest.FieldError {
	err := useValidator().Struct(params)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []changerequest.FieldError{{Field: "request", Code: changerequest.CodeInvalid, Message: err.Error()}}
	}

	out := make([]changerequest.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		code := changerequest.CodeInvalid
		msg := field + " is invalid"
		switch fe.Tag() {
		case "required", "notblank":
			code = changerequest.CodeRequired
			msg = field + " is required"
		case "max":
			msg = field + " must be at most " + fe.Param() + " characters"
		}
		out = append(out, changerequest.FieldError{Field: field, Code: code, Message: msg})
	}
	return out
}
