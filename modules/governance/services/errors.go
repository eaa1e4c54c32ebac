package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

// wrapError classifies a domain error. Domain errors stay reachable through
// errors.As; anything unrecognized becomes a 500.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}

	var (
		verr *changerequest.ValidationError
		ist  *changerequest.InvalidStateTransitionError
		nf   *changerequest.NotFoundError
		enf  *changerequest.EntityNotFoundError
		conf *changerequest.ConflictError
		ute  *catalog.UnknownEntityTypeError
	)
	switch {
	case errors.As(err, &verr):
		return newServiceError(http.StatusUnprocessableEntity, "CR_VALIDATION_FAILED", "change request is invalid", err)
	case errors.Is(err, changerequest.ErrNoEffectiveChanges):
		return newServiceError(http.StatusUnprocessableEntity, "CR_NO_EFFECTIVE_CHANGES", "every proposed change equals the current value", err)
	case errors.As(err, &ist):
		return newServiceError(http.StatusConflict, "CR_INVALID_STATE_TRANSITION", ist.Error(), err)
	case errors.As(err, &nf):
		return newServiceError(http.StatusNotFound, "CR_NOT_FOUND", "change request not found", err)
	case errors.As(err, &enf):
		return newServiceError(http.StatusNotFound, "CR_ENTITY_NOT_FOUND", enf.Error(), err)
	case errors.As(err, &conf):
		return newServiceError(http.StatusConflict, "CR_CONFLICT", conf.Error(), err)
	case errors.As(err, &ute):
		return newServiceError(http.StatusNotFound, "CR_UNKNOWN_ENTITY_TYPE", ute.Error(), err)
	default:
		return newServiceError(http.StatusInternalServerError, "CR_INTERNAL", "internal error", err)
	}
}

// rejectionReason is the metrics label for a failed operation.
func rejectionReason(err error) string {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		return "other"
	}
	switch svcErr.Code {
	case "CR_VALIDATION_FAILED":
		return "validation"
	case "CR_NO_EFFECTIVE_CHANGES":
		return "no_effective_changes"
	case "CR_INVALID_STATE_TRANSITION":
		return "invalid_state_transition"
	case "CR_NOT_FOUND", "CR_ENTITY_NOT_FOUND", "CR_UNKNOWN_ENTITY_TYPE":
		return "not_found"
	case "CR_CONFLICT":
		return "conflict"
	default:
		return "other"
	}
}
