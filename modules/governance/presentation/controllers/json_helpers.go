package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/modules/governance/services"
	"github.com/voltgrid/opsconsole/pkg/composables"
	"github.com/voltgrid/opsconsole/pkg/httpapi"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := httpapi.WriteJSON(w, status, payload); err != nil {
		panic(err)
	}
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	if requestID := composables.UseRequestID(r.Context()); requestID != "" {
		meta["request_id"] = requestID
	}
	if err := httpapi.WriteError(w, status, code, message, meta); err != nil {
		panic(err)
	}
}

// writeServiceError renders a service failure. Field errors, conflicts and
// the current status of a rejected transition travel in meta.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *services.ServiceError
	if !errors.As(err, &svcErr) {
		composables.UseLogger(r.Context()).WithError(err).Error("governance api: unclassified error")
		writeAPIError(w, r, http.StatusInternalServerError, "CR_INTERNAL", "internal error", nil)
		return
	}

	meta := map[string]any{}
	var (
		verr     *changerequest.ValidationError
		conflict *changerequest.ConflictError
		ist      *changerequest.InvalidStateTransitionError
	)
	switch {
	case errors.As(err, &verr):
		meta["fields"] = verr.Fields
	case errors.As(err, &conflict):
		meta["conflictingId"] = conflict.ConflictingID
		meta["paths"] = conflict.Paths
	case errors.As(err, &ist):
		meta["current"] = ist.Current
	}

	if svcErr.Status >= http.StatusInternalServerError {
		composables.UseLogger(r.Context()).WithError(err).Error("governance api: request failed")
	}
	writeAPIError(w, r, svcErr.Status, svcErr.Code, svcErr.Message, meta)
}

// decodeOptionalJSON accepts an empty body as the zero value.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := httpapi.DecodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
