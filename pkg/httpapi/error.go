package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

const maxBodyBytes = 1 << 20

// ErrorEnvelope standardizes JSON error responses for API namespaces.
type ErrorEnvelope struct {
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, message string, meta map[string]any) error {
	return WriteJSON(w, status, &ErrorEnvelope{
		Code:    code,
		Message: message,
		Meta:    meta,
	})
}

// DecodeJSON reads a single JSON object from r into dst. Unknown fields and
// trailing data are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, "invalid JSON body")
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}
