package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteError(rec, http.StatusConflict, "CR_CONFLICT", "already pending", map[string]any{"paths": []string{"status"}}))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"code":"CR_CONFLICT","message":"already pending","meta":{"paths":["status"]}}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Reason string `json:"reason"`
	}

	cases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"ok", `{"reason":"duplicate"}`, false},
		{"unknown field", `{"reason":"x","extra":1}`, true},
		{"trailing data", `{"reason":"x"}{"reason":"y"}`, true},
		{"malformed", `{"reason":`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.payload))
			var b body
			err := DecodeJSON(r, &b)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "duplicate", b.Reason)
		})
	}
}
