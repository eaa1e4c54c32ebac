package middleware

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/voltgrid/opsconsole/pkg/composables"
	"github.com/voltgrid/opsconsole/pkg/httpapi"
)

// RequireActor reads the caller identity set by the upstream auth proxy from
// header. Requests without it are rejected with 401.
func RequireActor(header string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := strings.TrimSpace(r.Header.Get(header))
			if actor == "" {
				_ = httpapi.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", header+" header is required", nil)
				return
			}
			ctx := composables.WithActor(r.Context(), actor)
			ctx = composables.WithLogger(ctx, composables.UseLogger(ctx).WithField("actor", actor))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
