package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

func Cors(allowOrigins ...string) mux.MiddlewareFunc {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Actor-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
	})
	return c.Handler
}
