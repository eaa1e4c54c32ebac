package server

import (
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"

	"github.com/voltgrid/opsconsole/pkg/application"
	"github.com/voltgrid/opsconsole/pkg/configuration"
	"github.com/voltgrid/opsconsole/pkg/middleware"
	"github.com/voltgrid/opsconsole/pkg/server"
)

type DefaultOptions struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Application   application.Application
	Pool          *pgxpool.Pool
}

func Default(options *DefaultOptions) (*server.HTTPServer, error) {
	app := options.Application
	conf := options.Configuration

	loggerOpts := middleware.DefaultLoggerOptions()
	loggerOpts.RequestIDHeader = conf.RequestIDHeader
	loggerOpts.RealIPHeader = conf.RealIPHeader

	// WithLogger opens the root span for each request.
	middlewares := []mux.MiddlewareFunc{
		middleware.WithLogger(options.Logger, loggerOpts),

		middleware.TracedMiddleware("database"),
		middleware.WithPool(options.Pool),

		middleware.TracedMiddleware("cors"),
		middleware.Cors(conf.CORSOrigins...),
	}

	if conf.RateLimit.Enabled {
		middlewares = append(middlewares,
			middleware.TracedMiddleware("rateLimit"),
			middleware.RateLimit(middleware.RateLimitConfig{
				RequestsPerPeriod: conf.RateLimit.GlobalRPS,
				Period:            time.Second,
				Store:             rateLimitStore(options.Logger, conf.RateLimit),
			}),
		)
	}

	app.RegisterMiddleware(middlewares...)
	return server.NewHTTPServer(app, server.NotFound(), server.MethodNotAllowed()), nil
}

func rateLimitStore(logger *logrus.Logger, opts configuration.RateLimitOptions) limiter.Store {
	if opts.Storage != "redis" {
		return middleware.NewMemoryStore()
	}
	store, err := middleware.NewRedisStore(opts.RedisURL)
	if err != nil {
		logger.WithError(err).Warn("Failed to create Redis store for rate limiting, falling back to memory")
		return middleware.NewMemoryStore()
	}
	return store
}
