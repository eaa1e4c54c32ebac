package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/voltgrid/opsconsole/pkg/httpapi"
)

const rateLimitPrefix = "opsconsole:ratelimit"

type RateLimitConfig struct {
	RequestsPerPeriod  int
	Period             time.Duration
	Store              limiter.Store
	TrustForwardHeader bool
}

func NewMemoryStore() limiter.Store {
	return memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          rateLimitPrefix,
		CleanUpInterval: time.Minute,
	})
}

func NewRedisStore(redisURL string) (limiter.Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse rate limit redis url")
	}
	store, err := sredis.NewStoreWithOptions(redis.NewClient(opts), limiter.StoreOptions{
		Prefix:   rateLimitPrefix,
		MaxRetry: 3,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create rate limit redis store")
	}
	return store, nil
}

// RateLimit limits requests per client IP. A non-positive rate disables it.
func RateLimit(cfg RateLimitConfig) mux.MiddlewareFunc {
	if cfg.RequestsPerPeriod <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	period := cfg.Period
	if period <= 0 {
		period = time.Second
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	instance := limiter.New(store, limiter.Rate{Period: period, Limit: int64(cfg.RequestsPerPeriod)},
		limiter.WithTrustForwardHeader(cfg.TrustForwardHeader))
	mw := stdlib.NewMiddleware(instance,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			_ = httpapi.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
		}),
	)
	return mw.Handler
}
