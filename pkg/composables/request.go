package composables

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/voltgrid/opsconsole/pkg/constants"
)

var (
	ErrNoActor = errors.New("actor not found in context")
)

// WithLogger returns a new context carrying a request-scoped logger.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the request-scoped logger, or the standard logger when none is set.
func UseLogger(ctx context.Context) *logrus.Entry {
	if logger, ok := ctx.Value(constants.LoggerKey).(*logrus.Entry); ok && logger != nil {
		return logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// WithActor stores the identifier of the authenticated caller.
// Authentication itself happens upstream; this only carries the result.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, constants.ActorKey, strings.TrimSpace(actor))
}

func UseActor(ctx context.Context) (string, error) {
	actor, ok := ctx.Value(constants.ActorKey).(string)
	if !ok || actor == "" {
		return "", ErrNoActor
	}
	return actor, nil
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, constants.RequestIDKey, requestID)
}

func UseRequestID(ctx context.Context) string {
	v, _ := ctx.Value(constants.RequestIDKey).(string)
	return v
}
