package eventbus

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/opsconsole/pkg/logging"
)

type statusChanged struct {
	publicID string
	status   string
}

type unrelated struct{}

func bufferedLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(buf)
	log.SetLevel(level)
	return log, buf
}

func TestPublisher_PublishDeliversToMatchingHandlers(t *testing.T) {
	publisher := NewEventPublisher(logging.ConsoleLogger(logrus.WarnLevel))

	var got []string
	publisher.Subscribe(func(e *statusChanged) { got = append(got, "first:"+e.status) })
	publisher.Subscribe(func(e *unrelated) { t.Error("should not be called") })
	publisher.Subscribe(func(e *statusChanged) { got = append(got, "second:"+e.status) })

	publisher.Publish(&statusChanged{publicID: "cr-1", status: "Approved"})

	require.Equal(t, []string{"first:Approved", "second:Approved"}, got)
}

func TestPublisher_PublishWarnsWithoutSubscribers(t *testing.T) {
	log, buf := bufferedLogger(logrus.WarnLevel)
	publisher := NewEventPublisher(log)
	publisher.Subscribe(func(e *unrelated) {})

	publisher.Publish(&statusChanged{})

	require.Contains(t, buf.String(), "eventbus.Publish: no matching subscribers")
}

func TestPublisher_PanicDoesNotStopOtherHandlers(t *testing.T) {
	log, buf := bufferedLogger(logrus.ErrorLevel)
	publisher := NewEventPublisher(log)

	called := false
	publisher.Subscribe(func(e *statusChanged) { panic("notifier exploded") })
	publisher.Subscribe(func(e *statusChanged) { called = true })

	publisher.Publish(&statusChanged{status: "Declined"})

	require.True(t, called)
	require.Contains(t, buf.String(), "panicked")
	require.Contains(t, buf.String(), "notifier exploded")
}

func TestPublisher_PublishE(t *testing.T) {
	t.Run("no subscribers", func(t *testing.T) {
		publisher := NewEventPublisher(nil)
		err := publisher.PublishE(&statusChanged{})
		require.ErrorIs(t, err, ErrNoSubscribers)
	})

	t.Run("joins handler errors", func(t *testing.T) {
		publisher := NewEventPublisher(nil)
		err1 := errors.New("redis down")
		err2 := errors.New("audit down")
		publisher.Subscribe(func(e *statusChanged) error { return err1 })
		publisher.Subscribe(func(e *statusChanged) error { return err2 })

		err := publisher.PublishE(&statusChanged{})
		require.ErrorIs(t, err, err1)
		require.ErrorIs(t, err, err2)
	})

	t.Run("invalid return signature", func(t *testing.T) {
		publisher := NewEventPublisher(nil)
		publisher.Subscribe(func(e *statusChanged) int { return 1 })

		err := publisher.PublishE(&statusChanged{})
		require.ErrorIs(t, err, ErrInvalidHandlerReturn)
	})

	t.Run("nil argument reaches pointer handler", func(t *testing.T) {
		publisher := NewEventPublisher(nil)
		var received *statusChanged = &statusChanged{}
		publisher.Subscribe(func(e *statusChanged) { received = e })

		require.NoError(t, publisher.PublishE(nil))
		require.Nil(t, received)
	})
}

func TestPublisher_Unsubscribe(t *testing.T) {
	publisher := NewEventPublisher(nil)
	handler := func(e *statusChanged) {}
	publisher.Subscribe(handler)
	require.Equal(t, 1, publisher.SubscribersCount())

	publisher.Unsubscribe(handler)
	require.Equal(t, 0, publisher.SubscribersCount())
}

func TestMatchSignature(t *testing.T) {
	require.True(t, MatchSignature(func(e *statusChanged) {}, []any{&statusChanged{}}))
	require.False(t, MatchSignature(func(e *statusChanged) {}, []any{&unrelated{}}))
	require.False(t, MatchSignature(func(e *statusChanged) {}, []any{}))
	require.False(t, MatchSignature(func(e *statusChanged) {}, []any{&statusChanged{}, &statusChanged{}}))
	require.True(t, MatchSignature(func(ctx context.Context) {}, []any{context.Background()}))
	require.False(t, MatchSignature("not a func", []any{}))
}
