// Package notify forwards committed change request events to redis.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/pkg/eventbus"
)

const (
	recentSuffix   = ":recent"
	defaultRecent  = 100
	publishTimeout = 2 * time.Second
)

// RedisNotifier publishes every event to a pub/sub channel and keeps a
// capped list of the latest events under "<channel>:recent".
type RedisNotifier struct {
	client  *redis.Client
	channel string
	keep    int64
	logger  *logrus.Entry
}

func NewRedisNotifier(client *redis.Client, channel string, logger *logrus.Logger) *RedisNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisNotifier{
		client:  client,
		channel: channel,
		keep:    defaultRecent,
		logger:  logger.WithField("component", "governance.notify"),
	}
}

// Register subscribes the notifier to change request events on bus.
func (n *RedisNotifier) Register(bus eventbus.EventBus) {
	bus.Subscribe(n.onEvent)
}

func (n *RedisNotifier) onEvent(e *changerequest.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := n.Notify(ctx, e); err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"event":     e.Type,
			"public_id": e.PublicID.String(),
		}).Error("failed to publish change request event")
		return err
	}
	return nil
}

func (n *RedisNotifier) Notify(ctx context.Context, e *changerequest.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to encode change request event")
	}

	pipe := n.client.TxPipeline()
	pipe.Publish(ctx, n.channel, payload)
	pipe.LPush(ctx, n.channel+recentSuffix, payload)
	pipe.LTrim(ctx, n.channel+recentSuffix, 0, n.keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to publish change request event")
	}
	return nil
}

// Recent returns up to limit of the latest events, newest first.
func (n *RedisNotifier) Recent(ctx context.Context, limit int64) ([]*changerequest.Event, error) {
	if limit <= 0 || limit > n.keep {
		limit = n.keep
	}
	raw, err := n.client.LRange(ctx, n.channel+recentSuffix, 0, limit-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read recent change request events")
	}
	out := make([]*changerequest.Event, 0, len(raw))
	for _, item := range raw {
		e := &changerequest.Event{}
		if err := json.Unmarshal([]byte(item), e); err != nil {
			return nil, errors.Wrap(err, "failed to decode change request event")
		}
		out = append(out, e)
	}
	return out, nil
}
