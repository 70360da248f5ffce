package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"vote-spin/src/logger"
	"vote-spin/src/metrics"
	"vote-spin/src/models"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// changeMessage tells other instances that the snapshot moved to Version.
type changeMessage struct {
	Origin  string `json:"origin"`
	Version int64  `json:"version"`
}

// -----------------------------------------------------------------------------

// RedisRelay spreads "snapshot changed" notices between instances over Redis
// Pub/Sub. Receivers recompute the snapshot from the store, so a lost message
// only delays an update until the next write.
type RedisRelay struct {
	rdb     *goredis.Client
	channel string
	origin  string
	Logger  *logger.Logger
}

// -----------------------------------------------------------------------------

func NewRedisRelay(cfg models.MRelayConfig, log *logger.Logger) (*RedisRelay, error) {
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return newRelay(goredis.NewClient(opts), cfg.Channel, log), nil
}

func newRelay(rdb *goredis.Client, channel string, log *logger.Logger) *RedisRelay {
	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		Logger:  log,
	}
}

// -----------------------------------------------------------------------------

// Ping checks the Redis connection.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// -----------------------------------------------------------------------------

func (r *RedisRelay) Publish(ctx context.Context, version int64) error {
	data, err := json.Marshal(changeMessage{Origin: r.origin, Version: version})
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		metrics.RelayMessages.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to publish to %s: %w", r.channel, err)
	}
	metrics.RelayMessages.WithLabelValues("published").Inc()
	return nil
}

// -----------------------------------------------------------------------------

// Run delivers versions announced by other instances to onChange until ctx
// ends. It returns an error only if the subscription cannot be set up.
func (r *RedisRelay) Run(ctx context.Context, onChange func(version int64)) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer func() { _ = pubsub.Close() }()

	// Wait for the subscription to be confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.Logger.Info("Relay subscribed to %s as %s", r.channel, r.origin)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload, onChange)
		case <-ctx.Done():
			return nil
		}
	}
}

// -----------------------------------------------------------------------------

func (r *RedisRelay) handle(payload string, onChange func(int64)) {
	var msg changeMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		metrics.RelayMessages.WithLabelValues("invalid").Inc()
		r.Logger.Warning("Ignoring malformed relay message: %v", err)
		return
	}
	if msg.Origin == r.origin {
		metrics.RelayMessages.WithLabelValues("ignored").Inc()
		return
	}

	metrics.RelayMessages.WithLabelValues("received").Inc()
	r.Logger.Debug("Relay: instance %s moved to version %d", msg.Origin, msg.Version)
	onChange(msg.Version)
}

// -----------------------------------------------------------------------------

func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
