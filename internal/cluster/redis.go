package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dhis2/dhis2-core-sub010/internal/metrics"
)

const (
	// defaultChannel is used when ProviderConfig.Channel is empty.
	defaultChannel = "cache:invalidation"

	publishBackoff    = 50 * time.Millisecond
	publishMaxBackoff = time.Second
)

func init() {
	Register("redis", newRedisBus)
}

// redisBus exchanges invalidations over Redis/Valkey pub/sub. Pub/sub is fire-and-forget: a node
// that is disconnected while a message is published never receives it, which is acceptable for a
// cache because a missed invalidation is bounded by entry TTLs.
type redisBus struct {
	client  *redis.Client
	channel string
	retry   retrypolicy.RetryPolicy[any]
	logger  zerolog.Logger
}

func newRedisBus(cfg ProviderConfig) (Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Verify connectivity.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedisBusWithClient(client, cfg), nil
}

func newRedisBusWithClient(client *redis.Client, cfg ProviderConfig) *redisBus {
	channel := cfg.Channel
	if channel == "" {
		channel = defaultChannel
	}
	retries := cfg.PublishRetries
	if retries < 0 {
		retries = 0
	}
	return &redisBus{
		client:  client,
		channel: channel,
		retry: retrypolicy.NewBuilder[any]().
			WithMaxRetries(retries).
			WithBackoff(publishBackoff, publishMaxBackoff).
			ReturnLastFailure().
			Build(),
		logger: cfg.Logger.With().Str("channel", channel).Logger(),
	}
}

func (b *redisBus) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode invalidation: %w", err)
	}

	err = failsafe.With[any](b.retry).WithContext(ctx).Run(func() error {
		return b.client.Publish(ctx, b.channel, payload).Err()
	})
	if err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (b *redisBus) Subscribe(ctx context.Context, handler Handler) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so no message published afterwards is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe failed: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := decodeMessage(raw.Payload)
			if err != nil {
				metrics.ClusterMessagesTotal.WithLabelValues("received", "invalid").Inc()
				b.logger.Warn().Err(err).Msg("Dropping invalid invalidation message")
				continue
			}
			handler(msg)
		}
	}
}

func (b *redisBus) Close() error {
	return b.client.Close()
}

func decodeMessage(payload string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return Message{}, fmt.Errorf("decode invalidation: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
