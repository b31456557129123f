package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/teamgrid/realtime-hub/internal/core/domain"
	"github.com/teamgrid/realtime-hub/internal/core/ports"
)

// Redis relays hub dispatches between instances over a Redis pub/sub
// channel, so an event dispatched on one node reaches connections held by
// another. Delivery inherits Redis pub/sub semantics: best-effort, no
// replay, matching the hub's own contract.
type Redis struct {
	client  *redis.Client
	channel string

	// origin tags this instance's publications so the subscriber can
	// drop its own echoes.
	origin string

	pubsub *redis.PubSub
	logger *slog.Logger
}

// Ensure Redis implements the Backplane port.
var _ ports.Backplane = (*Redis)(nil)

// Config holds Redis backplane settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg Config, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("backplane redis ping: %w", err)
	}

	return &Redis{
		client:  client,
		channel: cfg.Channel,
		origin:  uuid.NewString(),
		logger:  logger.With("component", "backplane"),
	}, nil
}

// envelope is the wire format on the backplane channel.
type envelope struct {
	Origin    string           `json:"origin"`
	Type      domain.EventType `json:"type"`
	Scope     domain.Scope     `json:"scope"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func (e envelope) event() domain.Event {
	return domain.Event{
		Type:      e.Type,
		Scope:     e.Scope,
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
	}
}

// Publish relays a locally-originated event to peer instances.
func (b *Redis) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(envelope{
		Origin:    b.origin,
		Type:      event.Type,
		Scope:     event.Scope,
		Payload:   event.Payload,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("backplane marshal: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("backplane publish: %w", err)
	}
	return nil
}

// Subscribe starts consuming peer events. The handler runs on the
// subscription goroutine; it must be cheap (the hub's handler only
// enqueues a command).
func (b *Redis) Subscribe(ctx context.Context, handler func(domain.Event)) error {
	b.pubsub = b.client.Subscribe(ctx, b.channel)

	// Force the subscription to be established before returning.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("backplane subscribe: %w", err)
	}

	go func() {
		for msg := range b.pubsub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping undecodable backplane message", "error", err)
				continue
			}

			if env.Origin == b.origin {
				continue
			}

			handler(env.event())
		}
	}()

	b.logger.Info("backplane subscribed", "channel", b.channel)
	return nil
}

// Close stops the subscription and releases the Redis client.
func (b *Redis) Close() error {
	if b.pubsub != nil {
		_ = b.pubsub.Close()
	}
	return b.client.Close()
}
