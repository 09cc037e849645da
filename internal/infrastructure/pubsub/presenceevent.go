package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/orris-inc/roster/internal/shared/biztime"
	"github.com/orris-inc/roster/internal/shared/goroutine"
	"github.com/orris-inc/roster/internal/shared/logger"
)

const presenceChannelPrefix = "roster:presence"

// PresenceEventType represents the type of presence change event.
type PresenceEventType string

const (
	PresenceEventJoined PresenceEventType = "joined"
	PresenceEventLeft   PresenceEventType = "left"
)

// Envelope is the wire format for presence change events. TargetSession,
// when set, restricts delivery to one session; relays drop the envelope for
// everyone else.
type Envelope struct {
	EventID       string            `json:"event_id"`
	Type          PresenceEventType `json:"type"`
	Data          map[string]any    `json:"data,omitempty"`
	Timestamp     int64             `json:"timestamp"`
	TargetSession string            `json:"target_session,omitempty"`
}

// Message pairs a received envelope with the topic it arrived on.
type Message struct {
	Topic    string
	Envelope Envelope
}

// SubjectTopic returns the channel carrying events about one subject.
func SubjectTopic(subjectID string) string {
	return fmt.Sprintf("%s:subject:%s", presenceChannelPrefix, subjectID)
}

// ScopeTopic returns the channel carrying membership events for one scope.
func ScopeTopic(scopeID string) string {
	return fmt.Sprintf("%s:scope:%s", presenceChannelPrefix, scopeID)
}

// Broadcaster publishes presence change events for cross-instance delivery.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, envelope Envelope) error
}

// Subscriber receives presence change events from other instances.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(msg Message), topics ...string) error
}

// PresenceEventBus combines both sides of the relay.
type PresenceEventBus interface {
	Broadcaster
	Subscriber
}

// RedisPresenceEventBus implements PresenceEventBus using Redis Pub/Sub.
type RedisPresenceEventBus struct {
	client *redis.Client
	logger logger.Interface
}

// NewRedisPresenceEventBus creates a new Redis-based presence event bus.
func NewRedisPresenceEventBus(client *redis.Client, logger logger.Interface) *RedisPresenceEventBus {
	return &RedisPresenceEventBus{
		client: client,
		logger: logger,
	}
}

// Publish sends an envelope to one topic. EventID and Timestamp are filled
// in when the caller left them zero.
func (b *RedisPresenceEventBus) Publish(ctx context.Context, topic string, envelope Envelope) error {
	if envelope.EventID == "" {
		envelope.EventID = uuid.NewString()
	}
	if envelope.Timestamp == 0 {
		envelope.Timestamp = biztime.NowUTC().Unix()
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal presence event: %w", err)
	}

	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		b.logger.Errorw("failed to publish presence event",
			"topic", topic,
			"event_type", envelope.Type,
			"error", err,
		)
		return fmt.Errorf("failed to publish presence event: %w", err)
	}

	b.logger.Debugw("presence event published",
		"topic", topic,
		"event_type", envelope.Type,
	)
	return nil
}

// Subscribe delivers envelopes from the given topics to handler until ctx is
// cancelled, reconnecting with exponential backoff on broker failures.
func (b *RedisPresenceEventBus) Subscribe(ctx context.Context, handler func(msg Message), topics ...string) error {
	if len(topics) == 0 {
		return fmt.Errorf("at least one topic is required")
	}

	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		err := b.subscribe(ctx, topics, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b.logger.Warnw("presence subscription disconnected, reconnecting",
			"topics", topics,
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

func (b *RedisPresenceEventBus) subscribe(ctx context.Context, topics []string, handler func(msg Message)) error {
	pubsub := b.client.Subscribe(ctx, topics...)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to presence topics: %w", err)
	}

	b.logger.Infow("subscribed to presence topics", "topics", topics)

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				b.logger.Warnw("presence event channel closed", "topics", topics)
				return nil
			}

			var envelope Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				b.logger.Warnw("failed to unmarshal presence event",
					"topic", msg.Channel,
					"error", err,
				)
				continue
			}

			goroutine.SafeGo(b.logger, "presence-event-handler", func() {
				handler(Message{Topic: msg.Channel, Envelope: envelope})
			})
		}
	}
}
