package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/roster/internal/shared/logger"
)

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "roster:presence:subject:user-1", SubjectTopic("user-1"))
	assert.Equal(t, "roster:presence:scope:room-1", ScopeTopic("room-1"))
}

func TestEnvelopeMarshal_OmitsEmptyTarget(t *testing.T) {
	data, err := json.Marshal(Envelope{
		EventID:   "evt-1",
		Type:      PresenceEventJoined,
		Timestamp: 1700000000,
	})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "target_session")

	data, err = json.Marshal(Envelope{
		EventID:       "evt-2",
		Type:          PresenceEventLeft,
		Timestamp:     1700000000,
		TargetSession: "sess-1",
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"target_session":"sess-1"`)
}

func TestRedisPresenceEventBus_PublishSubscribe(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // dedicated test database
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	bus := NewRedisPresenceEventBus(client, logger.NewLogger())

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	received := make(chan Message, 1)
	go func() {
		_ = bus.Subscribe(ctx, func(msg Message) {
			select {
			case received <- msg:
			default:
			}
		}, ScopeTopic("room-1"))
	}()

	// give the subscriber time to attach before publishing
	time.Sleep(200 * time.Millisecond)

	err := bus.Publish(ctx, ScopeTopic("room-1"), Envelope{
		Type: PresenceEventJoined,
		Data: map[string]any{"subject_id": "user-1"},
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, ScopeTopic("room-1"), msg.Topic)
		assert.Equal(t, PresenceEventJoined, msg.Envelope.Type)
		assert.Equal(t, "user-1", msg.Envelope.Data["subject_id"])
		assert.NotEmpty(t, msg.Envelope.EventID)
		assert.NotZero(t, msg.Envelope.Timestamp)
	case <-time.After(3 * time.Second):
		t.Fatal("presence event not delivered")
	}
}
