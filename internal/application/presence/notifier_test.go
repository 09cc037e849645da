package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/roster/internal/domain/presence"
	"github.com/orris-inc/roster/internal/infrastructure/pubsub"
	"github.com/orris-inc/roster/internal/shared/logger"
)

type capturingBroadcaster struct {
	published []struct {
		Topic    string
		Envelope pubsub.Envelope
	}
}

func (b *capturingBroadcaster) Publish(ctx context.Context, topic string, envelope pubsub.Envelope) error {
	b.published = append(b.published, struct {
		Topic    string
		Envelope pubsub.Envelope
	}{topic, envelope})
	return nil
}

type staticProvider struct {
	data map[string]any
}

func (p *staticProvider) FetchDisplayData(ctx context.Context, subjectID string) (map[string]any, error) {
	return p.data, nil
}

func TestEventNotifier_ScopedSessionHitsBothTopics(t *testing.T) {
	broadcaster := &capturingBroadcaster{}
	notifier := NewEventNotifier(broadcaster, nil, logger.NewLogger())

	sess, err := presence.NewSession("sess-1", "user-1", "room-1", nil, time.Now())
	require.NoError(t, err)

	notifier.SessionJoined(context.Background(), sess)

	require.Len(t, broadcaster.published, 2)
	assert.Equal(t, pubsub.SubjectTopic("user-1"), broadcaster.published[0].Topic)
	assert.Equal(t, pubsub.ScopeTopic("room-1"), broadcaster.published[1].Topic)
	for _, p := range broadcaster.published {
		assert.Equal(t, pubsub.PresenceEventJoined, p.Envelope.Type)
		assert.Equal(t, "user-1", p.Envelope.Data["subject_id"])
		assert.Equal(t, "room-1", p.Envelope.Data["scope_id"])
	}
}

func TestEventNotifier_UnscopedSessionHitsSubjectTopicOnly(t *testing.T) {
	broadcaster := &capturingBroadcaster{}
	notifier := NewEventNotifier(broadcaster, nil, logger.NewLogger())

	sess, err := presence.NewSession("sess-1", "user-1", "", nil, time.Now())
	require.NoError(t, err)

	notifier.SessionLeft(context.Background(), sess)

	require.Len(t, broadcaster.published, 1)
	assert.Equal(t, pubsub.SubjectTopic("user-1"), broadcaster.published[0].Topic)
	assert.Equal(t, pubsub.PresenceEventLeft, broadcaster.published[0].Envelope.Type)
	assert.NotContains(t, broadcaster.published[0].Envelope.Data, "scope_id")
}

func TestEventNotifier_MergesDisplayData(t *testing.T) {
	broadcaster := &capturingBroadcaster{}
	provider := &staticProvider{data: map[string]any{"display_name": "Ada"}}
	notifier := NewEventNotifier(broadcaster, provider, logger.NewLogger())

	sess, err := presence.NewSession("sess-1", "user-1", "", nil, time.Now())
	require.NoError(t, err)

	notifier.SessionJoined(context.Background(), sess)

	require.Len(t, broadcaster.published, 1)
	assert.Equal(t, "Ada", broadcaster.published[0].Envelope.Data["display_name"])
	assert.Equal(t, "user-1", broadcaster.published[0].Envelope.Data["subject_id"])
}
