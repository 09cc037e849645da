package presence

import (
	"context"

	"github.com/orris-inc/roster/internal/domain/presence"
	"github.com/orris-inc/roster/internal/infrastructure/pubsub"
	"github.com/orris-inc/roster/internal/shared/logger"
)

// Notifier announces membership changes to interested listeners.
// Implementations are fire-and-forget: a delivery failure never fails the
// presence operation that triggered it.
type Notifier interface {
	SessionJoined(ctx context.Context, sess *presence.Session)
	SessionLeft(ctx context.Context, sess *presence.Session)
}

// EventNotifier publishes joined/left envelopes to the subject topic and,
// for scoped sessions, the scope topic. Display data from the provider is
// merged into the event payload so listeners can render without a lookup.
type EventNotifier struct {
	broadcaster pubsub.Broadcaster
	subjects    presence.SubjectDataProvider
	logger      logger.Interface
}

// NewEventNotifier creates a new event notifier. subjects may be nil, in
// which case events carry identity fields only.
func NewEventNotifier(broadcaster pubsub.Broadcaster, subjects presence.SubjectDataProvider, logger logger.Interface) *EventNotifier {
	return &EventNotifier{
		broadcaster: broadcaster,
		subjects:    subjects,
		logger:      logger,
	}
}

// SessionJoined announces a session coming online.
func (n *EventNotifier) SessionJoined(ctx context.Context, sess *presence.Session) {
	n.publish(ctx, pubsub.PresenceEventJoined, sess)
}

// SessionLeft announces a session going away, whether by explicit
// disconnect or sweep eviction.
func (n *EventNotifier) SessionLeft(ctx context.Context, sess *presence.Session) {
	n.publish(ctx, pubsub.PresenceEventLeft, sess)
}

func (n *EventNotifier) publish(ctx context.Context, eventType pubsub.PresenceEventType, sess *presence.Session) {
	data := map[string]any{
		"subject_id": sess.SubjectID(),
		"session_id": sess.SessionID(),
	}
	if sess.ScopeID() != "" {
		data["scope_id"] = sess.ScopeID()
	}

	if n.subjects != nil {
		display, err := n.subjects.FetchDisplayData(ctx, sess.SubjectID())
		if err != nil {
			n.logger.Warnw("failed to fetch subject display data",
				"subject_id", sess.SubjectID(),
				"error", err)
		} else {
			for k, v := range display {
				data[k] = v
			}
		}
	}

	envelope := pubsub.Envelope{Type: eventType, Data: data}

	if err := n.broadcaster.Publish(ctx, pubsub.SubjectTopic(sess.SubjectID()), envelope); err != nil {
		n.logger.Warnw("failed to publish subject presence event",
			"subject_id", sess.SubjectID(),
			"event_type", eventType,
			"error", err)
	}
	if sess.ScopeID() != "" {
		if err := n.broadcaster.Publish(ctx, pubsub.ScopeTopic(sess.ScopeID()), envelope); err != nil {
			n.logger.Warnw("failed to publish scope presence event",
				"scope_id", sess.ScopeID(),
				"event_type", eventType,
				"error", err)
		}
	}
}
