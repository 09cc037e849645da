package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/roster/internal/domain/presence"
	"github.com/orris-inc/roster/internal/shared/biztime"
	"github.com/orris-inc/roster/internal/shared/config"
	"github.com/orris-inc/roster/internal/shared/logger"
)

type fakeStore struct {
	connectParams    *presence.ConnectParams
	disconnectParams *presence.DisconnectParams
	onlineScope      *string
	onlineTimeout    time.Duration

	connectResult    *presence.Session
	disconnectResult []*presence.Session
	sweepResult      []*presence.Session
	statusResult     *presence.Session
	err              error
}

func (s *fakeStore) Connect(ctx context.Context, params presence.ConnectParams) (*presence.Session, error) {
	s.connectParams = &params
	return s.connectResult, s.err
}

func (s *fakeStore) Disconnect(ctx context.Context, params presence.DisconnectParams) ([]*presence.Session, error) {
	s.disconnectParams = &params
	return s.disconnectResult, s.err
}

func (s *fakeStore) Heartbeat(ctx context.Context, params presence.HeartbeatParams) error {
	return s.err
}

func (s *fakeStore) OnlineSubjects(ctx context.Context, scopeID string, timeout time.Duration) ([]string, error) {
	s.onlineScope = &scopeID
	s.onlineTimeout = timeout
	return []string{"user-1"}, s.err
}

func (s *fakeStore) SessionsForSubject(ctx context.Context, subjectID, scopeID string) ([]*presence.Session, error) {
	return nil, s.err
}

func (s *fakeStore) SessionStatus(ctx context.Context, sessionID string) (*presence.Session, error) {
	return s.statusResult, s.err
}

func (s *fakeStore) Sweep(ctx context.Context, timeout time.Duration) ([]*presence.Session, error) {
	return s.sweepResult, s.err
}

type fakeNotifier struct {
	joined []string
	left   []string
}

func (n *fakeNotifier) SessionJoined(ctx context.Context, sess *presence.Session) {
	n.joined = append(n.joined, sess.SessionID())
}

func (n *fakeNotifier) SessionLeft(ctx context.Context, sess *presence.Session) {
	n.left = append(n.left, sess.SessionID())
}

func mustSession(t *testing.T, sessionID, subjectID, scopeID string) *presence.Session {
	t.Helper()
	sess, err := presence.NewSession(sessionID, subjectID, scopeID, nil, time.Now())
	require.NoError(t, err)
	return sess
}

func presenceConfig(scoping bool) *config.PresenceConfig {
	return &config.PresenceConfig{
		Backend:        config.PresenceBackendDatabase,
		Timeout:        90,
		ScopingEnabled: scoping,
	}
}

func TestRegistry_ConnectNotifiesJoined(t *testing.T) {
	store := &fakeStore{connectResult: mustSession(t, "sess-1", "user-1", "")}
	notifier := &fakeNotifier{}
	registry := NewRegistry(store, presenceConfig(false), notifier, logger.NewLogger())

	_, err := registry.Connect(context.Background(), presence.ConnectParams{
		SessionID: "sess-1", SubjectID: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1"}, notifier.joined)
}

func TestRegistry_ScopingDisabledBlanksScope(t *testing.T) {
	store := &fakeStore{connectResult: mustSession(t, "sess-1", "user-1", "")}
	registry := NewRegistry(store, presenceConfig(false), nil, logger.NewLogger())
	ctx := context.Background()

	_, err := registry.Connect(ctx, presence.ConnectParams{
		SessionID: "sess-1", SubjectID: "user-1", ScopeID: "room-1",
	})
	require.NoError(t, err)
	assert.Empty(t, store.connectParams.ScopeID)

	_, err = registry.OnlineSubjects(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, *store.onlineScope)
	assert.Equal(t, 90*time.Second, store.onlineTimeout)
}

func TestRegistry_ScopingEnabledKeepsScope(t *testing.T) {
	store := &fakeStore{connectResult: mustSession(t, "sess-1", "user-1", "room-1")}
	registry := NewRegistry(store, presenceConfig(true), nil, logger.NewLogger())

	_, err := registry.Connect(context.Background(), presence.ConnectParams{
		SessionID: "sess-1", SubjectID: "user-1", ScopeID: "room-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "room-1", store.connectParams.ScopeID)
}

func TestRegistry_DisconnectNotifiesEachRemoved(t *testing.T) {
	store := &fakeStore{disconnectResult: []*presence.Session{
		mustSession(t, "sess-1", "user-1", ""),
		mustSession(t, "sess-2", "user-1", ""),
	}}
	notifier := &fakeNotifier{}
	registry := NewRegistry(store, presenceConfig(false), notifier, logger.NewLogger())

	removed, err := registry.Disconnect(context.Background(), presence.DisconnectParams{SubjectID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.Equal(t, []string{"sess-1", "sess-2"}, notifier.left)
}

func TestRegistry_SweepNotifiesAndCounts(t *testing.T) {
	store := &fakeStore{sweepResult: []*presence.Session{
		mustSession(t, "sess-1", "user-1", ""),
		mustSession(t, "sess-2", "user-2", ""),
	}}
	notifier := &fakeNotifier{}
	registry := NewRegistry(store, presenceConfig(false), notifier, logger.NewLogger())

	count, err := registry.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"sess-1", "sess-2"}, notifier.left)
}

func TestRegistry_SweepNotifiesPartialEvictionsOnError(t *testing.T) {
	store := &fakeStore{
		sweepResult: []*presence.Session{mustSession(t, "sess-1", "user-1", "")},
		err:         assert.AnError,
	}
	notifier := &fakeNotifier{}
	registry := NewRegistry(store, presenceConfig(false), notifier, logger.NewLogger())

	count, err := registry.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"sess-1"}, notifier.left)
}

func TestRegistry_SessionStatusReportsLiveness(t *testing.T) {
	fresh := mustSession(t, "sess-1", "user-1", "")
	store := &fakeStore{statusResult: fresh}
	registry := NewRegistry(store, presenceConfig(false), nil, logger.NewLogger())

	_, online, err := registry.SessionStatus(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.True(t, online)

	stale, err := presence.ReconstructSession(
		"sess-2", "user-1", "",
		biztime.NowUTC().Add(-10*time.Minute),
		biztime.NowUTC().Add(-5*time.Minute),
		biztime.NowUTC().Add(-5*time.Minute),
		true, true, nil,
	)
	require.NoError(t, err)
	store.statusResult = stale

	_, online, err = registry.SessionStatus(context.Background(), "sess-2")
	require.NoError(t, err)
	assert.False(t, online)
}
