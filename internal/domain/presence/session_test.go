package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession_Defaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sess, err := NewSession("s1", "u1", "room-1", map[string]any{"device": "desktop"}, now)
	require.NoError(t, err)

	assert.Equal(t, "s1", sess.SessionID())
	assert.Equal(t, "u1", sess.SubjectID())
	assert.Equal(t, "room-1", sess.ScopeID())
	assert.Equal(t, now, sess.ConnectedAt())
	assert.Equal(t, now, sess.LastHeartbeat())
	assert.Equal(t, now, sess.LastActivity())
	assert.True(t, sess.TabVisible())
	assert.True(t, sess.SubjectActive())
	assert.Equal(t, map[string]any{"device": "desktop"}, sess.Metadata())
}

func TestNewSession_RequiresIdentity(t *testing.T) {
	now := time.Now()

	_, err := NewSession("", "u1", "", nil, now)
	assert.Error(t, err)

	_, err = NewSession("s1", "", "", nil, now)
	assert.Error(t, err)
}

func TestReconstructSession_RejectsHeartbeatBeforeConnect(t *testing.T) {
	now := time.Now().UTC()

	_, err := ReconstructSession("s1", "u1", "", now, now.Add(-time.Second), now, true, true, nil)
	assert.Error(t, err)
}

func TestSession_Online_IsPureFunctionOfTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	timeout := 90 * time.Second

	sess, err := NewSession("s1", "u1", "", nil, now)
	require.NoError(t, err)

	assert.True(t, sess.Online(now, timeout))
	assert.True(t, sess.Online(now.Add(timeout), timeout), "exactly at timeout is still online")
	assert.False(t, sess.Online(now.Add(timeout+time.Second), timeout))
}

func TestSession_ApplyHeartbeat_ActivityRules(t *testing.T) {
	connectedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("active subject advances last activity", func(t *testing.T) {
		sess, err := NewSession("s1", "u1", "", nil, connectedAt)
		require.NoError(t, err)

		later := connectedAt.Add(30 * time.Second)
		sess.ApplyHeartbeat(true, true, nil, nil, later)

		assert.Equal(t, later, sess.LastHeartbeat())
		assert.Equal(t, later, sess.LastActivity())
	})

	t.Run("idle subject keeps prior activity", func(t *testing.T) {
		sess, err := NewSession("s1", "u1", "", nil, connectedAt)
		require.NoError(t, err)

		later := connectedAt.Add(30 * time.Second)
		sess.ApplyHeartbeat(false, false, nil, nil, later)

		assert.Equal(t, later, sess.LastHeartbeat())
		assert.Equal(t, connectedAt, sess.LastActivity(), "idle heartbeat must not move last activity")
		assert.False(t, sess.TabVisible())
		assert.False(t, sess.SubjectActive())
	})

	t.Run("explicit activity timestamp wins", func(t *testing.T) {
		sess, err := NewSession("s1", "u1", "", nil, connectedAt)
		require.NoError(t, err)

		reported := connectedAt.Add(10 * time.Second)
		later := connectedAt.Add(30 * time.Second)
		sess.ApplyHeartbeat(true, false, nil, &reported, later)

		assert.Equal(t, reported, sess.LastActivity())
	})
}

func TestSession_MergeMetadata(t *testing.T) {
	now := time.Now().UTC()

	sess, err := NewSession("s1", "u1", "", map[string]any{"device": "desktop"}, now)
	require.NoError(t, err)

	sess.ApplyHeartbeat(true, true, map[string]any{"locale": "en"}, nil, now.Add(time.Second))

	meta := sess.Metadata()
	assert.Equal(t, "desktop", meta["device"])
	assert.Equal(t, "en", meta["locale"])
}

func TestSession_MetadataIsCopied(t *testing.T) {
	now := time.Now().UTC()
	original := map[string]any{"device": "desktop"}

	sess, err := NewSession("s1", "u1", "", original, now)
	require.NoError(t, err)

	original["device"] = "mobile"
	assert.Equal(t, "desktop", sess.Metadata()["device"])

	leaked := sess.Metadata()
	leaked["extra"] = true
	assert.NotContains(t, sess.Metadata(), "extra")
}

func TestDisconnectParams_Validate(t *testing.T) {
	assert.Error(t, DisconnectParams{}.Validate())
	assert.NoError(t, DisconnectParams{SessionID: "s1"}.Validate())
	assert.NoError(t, DisconnectParams{SubjectID: "u1", ScopeID: "room-1"}.Validate())
}
