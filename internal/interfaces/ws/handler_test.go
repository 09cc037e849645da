package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apppresence "github.com/orris-inc/roster/internal/application/presence"
	"github.com/orris-inc/roster/internal/domain/presence"
	"github.com/orris-inc/roster/internal/infrastructure/auth"
	"github.com/orris-inc/roster/internal/shared/config"
	"github.com/orris-inc/roster/internal/shared/logger"
)

const testSecret = "test-secret-key"

type recordingStore struct {
	mu          sync.Mutex
	connects    []presence.ConnectParams
	heartbeats  []presence.HeartbeatParams
	disconnects []presence.DisconnectParams
}

func (s *recordingStore) Connect(ctx context.Context, params presence.ConnectParams) (*presence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects = append(s.connects, params)
	return presence.NewSession(params.SessionID, params.SubjectID, params.ScopeID, params.Metadata, time.Now())
}

func (s *recordingStore) Disconnect(ctx context.Context, params presence.DisconnectParams) ([]*presence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects = append(s.disconnects, params)
	return nil, nil
}

func (s *recordingStore) Heartbeat(ctx context.Context, params presence.HeartbeatParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats = append(s.heartbeats, params)
	return nil
}

func (s *recordingStore) OnlineSubjects(ctx context.Context, scopeID string, timeout time.Duration) ([]string, error) {
	return []string{"user-1", "user-2"}, nil
}

func (s *recordingStore) SessionsForSubject(ctx context.Context, subjectID, scopeID string) ([]*presence.Session, error) {
	return nil, nil
}

func (s *recordingStore) SessionStatus(ctx context.Context, sessionID string) (*presence.Session, error) {
	return nil, nil
}

func (s *recordingStore) Sweep(ctx context.Context, timeout time.Duration) ([]*presence.Session, error) {
	return nil, nil
}

func signTestToken(t *testing.T, subject, sessionID string) string {
	t.Helper()
	claims := auth.Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func setupServer(t *testing.T, scoping bool) (*httptest.Server, *recordingStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &recordingStore{}
	registry := apppresence.NewRegistry(store, &config.PresenceConfig{
		Backend:        config.PresenceBackendDatabase,
		Timeout:        90,
		ScopingEnabled: scoping,
	}, nil, logger.NewLogger())

	handler := NewHandler(registry, auth.NewJWTAuthenticator(testSecret), nil, 30*time.Second, logger.NewLogger())

	engine := gin.New()
	engine.GET("/presence/ws", handler.Serve)

	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)
	return server, store
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/presence/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandler_ConnectRegistersAndAcks(t *testing.T) {
	server, store := setupServer(t, false)

	conn := dial(t, server, "token="+signTestToken(t, "user-1", "sess-1"))
	defer conn.Close()

	ack := readFrame(t, conn)
	assert.Equal(t, MsgTypeConnected, ack.Type)
	assert.Equal(t, "sess-1", ack.Data["session_id"])
	assert.Equal(t, float64(30), ack.Data["heartbeat_interval"])

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.connects, 1)
	assert.Equal(t, "user-1", store.connects[0].SubjectID)
}

func TestHandler_HeartbeatReachesStore(t *testing.T) {
	server, store := setupServer(t, false)

	conn := dial(t, server, "token="+signTestToken(t, "user-1", "sess-1"))
	defer conn.Close()
	readFrame(t, conn)

	visible := false
	require.NoError(t, conn.WriteJSON(ClientMessage{
		Type:       MsgTypeHeartbeat,
		TabVisible: &visible,
		Metadata:   map[string]any{"page": "/home"},
	}))

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.heartbeats) == 1
	}, 3*time.Second, 20*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	hb := store.heartbeats[0]
	assert.Equal(t, "sess-1", hb.SessionID)
	assert.False(t, hb.TabVisible)
	assert.True(t, hb.SubjectActive)
	assert.Equal(t, "/home", hb.Metadata["page"])
}

func TestHandler_GetOnlineSubjects(t *testing.T) {
	server, _ := setupServer(t, false)

	conn := dial(t, server, "token="+signTestToken(t, "user-1", "sess-1"))
	defer conn.Close()
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MsgTypeGetOnlineSubjects}))

	reply := readFrame(t, conn)
	assert.Equal(t, MsgTypeOnlineSubjects, reply.Type)
	assert.Equal(t, float64(2), reply.Data["count"])
}

func TestHandler_CloseDeregisters(t *testing.T) {
	server, store := setupServer(t, false)

	conn := dial(t, server, "token="+signTestToken(t, "user-1", "sess-1"))
	readFrame(t, conn)
	conn.Close()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.disconnects) == 1
	}, 3*time.Second, 20*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, "sess-1", store.disconnects[0].SessionID)
}

func TestHandler_RejectsMissingToken(t *testing.T) {
	server, _ := setupServer(t, false)

	resp, err := http.Get(server.URL + "/presence/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_ScopingEnabledRequiresScope(t *testing.T) {
	server, _ := setupServer(t, true)

	resp, err := http.Get(server.URL + "/presence/ws?token=" + signTestToken(t, "user-1", "sess-1"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClientMessage_FlagDefaults(t *testing.T) {
	var msg ClientMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"heartbeat"}`), &msg))
	assert.True(t, msg.TabVisibleValue())
	assert.True(t, msg.SubjectActiveValue())

	require.NoError(t, json.Unmarshal([]byte(`{"type":"heartbeat","tab_visible":false,"subject_active":false}`), &msg))
	assert.False(t, msg.TabVisibleValue())
	assert.False(t, msg.SubjectActiveValue())
}
