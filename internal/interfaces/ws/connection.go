package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apppresence "github.com/orris-inc/roster/internal/application/presence"
	"github.com/orris-inc/roster/internal/domain/presence"
	"github.com/orris-inc/roster/internal/infrastructure/pubsub"
	"github.com/orris-inc/roster/internal/shared/biztime"
	"github.com/orris-inc/roster/internal/shared/errors"
	"github.com/orris-inc/roster/internal/shared/goroutine"
	"github.com/orris-inc/roster/internal/shared/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 32
)

// Connection owns one presence WebSocket session from attach to close.
// The session is registered when the connection starts, refreshed by
// heartbeat frames and removed when the socket goes away for any reason.
type Connection struct {
	conn     *websocket.Conn
	registry *apppresence.Registry
	events   pubsub.Subscriber
	logger   logger.Interface

	subjectID         string
	sessionID         string
	scopeID           string
	heartbeatInterval time.Duration

	send      chan []byte
	closeOnce sync.Once

	// readPump-only; a heartbeat for a swept session re-registers once
	reRegistered bool
}

// NewConnection creates a connection for an authenticated client.
// events may be nil, in which case no membership events are relayed.
func NewConnection(
	conn *websocket.Conn,
	registry *apppresence.Registry,
	events pubsub.Subscriber,
	subjectID, sessionID, scopeID string,
	heartbeatInterval time.Duration,
	logger logger.Interface,
) *Connection {
	return &Connection{
		conn:              conn,
		registry:          registry,
		events:            events,
		logger:            logger,
		subjectID:         subjectID,
		sessionID:         sessionID,
		scopeID:           scopeID,
		heartbeatInterval: heartbeatInterval,
		send:              make(chan []byte, sendBufferSize),
	}
}

// Run registers the session and pumps frames until the socket closes.
// It blocks until the connection is done and always deregisters on the way
// out, so an abrupt client drop behaves like an explicit disconnect.
func (c *Connection) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := c.registry.Connect(ctx, presence.ConnectParams{
		SessionID: c.sessionID,
		SubjectID: c.subjectID,
		ScopeID:   c.scopeID,
	}); err != nil {
		c.logger.Errorw("failed to register presence session",
			"session_id", c.sessionID,
			"subject_id", c.subjectID,
			"error", err)
		c.conn.Close()
		return
	}

	if c.events != nil {
		topic := pubsub.SubjectTopic(c.subjectID)
		if c.scopeID != "" {
			topic = pubsub.ScopeTopic(c.scopeID)
		}
		goroutine.SafeGo(c.logger, "presence-ws-relay", func() {
			_ = c.events.Subscribe(ctx, c.relay, topic)
		})
	}

	c.enqueue(&ServerMessage{
		Type: MsgTypeConnected,
		Data: map[string]any{
			"session_id":         c.sessionID,
			"heartbeat_interval": int(c.heartbeatInterval.Seconds()),
		},
		Timestamp: biztime.NowUTC().Unix(),
	})

	goroutine.SafeGo(c.logger, "presence-ws-write", func() {
		c.writePump(cancel)
	})
	c.readPump(ctx)

	cancel()
	c.deregister()
}

// relay forwards a membership event to this client unless the envelope is
// targeted at a different session.
func (c *Connection) relay(msg pubsub.Message) {
	if msg.Envelope.TargetSession != "" && msg.Envelope.TargetSession != c.sessionID {
		return
	}

	frame := &ServerMessage{
		Type:      string(msg.Envelope.Type),
		Data:      msg.Envelope.Data,
		Timestamp: msg.Envelope.Timestamp,
	}
	c.enqueue(frame)
}

func (c *Connection) enqueue(msg *ServerMessage) {
	data := msg.encode()
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warnw("dropping frame, send buffer full",
			"session_id", c.sessionID,
			"type", msg.Type)
	}
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warnw("presence websocket read error",
					"session_id", c.sessionID,
					"error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warnw("failed to parse presence frame",
				"session_id", c.sessionID,
				"error", err)
			continue
		}

		switch msg.Type {
		case MsgTypeHeartbeat:
			c.handleHeartbeat(ctx, &msg)
		case MsgTypeGetOnlineSubjects:
			c.handleGetOnlineSubjects(ctx)
		default:
			c.logger.Debugw("unhandled presence frame type",
				"session_id", c.sessionID,
				"type", msg.Type)
		}
	}
}

func (c *Connection) handleHeartbeat(ctx context.Context, msg *ClientMessage) {
	params := presence.HeartbeatParams{
		SessionID:     c.sessionID,
		TabVisible:    msg.TabVisibleValue(),
		SubjectActive: msg.SubjectActiveValue(),
		Metadata:      msg.Metadata,
	}
	if msg.ActivityTimestamp != nil {
		at := biztime.FromUnixMilli(*msg.ActivityTimestamp)
		params.ActivityAt = &at
	}

	err := c.registry.Heartbeat(ctx, params)
	if err == nil {
		return
	}

	// The session may have been swept while the socket stayed open, for
	// example after a long laptop sleep. Re-register once and retry.
	if errors.IsNotFoundError(err) && !c.reRegistered {
		c.reRegistered = true
		c.logger.Warnw("session missing on heartbeat, re-registering",
			"session_id", c.sessionID,
			"subject_id", c.subjectID)
		if _, connectErr := c.registry.Connect(ctx, presence.ConnectParams{
			SessionID: c.sessionID,
			SubjectID: c.subjectID,
			ScopeID:   c.scopeID,
		}); connectErr == nil {
			return
		}
	}

	c.logger.Errorw("heartbeat failed",
		"session_id", c.sessionID,
		"error", err)
	c.enqueue(&ServerMessage{
		Type:      MsgTypeError,
		Data:      map[string]any{"message": "heartbeat failed"},
		Timestamp: biztime.NowUTC().Unix(),
	})
}

func (c *Connection) handleGetOnlineSubjects(ctx context.Context) {
	subjects, err := c.registry.OnlineSubjects(ctx, c.scopeID)
	if err != nil {
		c.logger.Errorw("failed to query online subjects",
			"session_id", c.sessionID,
			"error", err)
		c.enqueue(&ServerMessage{
			Type:      MsgTypeError,
			Data:      map[string]any{"message": "failed to query online subjects"},
			Timestamp: biztime.NowUTC().Unix(),
		})
		return
	}
	if subjects == nil {
		subjects = []string{}
	}

	c.enqueue(&ServerMessage{
		Type: MsgTypeOnlineSubjects,
		Data: map[string]any{
			"subjects": subjects,
			"count":    len(subjects),
		},
		Timestamp: biztime.NowUTC().Unix(),
	})
}

func (c *Connection) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warnw("failed to write presence frame",
					"session_id", c.sessionID,
					"error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deregister removes the session once the socket is gone. The request
// context is already cancelled at this point, so a short independent
// deadline keeps the cleanup bounded.
func (c *Connection) deregister() {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := c.registry.Disconnect(ctx, presence.DisconnectParams{SessionID: c.sessionID}); err != nil {
			c.logger.Warnw("failed to deregister presence session",
				"session_id", c.sessionID,
				"error", err)
			return
		}

		c.logger.Debugw("presence session closed",
			"session_id", c.sessionID,
			"subject_id", c.subjectID)
	})
}
