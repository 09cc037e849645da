// Package ws carries live presence sessions over WebSocket: the connection
// registers on attach, heartbeats while open and deregisters on close,
// while membership events stream back to the client.
package ws

import "encoding/json"

// Client message types.
const (
	MsgTypeHeartbeat         = "heartbeat"
	MsgTypeGetOnlineSubjects = "get_online_subjects"
)

// Server message types.
const (
	MsgTypeConnected      = "connected"
	MsgTypeOnlineSubjects = "online_subjects"
	MsgTypeError          = "error"
)

// ClientMessage is one inbound frame. Absent heartbeat flags default to
// true so a bare {"type":"heartbeat"} keeps the session fully alive.
// ActivityTimestamp is epoch milliseconds of the client's last input.
type ClientMessage struct {
	Type              string         `json:"type"`
	TabVisible        *bool          `json:"tab_visible,omitempty"`
	SubjectActive     *bool          `json:"subject_active,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	ActivityTimestamp *int64         `json:"activity_timestamp,omitempty"`
}

// TabVisibleValue returns the flag, defaulting to true when absent.
func (m *ClientMessage) TabVisibleValue() bool {
	return m.TabVisible == nil || *m.TabVisible
}

// SubjectActiveValue returns the flag, defaulting to true when absent.
func (m *ClientMessage) SubjectActiveValue() bool {
	return m.SubjectActive == nil || *m.SubjectActive
}

// ServerMessage is one outbound frame.
type ServerMessage struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

func (m *ServerMessage) encode() []byte {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}
