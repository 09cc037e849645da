// Package presence provides domain models and storage contracts for
// liveness tracking of connected sessions.
package presence

import (
	"fmt"
	"time"
)

// Session represents one live, heartbeating connection instance.
// A subject may own many concurrent sessions (multi-tab, multi-device);
// scopeID is empty when presence is subject-global.
type Session struct {
	sessionID     string
	subjectID     string
	scopeID       string
	connectedAt   time.Time
	lastHeartbeat time.Time
	lastActivity  time.Time
	tabVisible    bool
	subjectActive bool
	metadata      map[string]any
}

// NewSession creates a fresh session record as of now. Connect timestamps,
// visibility and activity flags all start from their connected defaults.
func NewSession(sessionID, subjectID, scopeID string, metadata map[string]any, now time.Time) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if subjectID == "" {
		return nil, fmt.Errorf("subject id is required")
	}

	now = now.UTC().Truncate(time.Second)
	return &Session{
		sessionID:     sessionID,
		subjectID:     subjectID,
		scopeID:       scopeID,
		connectedAt:   now,
		lastHeartbeat: now,
		lastActivity:  now,
		tabVisible:    true,
		subjectActive: true,
		metadata:      copyMetadata(metadata),
	}, nil
}

// ReconstructSession rebuilds a session from persistence.
func ReconstructSession(
	sessionID, subjectID, scopeID string,
	connectedAt, lastHeartbeat, lastActivity time.Time,
	tabVisible, subjectActive bool,
	metadata map[string]any,
) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if subjectID == "" {
		return nil, fmt.Errorf("subject id is required")
	}
	if lastHeartbeat.Before(connectedAt) {
		return nil, fmt.Errorf("last heartbeat %v precedes connected at %v", lastHeartbeat, connectedAt)
	}

	return &Session{
		sessionID:     sessionID,
		subjectID:     subjectID,
		scopeID:       scopeID,
		connectedAt:   connectedAt.UTC(),
		lastHeartbeat: lastHeartbeat.UTC(),
		lastActivity:  lastActivity.UTC(),
		tabVisible:    tabVisible,
		subjectActive: subjectActive,
		metadata:      copyMetadata(metadata),
	}, nil
}

func (s *Session) SessionID() string         { return s.sessionID }
func (s *Session) SubjectID() string         { return s.subjectID }
func (s *Session) ScopeID() string           { return s.scopeID }
func (s *Session) ConnectedAt() time.Time    { return s.connectedAt }
func (s *Session) LastHeartbeat() time.Time  { return s.lastHeartbeat }
func (s *Session) LastActivity() time.Time   { return s.lastActivity }
func (s *Session) TabVisible() bool          { return s.tabVisible }
func (s *Session) SubjectActive() bool       { return s.subjectActive }

// Metadata returns a copy of the session metadata.
func (s *Session) Metadata() map[string]any {
	return copyMetadata(s.metadata)
}

// Online reports whether the session counts as present at the given instant.
// Liveness is a pure function of elapsed time since the last heartbeat, so
// it stays correct even when an explicit disconnect never fired.
func (s *Session) Online(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.lastHeartbeat) <= timeout
}

// ApplyHeartbeat refreshes liveness state in place.
// lastActivity follows the heartbeat's explicit activity timestamp when
// present, falls back to now while the subject is active, and is left
// untouched for idle-but-connected sessions. Metadata is merged, not replaced.
func (s *Session) ApplyHeartbeat(tabVisible, subjectActive bool, metadata map[string]any, activityAt *time.Time, now time.Time) {
	now = now.UTC().Truncate(time.Second)

	s.lastHeartbeat = now
	s.tabVisible = tabVisible
	s.subjectActive = subjectActive

	switch {
	case activityAt != nil:
		s.lastActivity = activityAt.UTC()
	case subjectActive:
		s.lastActivity = now
	}

	s.MergeMetadata(metadata)
}

// MergeMetadata merges the given keys into the session metadata,
// overwriting existing keys and keeping the rest.
func (s *Session) MergeMetadata(metadata map[string]any) {
	if len(metadata) == 0 {
		return
	}
	if s.metadata == nil {
		s.metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		s.metadata[k] = v
	}
}

func copyMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
