package presence

import (
	"context"
	"fmt"
	"time"
)

// ConnectParams identifies a new or reconnecting session.
type ConnectParams struct {
	SessionID string
	SubjectID string
	ScopeID   string
	Metadata  map[string]any
}

func (p ConnectParams) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if p.SubjectID == "" {
		return fmt.Errorf("subject id is required")
	}
	return nil
}

// DisconnectParams selects sessions to remove: exactly one session by id,
// or every session of a subject, optionally narrowed to one scope.
type DisconnectParams struct {
	SessionID string
	SubjectID string
	ScopeID   string
}

func (p DisconnectParams) Validate() error {
	if p.SessionID == "" && p.SubjectID == "" {
		return fmt.Errorf("disconnect requires a session id or subject id")
	}
	return nil
}

// HeartbeatParams carries one client heartbeat. ActivityAt is the
// client-reported activity instant; when nil, last activity follows the
// subject_active flag.
type HeartbeatParams struct {
	SessionID     string
	TabVisible    bool
	SubjectActive bool
	Metadata      map[string]any
	ActivityAt    *time.Time
}

func (p HeartbeatParams) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	return nil
}

// Store is the uniform contract both presence backends implement.
// All operations are safe for arbitrary concurrent callers; atomicity is
// per session (one SQL statement or one key-value batch), never a
// cross-session lock.
type Store interface {
	// Connect upserts a session keyed by session id. Reconnecting with an
	// existing id behaves as a fresh connect: timestamps reset, flags return
	// to their connected defaults.
	Connect(ctx context.Context, params ConnectParams) (*Session, error)

	// Disconnect removes matching sessions and returns them so callers can
	// emit membership events. No match is a no-op, not an error.
	Disconnect(ctx context.Context, params DisconnectParams) ([]*Session, error)

	// Heartbeat refreshes liveness for an existing session. A missing
	// session yields a not-found error and creates nothing; the caller
	// decides between reconnect and reject.
	Heartbeat(ctx context.Context, params HeartbeatParams) error

	// OnlineSubjects returns deduplicated subject ids with at least one
	// session heartbeating within timeout, optionally restricted to a scope.
	// A zero timeout means the configured default.
	OnlineSubjects(ctx context.Context, scopeID string, timeout time.Duration) ([]string, error)

	// SessionsForSubject lists a subject's sessions, optionally scoped.
	SessionsForSubject(ctx context.Context, subjectID, scopeID string) ([]*Session, error)

	// SessionStatus returns one session or a not-found error.
	SessionStatus(ctx context.Context, sessionID string) (*Session, error)

	// Sweep evicts every session whose last heartbeat is older than timeout
	// and returns the evicted records. Idempotent, and safe to run
	// concurrently with live traffic: a heartbeat applied before the sweep's
	// re-validation read always wins.
	Sweep(ctx context.Context, timeout time.Duration) ([]*Session, error)
}

// SubjectDataProvider resolves display data (name, avatar, ...) for a
// subject. Implementations may return an empty map; a nil provider means
// enrichment is skipped entirely.
type SubjectDataProvider interface {
	FetchDisplayData(ctx context.Context, subjectID string) (map[string]any, error)
}
