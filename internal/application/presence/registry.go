// Package presence implements the application services around the presence
// store: the registry clients talk to, change notification fan-out and the
// stale session sweeper.
package presence

import (
	"context"
	"time"

	"github.com/orris-inc/roster/internal/domain/presence"
	"github.com/orris-inc/roster/internal/shared/biztime"
	"github.com/orris-inc/roster/internal/shared/config"
	"github.com/orris-inc/roster/internal/shared/logger"
)

// Registry coordinates presence operations on top of a Store. It applies
// the configured liveness timeout, strips scope parameters when scoping is
// disabled and emits membership events through the notifier.
type Registry struct {
	store          presence.Store
	notifier       Notifier
	timeout        time.Duration
	scopingEnabled bool
	logger         logger.Interface
}

// NewRegistry creates a new presence registry. notifier may be nil to
// disable change notification.
func NewRegistry(store presence.Store, cfg *config.PresenceConfig, notifier Notifier, logger logger.Interface) *Registry {
	return &Registry{
		store:          store,
		notifier:       notifier,
		timeout:        cfg.TimeoutDuration(),
		scopingEnabled: cfg.ScopingEnabled,
		logger:         logger,
	}
}

// Timeout returns the configured liveness timeout.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// ScopingEnabled reports whether scope parameters are honored.
func (r *Registry) ScopingEnabled() bool {
	return r.scopingEnabled
}

// Connect registers a session and announces it as joined.
func (r *Registry) Connect(ctx context.Context, params presence.ConnectParams) (*presence.Session, error) {
	if !r.scopingEnabled {
		params.ScopeID = ""
	}

	sess, err := r.store.Connect(ctx, params)
	if err != nil {
		return nil, err
	}

	if r.notifier != nil {
		r.notifier.SessionJoined(ctx, sess)
	}
	return sess, nil
}

// Disconnect removes matching sessions and announces each as left.
func (r *Registry) Disconnect(ctx context.Context, params presence.DisconnectParams) ([]*presence.Session, error) {
	if !r.scopingEnabled {
		params.ScopeID = ""
	}

	removed, err := r.store.Disconnect(ctx, params)
	if err != nil {
		return nil, err
	}

	if r.notifier != nil {
		for _, sess := range removed {
			r.notifier.SessionLeft(ctx, sess)
		}
	}
	return removed, nil
}

// Heartbeat refreshes liveness for an existing session.
func (r *Registry) Heartbeat(ctx context.Context, params presence.HeartbeatParams) error {
	return r.store.Heartbeat(ctx, params)
}

// OnlineSubjects returns deduplicated subject ids currently online,
// optionally restricted to a scope.
func (r *Registry) OnlineSubjects(ctx context.Context, scopeID string) ([]string, error) {
	if !r.scopingEnabled {
		scopeID = ""
	}
	return r.store.OnlineSubjects(ctx, scopeID, r.timeout)
}

// SessionsForSubject lists a subject's sessions, optionally scoped.
func (r *Registry) SessionsForSubject(ctx context.Context, subjectID, scopeID string) ([]*presence.Session, error) {
	if !r.scopingEnabled {
		scopeID = ""
	}
	return r.store.SessionsForSubject(ctx, subjectID, scopeID)
}

// SessionStatus returns one session together with its liveness as of now.
func (r *Registry) SessionStatus(ctx context.Context, sessionID string) (*presence.Session, bool, error) {
	sess, err := r.store.SessionStatus(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return sess, sess.Online(biztime.NowUTC(), r.timeout), nil
}

// Sweep evicts stale sessions, announces each as left and returns the
// eviction count. A failed sweep may still have evicted sessions before the
// error; those are announced too, so no removal goes unreported.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	evicted, err := r.store.Sweep(ctx, r.timeout)

	if r.notifier != nil {
		for _, sess := range evicted {
			r.notifier.SessionLeft(ctx, sess)
		}
	}
	return len(evicted), err
}
