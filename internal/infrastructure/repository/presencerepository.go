package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orris-inc/roster/internal/domain/presence"
	"github.com/orris-inc/roster/internal/infrastructure/persistence/models"
	"github.com/orris-inc/roster/internal/shared/biztime"
	"github.com/orris-inc/roster/internal/shared/errors"
	"github.com/orris-inc/roster/internal/shared/logger"
)

// PresenceRepositoryImpl implements presence.Store on a relational database.
// One row per live session; all writes are single statements so concurrent
// operations on the same session resolve last-writer-wins at the row level.
type PresenceRepositoryImpl struct {
	db             *gorm.DB
	defaultTimeout time.Duration
	logger         logger.Interface
	now            func() time.Time
}

// NewPresenceRepository creates a new database-backed presence store.
func NewPresenceRepository(db *gorm.DB, defaultTimeout time.Duration, logger logger.Interface) presence.Store {
	return &PresenceRepositoryImpl{
		db:             db,
		defaultTimeout: defaultTimeout,
		logger:         logger,
		now:            biztime.NowUnix,
	}
}

// Connect upserts the session row keyed by session_id in one statement,
// avoiding a read-then-write race. A reconnect resets timestamps and flags
// exactly like a fresh connect.
func (r *PresenceRepositoryImpl) Connect(ctx context.Context, params presence.ConnectParams) (*presence.Session, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid connect parameters", err.Error())
	}

	sess, err := presence.NewSession(params.SessionID, params.SubjectID, params.ScopeID, params.Metadata, r.now())
	if err != nil {
		return nil, errors.NewValidationError("invalid connect parameters", err.Error())
	}

	model := &models.PresenceSessionModel{
		SessionID:     sess.SessionID(),
		SubjectID:     sess.SubjectID(),
		ScopeID:       sess.ScopeID(),
		ConnectedAt:   sess.ConnectedAt(),
		LastHeartbeat: sess.LastHeartbeat(),
		LastActivity:  sess.LastActivity(),
		TabVisible:    sess.TabVisible(),
		SubjectActive: sess.SubjectActive(),
		Metadata:      datatypes.JSONMap(sess.Metadata()),
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subject_id", "scope_id", "connected_at", "last_heartbeat",
			"last_activity", "tab_visible", "subject_active", "metadata", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		r.logger.Errorw("failed to upsert presence session",
			"session_id", params.SessionID,
			"subject_id", params.SubjectID,
			"error", err)
		return nil, fmt.Errorf("failed to upsert presence session: %w", err)
	}

	r.logger.Debugw("presence session connected",
		"session_id", sess.SessionID(),
		"subject_id", sess.SubjectID(),
		"scope_id", sess.ScopeID())

	return sess, nil
}

// Disconnect removes matching sessions and returns the removed records.
// Nothing matching is a no-op, not an error.
func (r *PresenceRepositoryImpl) Disconnect(ctx context.Context, params presence.DisconnectParams) ([]*presence.Session, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid disconnect parameters", err.Error())
	}

	query := r.lookupScope(r.db.WithContext(ctx), params)

	var rows []models.PresenceSessionModel
	if err := query.Find(&rows).Error; err != nil {
		r.logger.Errorw("failed to look up sessions for disconnect",
			"session_id", params.SessionID,
			"subject_id", params.SubjectID,
			"error", err)
		return nil, fmt.Errorf("failed to look up sessions for disconnect: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	sessionIDs := make([]string, len(rows))
	for i, row := range rows {
		sessionIDs[i] = row.SessionID
	}

	result := r.db.WithContext(ctx).
		Where("session_id IN ?", sessionIDs).
		Delete(&models.PresenceSessionModel{})
	if result.Error != nil {
		r.logger.Errorw("failed to delete presence sessions",
			"count", len(sessionIDs),
			"error", result.Error)
		return nil, fmt.Errorf("failed to delete presence sessions: %w", result.Error)
	}

	removed := make([]*presence.Session, 0, len(rows))
	for i := range rows {
		sess, err := r.toEntity(&rows[i])
		if err != nil {
			r.logger.Warnw("skipping malformed presence row",
				"session_id", rows[i].SessionID,
				"error", err)
			continue
		}
		removed = append(removed, sess)
	}

	r.logger.Debugw("presence sessions disconnected", "count", len(removed))
	return removed, nil
}

// Heartbeat refreshes liveness for an existing session with a single UPDATE.
// Metadata is merged in memory first; last-writer-wins between overlapping
// heartbeats is acceptable, and a cancelled call leaves the row untouched.
func (r *PresenceRepositoryImpl) Heartbeat(ctx context.Context, params presence.HeartbeatParams) error {
	if err := params.Validate(); err != nil {
		return errors.NewValidationError("invalid heartbeat parameters", err.Error())
	}

	now := r.now()

	updates := map[string]interface{}{
		"last_heartbeat": now,
		"tab_visible":    params.TabVisible,
		"subject_active": params.SubjectActive,
	}
	switch {
	case params.ActivityAt != nil:
		updates["last_activity"] = params.ActivityAt.UTC()
	case params.SubjectActive:
		updates["last_activity"] = now
	}

	if len(params.Metadata) > 0 {
		var current models.PresenceSessionModel
		err := r.db.WithContext(ctx).
			Select("id", "metadata").
			Where("session_id = ?", params.SessionID).
			First(&current).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return errors.NewNotFoundError("session not found", params.SessionID)
			}
			r.logger.Errorw("failed to read session metadata", "session_id", params.SessionID, "error", err)
			return fmt.Errorf("failed to read session metadata: %w", err)
		}

		merged := map[string]interface{}(current.Metadata)
		if merged == nil {
			merged = make(map[string]interface{}, len(params.Metadata))
		}
		for k, v := range params.Metadata {
			merged[k] = v
		}
		updates["metadata"] = datatypes.JSONMap(merged)
	}

	result := r.db.WithContext(ctx).
		Model(&models.PresenceSessionModel{}).
		Where("session_id = ?", params.SessionID).
		Updates(updates)
	if result.Error != nil {
		r.logger.Errorw("failed to apply heartbeat", "session_id", params.SessionID, "error", result.Error)
		return fmt.Errorf("failed to apply heartbeat: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NewNotFoundError("session not found", params.SessionID)
	}

	return nil
}

// OnlineSubjects returns deduplicated subject ids with a heartbeat within
// timeout, as an indexed range query over last_heartbeat.
func (r *PresenceRepositoryImpl) OnlineSubjects(ctx context.Context, scopeID string, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	threshold := r.now().Add(-timeout)

	query := r.db.WithContext(ctx).
		Model(&models.PresenceSessionModel{}).
		Where("last_heartbeat >= ?", threshold)
	if scopeID != "" {
		query = query.Where("scope_id = ?", scopeID)
	}

	var subjectIDs []string
	if err := query.Distinct().Pluck("subject_id", &subjectIDs).Error; err != nil {
		r.logger.Errorw("failed to query online subjects", "scope_id", scopeID, "error", err)
		return nil, fmt.Errorf("failed to query online subjects: %w", err)
	}

	return subjectIDs, nil
}

// SessionsForSubject lists a subject's sessions, optionally scoped.
func (r *PresenceRepositoryImpl) SessionsForSubject(ctx context.Context, subjectID, scopeID string) ([]*presence.Session, error) {
	query := r.db.WithContext(ctx).Where("subject_id = ?", subjectID)
	if scopeID != "" {
		query = query.Where("scope_id = ?", scopeID)
	}

	var rows []models.PresenceSessionModel
	if err := query.Order("connected_at").Find(&rows).Error; err != nil {
		r.logger.Errorw("failed to query sessions for subject", "subject_id", subjectID, "error", err)
		return nil, fmt.Errorf("failed to query sessions for subject: %w", err)
	}

	sessions := make([]*presence.Session, 0, len(rows))
	for i := range rows {
		sess, err := r.toEntity(&rows[i])
		if err != nil {
			r.logger.Warnw("skipping malformed presence row",
				"session_id", rows[i].SessionID,
				"error", err)
			continue
		}
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// SessionStatus returns a single session record or a not-found error.
func (r *PresenceRepositoryImpl) SessionStatus(ctx context.Context, sessionID string) (*presence.Session, error) {
	var row models.PresenceSessionModel
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewNotFoundError("session not found", sessionID)
		}
		r.logger.Errorw("failed to query session status", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("failed to query session status: %w", err)
	}

	return r.toEntity(&row)
}

// Sweep evicts sessions whose last heartbeat is older than timeout.
// The DELETE re-applies the threshold filter, so a session heartbeating
// between the candidate read and the delete survives; a follow-up read
// identifies survivors so they are not reported as evicted.
func (r *PresenceRepositoryImpl) Sweep(ctx context.Context, timeout time.Duration) ([]*presence.Session, error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	threshold := r.now().Add(-timeout)

	var stale []models.PresenceSessionModel
	err := r.db.WithContext(ctx).
		Where("last_heartbeat < ?", threshold).
		Find(&stale).Error
	if err != nil {
		r.logger.Errorw("failed to query stale sessions", "error", err)
		return nil, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	sessionIDs := make([]string, len(stale))
	for i, row := range stale {
		sessionIDs[i] = row.SessionID
	}

	result := r.db.WithContext(ctx).
		Where("session_id IN ? AND last_heartbeat < ?", sessionIDs, threshold).
		Delete(&models.PresenceSessionModel{})
	if result.Error != nil {
		r.logger.Errorw("failed to delete stale sessions", "count", len(sessionIDs), "error", result.Error)
		return nil, fmt.Errorf("failed to delete stale sessions: %w", result.Error)
	}

	evicted := stale
	if result.RowsAffected != int64(len(stale)) {
		// Some candidates got a heartbeat while we were deleting
		var survivors []string
		if err := r.db.WithContext(ctx).
			Model(&models.PresenceSessionModel{}).
			Where("session_id IN ?", sessionIDs).
			Pluck("session_id", &survivors).Error; err != nil {
			r.logger.Errorw("failed to identify surviving sessions after sweep", "error", err)
			return nil, fmt.Errorf("failed to identify surviving sessions after sweep: %w", err)
		}

		alive := make(map[string]bool, len(survivors))
		for _, sid := range survivors {
			alive[sid] = true
		}

		evicted = evicted[:0]
		for _, row := range stale {
			if alive[row.SessionID] {
				r.logger.Debugw("session revived during sweep", "session_id", row.SessionID)
				continue
			}
			evicted = append(evicted, row)
		}
	}

	sessions := make([]*presence.Session, 0, len(evicted))
	for i := range evicted {
		sess, err := r.toEntity(&evicted[i])
		if err != nil {
			r.logger.Warnw("skipping malformed presence row",
				"session_id", evicted[i].SessionID,
				"error", err)
			continue
		}
		sessions = append(sessions, sess)
	}

	if len(sessions) > 0 {
		r.logger.Infow("stale presence sessions evicted", "count", len(sessions))
	}
	return sessions, nil
}

func (r *PresenceRepositoryImpl) lookupScope(db *gorm.DB, params presence.DisconnectParams) *gorm.DB {
	if params.SessionID != "" {
		return db.Where("session_id = ?", params.SessionID)
	}
	query := db.Where("subject_id = ?", params.SubjectID)
	if params.ScopeID != "" {
		query = query.Where("scope_id = ?", params.ScopeID)
	}
	return query
}

func (r *PresenceRepositoryImpl) toEntity(model *models.PresenceSessionModel) (*presence.Session, error) {
	sess, err := presence.ReconstructSession(
		model.SessionID,
		model.SubjectID,
		model.ScopeID,
		model.ConnectedAt,
		model.LastHeartbeat,
		model.LastActivity,
		model.TabVisible,
		model.SubjectActive,
		map[string]any(model.Metadata),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct session %s: %w", model.SessionID, err)
	}
	return sess, nil
}
