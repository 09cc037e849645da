package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orris-inc/roster/internal/domain/presence"
	"github.com/orris-inc/roster/internal/shared/biztime"
	"github.com/orris-inc/roster/internal/shared/errors"
	"github.com/orris-inc/roster/internal/shared/logger"
)

const presenceKeyPrefix = "roster:presence"

// sessionRecord is the JSON blob stored per session. Timestamps are unix
// seconds so sorted-set scores and blob fields stay directly comparable.
type sessionRecord struct {
	SessionID     string         `json:"session_id"`
	SubjectID     string         `json:"subject_id"`
	ScopeID       string         `json:"scope_id,omitempty"`
	ConnectedAt   int64          `json:"connected_at"`
	LastHeartbeat int64          `json:"last_heartbeat"`
	LastActivity  int64          `json:"last_activity"`
	TabVisible    bool           `json:"tab_visible"`
	SubjectActive bool           `json:"subject_active"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// RedisPresenceStore implements presence.Store on redis.
//
// Layout per session: a JSON blob under session:<id> with a TTL safely above
// the presence timeout, a subject:<id>:sessions set for disconnect fan-out,
// and liveness sorted sets (online, plus online:scope:<id> per scope) whose
// members are "<subject>/<session>" scored by last heartbeat. Every write
// updates blob and indexes in one MULTI/EXEC batch.
type RedisPresenceStore struct {
	client         *redis.Client
	defaultTimeout time.Duration
	sessionTTL     time.Duration
	logger         logger.Interface
	now            func() time.Time
}

// NewRedisPresenceStore creates a new redis-backed presence store.
// sessionTTL is the blob expiry and must exceed defaultTimeout so liveness
// decisions are made by the timeout math, with key expiry as the backstop.
func NewRedisPresenceStore(client *redis.Client, defaultTimeout, sessionTTL time.Duration, logger logger.Interface) presence.Store {
	return &RedisPresenceStore{
		client:         client,
		defaultTimeout: defaultTimeout,
		sessionTTL:     sessionTTL,
		logger:         logger,
		now:            biztime.NowUnix,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", presenceKeyPrefix, sessionID)
}

func subjectSessionsKey(subjectID string) string {
	return fmt.Sprintf("%s:subject:%s:sessions", presenceKeyPrefix, subjectID)
}

func onlineKey(scopeID string) string {
	if scopeID == "" {
		return presenceKeyPrefix + ":online"
	}
	return fmt.Sprintf("%s:online:scope:%s", presenceKeyPrefix, scopeID)
}

// scopesKey tracks which per-scope liveness sets exist, so sweep can trim
// them without scanning the keyspace.
func scopesKey() string {
	return presenceKeyPrefix + ":scopes"
}

func onlineMember(subjectID, sessionID string) string {
	return subjectID + "/" + sessionID
}

func parseOnlineMember(member string) (subjectID, sessionID string, ok bool) {
	idx := strings.LastIndex(member, "/")
	if idx <= 0 || idx == len(member)-1 {
		return "", "", false
	}
	return member[:idx], member[idx+1:], true
}

// Connect writes a fresh session record and its index entries in one batch.
// If the session id already exists under a different subject or scope, the
// old index entries are removed first so nothing dangles.
func (s *RedisPresenceStore) Connect(ctx context.Context, params presence.ConnectParams) (*presence.Session, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid connect parameters", err.Error())
	}

	sess, err := presence.NewSession(params.SessionID, params.SubjectID, params.ScopeID, params.Metadata, s.now())
	if err != nil {
		return nil, errors.NewValidationError("invalid connect parameters", err.Error())
	}

	existing, err := s.getRecord(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}

	record := recordFromSession(sess)
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session record: %w", err)
	}

	pipe := s.client.TxPipeline()
	if existing != nil && (existing.SubjectID != record.SubjectID || existing.ScopeID != record.ScopeID) {
		s.removeIndexEntries(ctx, pipe, existing)
	}
	pipe.Set(ctx, sessionKey(record.SessionID), payload, s.sessionTTL)
	s.addIndexEntries(ctx, pipe, record)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Errorw("failed to write presence session",
			"session_id", params.SessionID,
			"subject_id", params.SubjectID,
			"error", err)
		return nil, fmt.Errorf("failed to write presence session: %w", err)
	}

	s.logger.Debugw("presence session connected",
		"session_id", record.SessionID,
		"subject_id", record.SubjectID,
		"scope_id", record.ScopeID)

	return sess, nil
}

// Disconnect removes matching sessions with one deletion batch per session.
func (s *RedisPresenceStore) Disconnect(ctx context.Context, params presence.DisconnectParams) ([]*presence.Session, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid disconnect parameters", err.Error())
	}

	var records []*sessionRecord
	if params.SessionID != "" {
		record, err := s.getRecord(ctx, params.SessionID)
		if err != nil {
			return nil, err
		}
		if record != nil {
			records = append(records, record)
		}
	} else {
		subjectRecords, err := s.recordsForSubject(ctx, params.SubjectID)
		if err != nil {
			return nil, err
		}
		for _, record := range subjectRecords {
			if params.ScopeID != "" && record.ScopeID != params.ScopeID {
				continue
			}
			records = append(records, record)
		}
	}
	if len(records) == 0 {
		return nil, nil
	}

	pipe := s.client.TxPipeline()
	for _, record := range records {
		pipe.Del(ctx, sessionKey(record.SessionID))
		s.removeIndexEntries(ctx, pipe, record)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Errorw("failed to remove presence sessions", "count", len(records), "error", err)
		return nil, fmt.Errorf("failed to remove presence sessions: %w", err)
	}

	removed := make([]*presence.Session, 0, len(records))
	for _, record := range records {
		sess, err := record.toEntity()
		if err != nil {
			s.logger.Warnw("skipping malformed session record", "session_id", record.SessionID, "error", err)
			continue
		}
		removed = append(removed, sess)
	}

	s.logger.Debugw("presence sessions disconnected", "count", len(removed))
	return removed, nil
}

// Heartbeat reads the session blob, applies the heartbeat in memory and
// writes blob plus index scores back in one batch. A missing blob means the
// session is gone, whether it never existed or its key already expired.
func (s *RedisPresenceStore) Heartbeat(ctx context.Context, params presence.HeartbeatParams) error {
	if err := params.Validate(); err != nil {
		return errors.NewValidationError("invalid heartbeat parameters", err.Error())
	}

	record, err := s.getRecord(ctx, params.SessionID)
	if err != nil {
		return err
	}
	if record == nil {
		return errors.NewNotFoundError("session not found", params.SessionID)
	}

	sess, err := record.toEntity()
	if err != nil {
		return fmt.Errorf("failed to reconstruct session %s: %w", params.SessionID, err)
	}
	sess.ApplyHeartbeat(params.TabVisible, params.SubjectActive, params.Metadata, params.ActivityAt, s.now())

	updated := recordFromSession(sess)
	payload, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(updated.SessionID), payload, s.sessionTTL)
	s.addIndexEntries(ctx, pipe, updated)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Errorw("failed to apply heartbeat", "session_id", params.SessionID, "error", err)
		return fmt.Errorf("failed to apply heartbeat: %w", err)
	}

	return nil
}

// OnlineSubjects reads the liveness sorted set for the scope and
// deduplicates subjects client-side, since one subject may hold several
// members (one per session).
func (s *RedisPresenceStore) OnlineSubjects(ctx context.Context, scopeID string, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	threshold := s.now().Add(-timeout).Unix()

	members, err := s.client.ZRangeByScore(ctx, onlineKey(scopeID), &redis.ZRangeBy{
		Min: strconv.FormatInt(threshold, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		s.logger.Errorw("failed to query online subjects", "scope_id", scopeID, "error", err)
		return nil, fmt.Errorf("failed to query online subjects: %w", err)
	}

	seen := make(map[string]bool, len(members))
	subjects := make([]string, 0, len(members))
	for _, member := range members {
		subjectID, _, ok := parseOnlineMember(member)
		if !ok {
			s.logger.Warnw("skipping malformed liveness member", "member", member)
			continue
		}
		if seen[subjectID] {
			continue
		}
		seen[subjectID] = true
		subjects = append(subjects, subjectID)
	}

	return subjects, nil
}

// SessionsForSubject lists a subject's sessions, optionally scoped, ordered
// by connect time for stable output.
func (s *RedisPresenceStore) SessionsForSubject(ctx context.Context, subjectID, scopeID string) ([]*presence.Session, error) {
	records, err := s.recordsForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	sessions := make([]*presence.Session, 0, len(records))
	for _, record := range records {
		if scopeID != "" && record.ScopeID != scopeID {
			continue
		}
		sess, err := record.toEntity()
		if err != nil {
			s.logger.Warnw("skipping malformed session record", "session_id", record.SessionID, "error", err)
			continue
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].ConnectedAt().Equal(sessions[j].ConnectedAt()) {
			return sessions[i].SessionID() < sessions[j].SessionID()
		}
		return sessions[i].ConnectedAt().Before(sessions[j].ConnectedAt())
	})

	return sessions, nil
}

// SessionStatus returns one session or a not-found error.
func (s *RedisPresenceStore) SessionStatus(ctx context.Context, sessionID string) (*presence.Session, error) {
	record, err := s.getRecord(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.NewNotFoundError("session not found", sessionID)
	}
	return record.toEntity()
}

// Sweep walks stale members of the global liveness set and evicts each one
// after re-reading its blob, so a session that heartbeats mid-sweep is left
// alone. Final score-ranged trims on the global and tracked per-scope sets
// clear members whose blob already expired.
func (s *RedisPresenceStore) Sweep(ctx context.Context, timeout time.Duration) ([]*presence.Session, error) {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	threshold := s.now().Add(-timeout).Unix()
	globalKey := onlineKey("")

	members, err := s.client.ZRangeByScore(ctx, globalKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(threshold, 10),
	}).Result()
	if err != nil {
		s.logger.Errorw("failed to query stale sessions", "error", err)
		return nil, fmt.Errorf("failed to query stale sessions: %w", err)
	}

	evicted := make([]*presence.Session, 0, len(members))
	for _, member := range members {
		_, sessionID, ok := parseOnlineMember(member)
		if !ok {
			s.client.ZRem(ctx, globalKey, member)
			continue
		}

		record, err := s.getRecord(ctx, sessionID)
		if err != nil {
			return evicted, err
		}
		if record == nil {
			// Blob already expired, only the index entry is left
			s.client.ZRem(ctx, globalKey, member)
			continue
		}
		if record.LastHeartbeat >= threshold {
			s.logger.Debugw("session revived during sweep", "session_id", sessionID)
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, sessionKey(record.SessionID))
		s.removeIndexEntries(ctx, pipe, record)
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Errorw("failed to evict stale session", "session_id", sessionID, "error", err)
			return evicted, fmt.Errorf("failed to evict stale session %s: %w", sessionID, err)
		}

		sess, err := record.toEntity()
		if err != nil {
			s.logger.Warnw("skipping malformed session record", "session_id", record.SessionID, "error", err)
			continue
		}
		evicted = append(evicted, sess)
	}

	if err := s.client.ZRemRangeByScore(ctx, globalKey, "-inf", "("+strconv.FormatInt(threshold, 10)).Err(); err != nil {
		s.logger.Warnw("failed to trim liveness index", "error", err)
	}
	s.trimScopeIndexes(ctx, threshold)

	if len(evicted) > 0 {
		s.logger.Infow("stale presence sessions evicted", "count", len(evicted))
	}
	return evicted, nil
}

// trimScopeIndexes removes stale scores from every tracked per-scope
// liveness set. Scope members whose blob expired are only reachable here,
// since eviction batches know the scope but orphaned members do not encode
// it. Scopes whose set drained are dropped from the tracking set.
func (s *RedisPresenceStore) trimScopeIndexes(ctx context.Context, threshold int64) {
	scopes, err := s.client.SMembers(ctx, scopesKey()).Result()
	if err != nil {
		s.logger.Warnw("failed to list tracked scopes", "error", err)
		return
	}

	max := "(" + strconv.FormatInt(threshold, 10)
	for _, scopeID := range scopes {
		key := onlineKey(scopeID)
		if err := s.client.ZRemRangeByScore(ctx, key, "-inf", max).Err(); err != nil {
			s.logger.Warnw("failed to trim scope liveness index", "scope_id", scopeID, "error", err)
			continue
		}

		remaining, err := s.client.ZCard(ctx, key).Result()
		if err == nil && remaining == 0 {
			s.client.SRem(ctx, scopesKey(), scopeID)
		}
	}
}

func (s *RedisPresenceStore) getRecord(ctx context.Context, sessionID string) (*sessionRecord, error) {
	payload, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		s.logger.Errorw("failed to read session record", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record %s: %w", sessionID, err)
	}
	return &record, nil
}

func (s *RedisPresenceStore) recordsForSubject(ctx context.Context, subjectID string) ([]*sessionRecord, error) {
	sessionIDs, err := s.client.SMembers(ctx, subjectSessionsKey(subjectID)).Result()
	if err != nil {
		s.logger.Errorw("failed to list subject sessions", "subject_id", subjectID, "error", err)
		return nil, fmt.Errorf("failed to list subject sessions: %w", err)
	}

	records := make([]*sessionRecord, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		record, err := s.getRecord(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if record == nil {
			// Blob expired, drop the dangling set entry
			s.client.SRem(ctx, subjectSessionsKey(subjectID), sessionID)
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

func (s *RedisPresenceStore) addIndexEntries(ctx context.Context, pipe redis.Pipeliner, record *sessionRecord) {
	member := redis.Z{
		Score:  float64(record.LastHeartbeat),
		Member: onlineMember(record.SubjectID, record.SessionID),
	}
	pipe.ZAdd(ctx, onlineKey(""), member)
	if record.ScopeID != "" {
		pipe.ZAdd(ctx, onlineKey(record.ScopeID), member)
		pipe.SAdd(ctx, scopesKey(), record.ScopeID)
	}
	pipe.SAdd(ctx, subjectSessionsKey(record.SubjectID), record.SessionID)
	pipe.Expire(ctx, subjectSessionsKey(record.SubjectID), s.sessionTTL)
}

func (s *RedisPresenceStore) removeIndexEntries(ctx context.Context, pipe redis.Pipeliner, record *sessionRecord) {
	member := onlineMember(record.SubjectID, record.SessionID)
	pipe.ZRem(ctx, onlineKey(""), member)
	if record.ScopeID != "" {
		pipe.ZRem(ctx, onlineKey(record.ScopeID), member)
	}
	pipe.SRem(ctx, subjectSessionsKey(record.SubjectID), record.SessionID)
}

func recordFromSession(sess *presence.Session) *sessionRecord {
	return &sessionRecord{
		SessionID:     sess.SessionID(),
		SubjectID:     sess.SubjectID(),
		ScopeID:       sess.ScopeID(),
		ConnectedAt:   sess.ConnectedAt().Unix(),
		LastHeartbeat: sess.LastHeartbeat().Unix(),
		LastActivity:  sess.LastActivity().Unix(),
		TabVisible:    sess.TabVisible(),
		SubjectActive: sess.SubjectActive(),
		Metadata:      sess.Metadata(),
	}
}

func (r *sessionRecord) toEntity() (*presence.Session, error) {
	return presence.ReconstructSession(
		r.SessionID,
		r.SubjectID,
		r.ScopeID,
		biztime.FromUnix(r.ConnectedAt),
		biztime.FromUnix(r.LastHeartbeat),
		biztime.FromUnix(r.LastActivity),
		r.TabVisible,
		r.SubjectActive,
		r.Metadata,
	)
}
