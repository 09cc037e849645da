package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apppresence "github.com/orris-inc/roster/internal/application/presence"
	"github.com/orris-inc/roster/internal/domain/presence"
	"github.com/orris-inc/roster/internal/shared/biztime"
	"github.com/orris-inc/roster/internal/shared/logger"
	"github.com/orris-inc/roster/internal/shared/utils"
)

// SessionResponse is the JSON shape of one presence session.
type SessionResponse struct {
	SessionID     string         `json:"session_id"`
	SubjectID     string         `json:"subject_id"`
	ScopeID       string         `json:"scope_id,omitempty"`
	ConnectedAt   time.Time      `json:"connected_at"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	LastActivity  time.Time      `json:"last_activity"`
	TabVisible    bool           `json:"tab_visible"`
	SubjectActive bool           `json:"subject_active"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Online        bool           `json:"online"`
}

// PresenceHandler serves the read-side REST endpoints and the on-demand
// sweep trigger.
type PresenceHandler struct {
	registry *apppresence.Registry
	logger   logger.Interface
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(registry *apppresence.Registry, logger logger.Interface) *PresenceHandler {
	return &PresenceHandler{
		registry: registry,
		logger:   logger,
	}
}

// GetOnlineSubjects returns deduplicated subject ids currently online,
// optionally restricted to the scope_id query parameter.
func (h *PresenceHandler) GetOnlineSubjects(c *gin.Context) {
	scopeID := c.Query("scope_id")

	subjects, err := h.registry.OnlineSubjects(c.Request.Context(), scopeID)
	if err != nil {
		h.logger.Errorw("failed to list online subjects", "scope_id", scopeID, "error", err)
		utils.ErrorResponseWithError(c, err)
		return
	}
	if subjects == nil {
		subjects = []string{}
	}

	utils.SuccessResponse(c, http.StatusOK, "", gin.H{
		"subjects": subjects,
		"count":    len(subjects),
	})
}

// GetSubjectSessions lists all sessions of one subject.
func (h *PresenceHandler) GetSubjectSessions(c *gin.Context) {
	subjectID := c.Param("subject_id")
	scopeID := c.Query("scope_id")

	sessions, err := h.registry.SessionsForSubject(c.Request.Context(), subjectID, scopeID)
	if err != nil {
		h.logger.Errorw("failed to list subject sessions", "subject_id", subjectID, "error", err)
		utils.ErrorResponseWithError(c, err)
		return
	}

	now := biztime.NowUTC()
	views := make([]SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, h.toResponse(sess, sess.Online(now, h.registry.Timeout())))
	}

	utils.SuccessResponse(c, http.StatusOK, "", gin.H{
		"subject_id": subjectID,
		"sessions":   views,
	})
}

// GetSessionStatus returns one session with its current liveness.
func (h *PresenceHandler) GetSessionStatus(c *gin.Context) {
	sessionID := c.Param("session_id")

	sess, online, err := h.registry.SessionStatus(c.Request.Context(), sessionID)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", h.toResponse(sess, online))
}

// SweepNow runs an on-demand sweep and reports the eviction count.
func (h *PresenceHandler) SweepNow(c *gin.Context) {
	count, err := h.registry.Sweep(c.Request.Context())
	if err != nil {
		h.logger.Errorw("on-demand sweep failed", "error", err)
		utils.ErrorResponseWithError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", gin.H{"evicted": count})
}

func (h *PresenceHandler) toResponse(sess *presence.Session, online bool) SessionResponse {
	return SessionResponse{
		SessionID:     sess.SessionID(),
		SubjectID:     sess.SubjectID(),
		ScopeID:       sess.ScopeID(),
		ConnectedAt:   sess.ConnectedAt(),
		LastHeartbeat: sess.LastHeartbeat(),
		LastActivity:  sess.LastActivity(),
		TabVisible:    sess.TabVisible(),
		SubjectActive: sess.SubjectActive(),
		Metadata:      sess.Metadata(),
		Online:        online,
	}
}
