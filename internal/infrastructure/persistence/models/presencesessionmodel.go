package models

import (
	"time"

	"gorm.io/datatypes"
)

// PresenceSessionModel is the GORM model for the presence_sessions table.
// One row per live session; session_id is the upsert key, subject_id and
// last_heartbeat are indexed so disconnect fan-out, online queries and
// sweeps are index scans.
type PresenceSessionModel struct {
	ID            uint              `gorm:"primaryKey;autoIncrement"`
	SessionID     string            `gorm:"column:session_id;type:varchar(64);not null;uniqueIndex"`
	SubjectID     string            `gorm:"column:subject_id;type:varchar(64);not null;index"`
	ScopeID       string            `gorm:"column:scope_id;type:varchar(64);not null;default:'';index"`
	ConnectedAt   time.Time         `gorm:"column:connected_at;not null"`
	LastHeartbeat time.Time         `gorm:"column:last_heartbeat;not null;index"`
	LastActivity  time.Time         `gorm:"column:last_activity;not null"`
	TabVisible    bool              `gorm:"column:tab_visible;not null;default:true"`
	SubjectActive bool              `gorm:"column:subject_active;not null;default:true"`
	Metadata      datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the table name for GORM
func (PresenceSessionModel) TableName() string {
	return "presence_sessions"
}
