package models

import "time"

// SubjectModel holds display data for a subject, used to enrich
// presence-changed events. Rows are optional; a subject without one simply
// gets no display data.
type SubjectModel struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	SubjectID   string    `gorm:"column:subject_id;type:varchar(64);not null;uniqueIndex"`
	DisplayName string    `gorm:"column:display_name;type:varchar(255)"`
	AvatarURL   string    `gorm:"column:avatar_url;type:varchar(512)"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the table name for GORM
func (SubjectModel) TableName() string {
	return "subjects"
}
