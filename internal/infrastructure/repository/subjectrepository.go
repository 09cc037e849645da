package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/orris-inc/roster/internal/domain/presence"
	"github.com/orris-inc/roster/internal/infrastructure/persistence/models"
	"github.com/orris-inc/roster/internal/shared/logger"
)

// SubjectRepositoryImpl resolves subject display data from the subjects
// table for presence-changed event enrichment.
type SubjectRepositoryImpl struct {
	db     *gorm.DB
	logger logger.Interface
}

// NewSubjectRepository creates a new database-backed subject data provider.
func NewSubjectRepository(db *gorm.DB, logger logger.Interface) presence.SubjectDataProvider {
	return &SubjectRepositoryImpl{db: db, logger: logger}
}

// FetchDisplayData returns display attributes for a subject. An unknown
// subject yields an empty map, not an error: presence events still fire
// for subjects without a display row.
func (r *SubjectRepositoryImpl) FetchDisplayData(ctx context.Context, subjectID string) (map[string]any, error) {
	var row models.SubjectModel
	err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return map[string]any{}, nil
		}
		r.logger.Errorw("failed to fetch subject display data", "subject_id", subjectID, "error", err)
		return nil, fmt.Errorf("failed to fetch subject display data: %w", err)
	}

	data := map[string]any{
		"display_name": row.DisplayName,
	}
	if row.AvatarURL != "" {
		data["avatar_url"] = row.AvatarURL
	}
	return data, nil
}
