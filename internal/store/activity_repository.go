package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/delivery/internal/delivery"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormActivityRepository stores audit records.
type GormActivityRepository struct {
	db *gorm.DB
}

// NewGormActivityRepository creates a new GormActivityRepository.
func NewGormActivityRepository(db *gorm.DB) *GormActivityRepository {
	return &GormActivityRepository{db: db}
}

// Record inserts an activity, filling in its ID and time when unset.
func (r *GormActivityRepository) Record(ctx context.Context, a *delivery.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(&ActivityModel{
		ID:          a.ID,
		ActorID:     a.ActorID,
		Type:        a.Type,
		Description: a.Description,
		Metadata:    datatypes.JSONMap(a.Metadata),
		CreatedAt:   a.CreatedAt,
	}).Error
}

// ListByType returns activities of one type, oldest first.
func (r *GormActivityRepository) ListByType(ctx context.Context, activityType string) ([]delivery.Activity, error) {
	var rows []ActivityModel
	if err := r.db.WithContext(ctx).
		Where("type = ?", activityType).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	activities := make([]delivery.Activity, len(rows))
	for i := range rows {
		activities[i] = rows[i].ToDomain()
	}
	return activities, nil
}

var _ delivery.ActivityRecorder = (*GormActivityRepository)(nil)
