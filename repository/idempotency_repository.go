package repository

import (
	"context"
	"time"

	"fulfillment-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdempotencyRepository remembers which (effect, event) pairs already completed.
type IdempotencyRepository interface {
	Exists(ctx context.Context, effectName, eventID string) (bool, error)
	Record(ctx context.Context, effectName, eventID string, completedAt time.Time) error
}

type GormIdempotencyRepository struct {
	db *gorm.DB
}

func NewGormIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &GormIdempotencyRepository{db: db}
}

func (r *GormIdempotencyRepository) Exists(ctx context.Context, effectName, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("effect_name = ? AND event_id = ?", effectName, eventID).
		Count(&count).Error
	return count > 0, err
}

// Record is append-only; a concurrent duplicate insert is absorbed by the composite key.
func (r *GormIdempotencyRepository) Record(ctx context.Context, effectName, eventID string, completedAt time.Time) error {
	rec := models.IdempotencyRecord{
		EffectName:  effectName,
		EventID:     eventID,
		CompletedAt: completedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}
