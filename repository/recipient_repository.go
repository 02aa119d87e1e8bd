package repository

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecipientRepository defines data-access operations for drip sequence recipients.
type RecipientRepository interface {
	// Enroll inserts the recipient unless (email, sequence) already exists and returns the stored row.
	Enroll(ctx context.Context, r *models.Recipient) (*models.Recipient, bool, error)
	FindByEmail(ctx context.Context, email, sequence string) (*models.Recipient, error)
	// ListDue returns one page of the active cohort ordered by (enrolled_at, id), strictly after the cursor.
	ListDue(ctx context.Context, sequence string, steps int, now time.Time, after DueCursor, limit int) ([]models.Recipient, error)
	// AdvanceStep is a compare-and-set on last_step_sent.
	AdvanceStep(ctx context.Context, id string, from, to int, sentAt time.Time) (bool, error)
	MarkConverted(ctx context.Context, email, sequence string, at time.Time) (int64, error)
}

// DueCursor is the keyset position of the last recipient of a page. The zero value starts at the beginning.
type DueCursor struct {
	EnrolledAt time.Time
	ID         string
}

// After returns the cursor positioned at rec.
func (c DueCursor) After(rec models.Recipient) DueCursor {
	return DueCursor{EnrolledAt: rec.EnrolledAt, ID: rec.ID}
}

type GormRecipientRepository struct {
	db *gorm.DB
}

func NewGormRecipientRepository(db *gorm.DB) RecipientRepository {
	return &GormRecipientRepository{db: db}
}

func (r *GormRecipientRepository) Enroll(ctx context.Context, rec *models.Recipient) (*models.Recipient, bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}, {Name: "sequence"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return nil, false, res.Error
	}
	created := res.RowsAffected > 0

	stored, err := r.FindByEmail(ctx, rec.Email, rec.Sequence)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (r *GormRecipientRepository) FindByEmail(ctx context.Context, email, sequence string) (*models.Recipient, error) {
	var rec models.Recipient
	if err := r.db.WithContext(ctx).
		Where("email = ? AND sequence = ?", email, sequence).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *GormRecipientRepository) ListDue(ctx context.Context, sequence string, steps int, now time.Time, after DueCursor, limit int) ([]models.Recipient, error) {
	if limit <= 0 {
		limit = 500
	}
	q := r.db.WithContext(ctx).
		Where("sequence = ? AND has_converted = ? AND enrolled_at <= ? AND last_step_sent < ?", sequence, false, now, steps)
	if after.ID != "" {
		q = q.Where("(enrolled_at, id) > (?, ?)", after.EnrolledAt, after.ID)
	}
	var recs []models.Recipient
	err := q.Order("enrolled_at ASC, id ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *GormRecipientRepository) AdvanceStep(ctx context.Context, id string, from, to int, sentAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Recipient{}).
		Where("id = ? AND last_step_sent = ?", id, from).
		Updates(map[string]interface{}{
			"last_step_sent": to,
			"last_sent_at":   sentAt,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkConverted flags the email as converted. An empty sequence converts every enrollment.
func (r *GormRecipientRepository) MarkConverted(ctx context.Context, email, sequence string, at time.Time) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Recipient{}).
		Where("email = ? AND has_converted = ?", email, false)
	if sequence != "" {
		q = q.Where("sequence = ?", sequence)
	}
	res := q.Updates(map[string]interface{}{
		"has_converted": true,
		"converted_at":  at,
	})
	return res.RowsAffected, res.Error
}
