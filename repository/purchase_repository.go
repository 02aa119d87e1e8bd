package repository

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PurchaseRepository defines data-access operations for purchase records.
type PurchaseRepository interface {
	FindByID(ctx context.Context, artifactID string) (*models.PurchaseRecord, error)
	MarkPaid(ctx context.Context, artifactID, email string, paidAt time.Time) error
	MarkExpired(ctx context.Context, artifactID string) (bool, error)
	RecordRefund(ctx context.Context, artifactID string, at time.Time) (bool, error)
	RecordDispute(ctx context.Context, artifactID string, at time.Time) (bool, error)
}

type GormPurchaseRepository struct {
	db *gorm.DB
}

func NewGormPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &GormPurchaseRepository{db: db}
}

func (r *GormPurchaseRepository) FindByID(ctx context.Context, artifactID string) (*models.PurchaseRecord, error) {
	var p models.PurchaseRecord
	if err := r.db.WithContext(ctx).First(&p, "id = ?", artifactID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// MarkPaid upserts the record as paid in a single statement. Re-marking a paid record keeps the
// original paid_at. An expired record is left alone and ErrInvalidTransition is returned.
func (r *GormPurchaseRepository) MarkPaid(ctx context.Context, artifactID, email string, paidAt time.Time) error {
	rec := models.PurchaseRecord{
		ID:     artifactID,
		Status: models.PurchaseStatusPaid,
		PaidAt: &paidAt,
	}
	if email != "" {
		rec.CustomerEmail = &email
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":         models.PurchaseStatusPaid,
			"paid_at":        gorm.Expr("COALESCE(purchase_records.paid_at, excluded.paid_at)"),
			"customer_email": gorm.Expr("COALESCE(excluded.customer_email, purchase_records.customer_email)"),
			"updated_at":     time.Now(),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Neq{Column: clause.Column{Table: "purchase_records", Name: "status"}, Value: models.PurchaseStatusExpired},
		}},
	}).Create(&rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkExpired moves a pending record to expired. Missing or non-pending records are untouched.
func (r *GormPurchaseRepository) MarkExpired(ctx context.Context, artifactID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PurchaseRecord{}).
		Where("id = ? AND status = ?", artifactID, models.PurchaseStatusPending).
		Update("status", models.PurchaseStatusExpired)
	return res.RowsAffected > 0, res.Error
}

func (r *GormPurchaseRepository) RecordRefund(ctx context.Context, artifactID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PurchaseRecord{}).
		Where("id = ? AND refunded_at IS NULL", artifactID).
		Update("refunded_at", at)
	return res.RowsAffected > 0, res.Error
}

func (r *GormPurchaseRepository) RecordDispute(ctx context.Context, artifactID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PurchaseRecord{}).
		Where("id = ? AND disputed_at IS NULL", artifactID).
		Update("disputed_at", at)
	return res.RowsAffected > 0, res.Error
}
