package repository

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CustomerRepository interface {
	Upsert(ctx context.Context, email, artifactID string, purchasedAt time.Time) error
	FindByEmail(ctx context.Context, email string) (*models.Customer, error)
}

type GormCustomerRepository struct {
	db *gorm.DB
}

func NewGormCustomerRepository(db *gorm.DB) CustomerRepository {
	return &GormCustomerRepository{db: db}
}

// Upsert creates the customer on first purchase and only bumps last_purchase_at afterwards.
func (r *GormCustomerRepository) Upsert(ctx context.Context, email, artifactID string, purchasedAt time.Time) error {
	c := models.Customer{
		ID:              uuid.NewString(),
		Email:           email,
		FirstArtifactID: artifactID,
		FirstPurchaseAt: purchasedAt,
		LastPurchaseAt:  purchasedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_purchase_at": gorm.Expr("GREATEST(customers.last_purchase_at, excluded.last_purchase_at)"),
			"updated_at":       time.Now(),
		}),
	}).Create(&c).Error
}

func (r *GormCustomerRepository) FindByEmail(ctx context.Context, email string) (*models.Customer, error) {
	var c models.Customer
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
