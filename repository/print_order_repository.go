package repository

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PrintOrderRepository defines data-access operations for print orders.
type PrintOrderRepository interface {
	CreateIfAbsent(ctx context.Context, order *models.PrintOrder) (*models.PrintOrder, error)
	FindByID(ctx context.Context, id string) (*models.PrintOrder, error)
	// Transition applies fields only while the order is in one of the from statuses.
	Transition(ctx context.Context, id string, from []models.PrintOrderStatus, fields map[string]interface{}) (bool, error)
	ListStale(ctx context.Context, statuses []models.PrintOrderStatus, updatedBefore time.Time, limit int) ([]models.PrintOrder, error)
}

type GormPrintOrderRepository struct {
	db *gorm.DB
}

func NewGormPrintOrderRepository(db *gorm.DB) PrintOrderRepository {
	return &GormPrintOrderRepository{db: db}
}

// CreateIfAbsent inserts the order keyed by correlation id and returns whatever is stored,
// so a second delivery gets the first delivery's row back.
func (r *GormPrintOrderRepository) CreateIfAbsent(ctx context.Context, order *models.PrintOrder) (*models.PrintOrder, error) {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(order).Error; err != nil {
		return nil, err
	}
	return r.FindByID(ctx, order.ID)
}

func (r *GormPrintOrderRepository) FindByID(ctx context.Context, id string) (*models.PrintOrder, error) {
	var o models.PrintOrder
	if err := r.db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *GormPrintOrderRepository) Transition(ctx context.Context, id string, from []models.PrintOrderStatus, fields map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PrintOrder{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	return res.RowsAffected > 0, res.Error
}

func (r *GormPrintOrderRepository) ListStale(ctx context.Context, statuses []models.PrintOrderStatus, updatedBefore time.Time, limit int) ([]models.PrintOrder, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var orders []models.PrintOrder
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
