package store

import (
	"context"
	"time"

	"github.com/tournevent/delivery/internal/delivery"
	"gorm.io/gorm"
)

// GormOrderRepository writes the status field of orders.
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository.
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Create inserts an order with the given status.
func (r *GormOrderRepository) Create(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).Create(&OrderModel{ID: id, Status: status}).Error
}

// Status returns the status of an order.
func (r *GormOrderRepository) Status(ctx context.Context, id string) (string, error) {
	var model OrderModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return "", notFound(err, ErrNotFound)
	}
	return model.Status, nil
}

// UpdateStatus sets the status of an order and returns the previous one.
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id, status string) (string, error) {
	var previous string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return notFound(err, ErrNotFound)
		}
		previous = model.Status
		return tx.Model(&model).Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil {
		return "", err
	}
	return previous, nil
}

var _ delivery.OrderRepository = (*GormOrderRepository)(nil)
