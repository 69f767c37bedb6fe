package store

import (
	"context"

	"github.com/tournevent/delivery/internal/delivery"
	"gorm.io/gorm"
)

// GormStatusLogRepository implements delivery.StatusLogRepository.
// Rows are only ever inserted.
type GormStatusLogRepository struct {
	db *gorm.DB
}

// NewGormStatusLogRepository creates a new GormStatusLogRepository.
func NewGormStatusLogRepository(db *gorm.DB) *GormStatusLogRepository {
	return &GormStatusLogRepository{db: db}
}

// Append inserts a log row and sets its ID.
func (r *GormStatusLogRepository) Append(ctx context.Context, log *delivery.StatusLog) error {
	model := &StatusLogModel{
		ShipmentID: log.ShipmentID,
		Status:     string(log.Status),
		Message:    log.Message,
		Source:     string(log.Source),
		Timestamp:  log.Timestamp,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	log.ID = model.ID
	return nil
}

// ListByShipment returns the history of a shipment, oldest first.
func (r *GormStatusLogRepository) ListByShipment(ctx context.Context, shipmentID string) ([]delivery.StatusLog, error) {
	var rows []StatusLogModel
	if err := r.db.WithContext(ctx).
		Where("shipment_id = ?", shipmentID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	logs := make([]delivery.StatusLog, len(rows))
	for i := range rows {
		logs[i] = rows[i].ToDomain()
	}
	return logs, nil
}

var _ delivery.StatusLogRepository = (*GormStatusLogRepository)(nil)
