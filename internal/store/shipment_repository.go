package store

import (
	"context"
	"errors"

	"github.com/tournevent/delivery/internal/delivery"
	"github.com/tournevent/delivery/pkg/agency"
	"gorm.io/gorm"
)

// GormShipmentRepository implements delivery.ShipmentRepository.
type GormShipmentRepository struct {
	db *gorm.DB
}

// NewGormShipmentRepository creates a new GormShipmentRepository.
func NewGormShipmentRepository(db *gorm.DB) *GormShipmentRepository {
	return &GormShipmentRepository{db: db}
}

// Create inserts a shipment. A tracking number already used within the
// agency yields delivery.ErrDuplicateTracking.
func (r *GormShipmentRepository) Create(ctx context.Context, s *delivery.Shipment) error {
	err := r.db.WithContext(ctx).Create(shipmentFromDomain(s)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return delivery.ErrDuplicateTracking
	}
	return err
}

// Update saves every mutable field of a shipment.
func (r *GormShipmentRepository) Update(ctx context.Context, s *delivery.Shipment) error {
	result := r.db.WithContext(ctx).Model(&ShipmentModel{}).
		Where("id = ?", s.ID).
		Updates(map[string]interface{}{
			"status":             string(s.Status),
			"last_status_update": s.LastStatusUpdate,
			"barcode":            s.Barcode,
			"print_url":          s.PrintURL,
			"updated_at":         s.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return delivery.ErrShipmentNotFound
	}
	return nil
}

// FindByID finds a shipment by its ID.
func (r *GormShipmentRepository) FindByID(ctx context.Context, id string) (*delivery.Shipment, error) {
	var model ShipmentModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err, delivery.ErrShipmentNotFound)
	}
	return model.ToDomain(), nil
}

// FindByTracking finds a shipment by tracking number, within agencyID when set.
func (r *GormShipmentRepository) FindByTracking(ctx context.Context, agencyID, trackingNumber string) (*delivery.Shipment, error) {
	query := r.db.WithContext(ctx).Where("tracking_number = ?", trackingNumber)
	if agencyID != "" {
		query = query.Where("agency_id = ?", agencyID)
	}

	var model ShipmentModel
	if err := query.Order("created_at DESC").First(&model).Error; err != nil {
		return nil, notFound(err, delivery.ErrShipmentNotFound)
	}
	return model.ToDomain(), nil
}

// List returns shipments matching filter, least recently updated first.
func (r *GormShipmentRepository) List(ctx context.Context, filter delivery.ShipmentFilter) ([]delivery.Shipment, error) {
	query := r.db.WithContext(ctx).Model(&ShipmentModel{})
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", statusStrings(filter.Statuses))
	}
	if filter.AgencyID != "" {
		query = query.Where("agency_id = ?", filter.AgencyID)
	}
	if filter.OrderID != "" {
		query = query.Where("order_id = ?", filter.OrderID)
	}
	if !filter.UpdatedBefore.IsZero() {
		query = query.Where("last_status_update < ?", filter.UpdatedBefore)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []ShipmentModel
	if err := query.Order("last_status_update ASC").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}

	shipments := make([]delivery.Shipment, len(rows))
	for i := range rows {
		shipments[i] = *rows[i].ToDomain()
	}
	return shipments, nil
}

func statusStrings(statuses []agency.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

var _ delivery.ShipmentRepository = (*GormShipmentRepository)(nil)
