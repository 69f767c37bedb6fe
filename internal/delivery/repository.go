package delivery

import (
	"context"

	"github.com/tournevent/delivery/pkg/agency"
)

// ShipmentRepository persists shipments. Lookups return ErrShipmentNotFound
// for missing rows.
type ShipmentRepository interface {
	Create(ctx context.Context, s *Shipment) error
	Update(ctx context.Context, s *Shipment) error
	FindByID(ctx context.Context, id string) (*Shipment, error)
	// FindByTracking matches any agency when agencyID is empty.
	FindByTracking(ctx context.Context, agencyID, trackingNumber string) (*Shipment, error)
	List(ctx context.Context, filter ShipmentFilter) ([]Shipment, error)
}

// StatusLogRepository is the append-only status history.
type StatusLogRepository interface {
	Append(ctx context.Context, log *StatusLog) error
	ListByShipment(ctx context.Context, shipmentID string) ([]StatusLog, error)
}

// OrderRepository writes the status field of orders.
type OrderRepository interface {
	// UpdateStatus sets the order status and returns the previous one.
	UpdateStatus(ctx context.Context, orderID string, status string) (string, error)
}

// ActivityRecorder appends audit records.
type ActivityRecorder interface {
	Record(ctx context.Context, a *Activity) error
}

// AgencyResolver resolves adapters and their configuration.
type AgencyResolver interface {
	GetAgency(ctx context.Context, id string) (agency.Adapter, bool)
	GetAgencyConfig(ctx context.Context, id string) (agency.Config, bool)
	IsAgencyEnabled(ctx context.Context, id string) bool
}

// TransitionRecorder counts status changes.
type TransitionRecorder interface {
	RecordStatusTransition(agencyName, status, source string)
}
