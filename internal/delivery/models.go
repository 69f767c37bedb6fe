package delivery

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tournevent/delivery/pkg/agency"
)

// Source identifies what caused a status change.
type Source string

const (
	SourceAPI     Source = "api"
	SourceWebhook Source = "webhook"
	SourceManual  Source = "manual"
)

// Snapshot is the copy of the order taken when a shipment is created.
// Retries rebuild the courier order from it, never from the live order.
type Snapshot struct {
	CustomerName string          `json:"customerName"`
	Phone        string          `json:"phone"`
	Phone2       string          `json:"phone2,omitempty"`
	Address      string          `json:"address"`
	City         string          `json:"city"`
	Product      string          `json:"product"`
	Price        decimal.Decimal `json:"price"`
	Note         string          `json:"note,omitempty"`
}

// SnapshotOf copies an order.
func SnapshotOf(o agency.Order) Snapshot {
	return Snapshot{
		CustomerName: o.CustomerName,
		Phone:        o.Phone,
		Phone2:       o.Phone2,
		Address:      o.Address,
		City:         o.City,
		Product:      o.Product,
		Price:        o.Price,
		Note:         o.Note,
	}
}

// Order rebuilds the normalized order.
func (s Snapshot) Order() agency.Order {
	return agency.Order{
		CustomerName: s.CustomerName,
		Phone:        s.Phone,
		Phone2:       s.Phone2,
		Address:      s.Address,
		City:         s.City,
		Product:      s.Product,
		Price:        s.Price,
		Note:         s.Note,
	}
}

// Shipment is one courier consignment for one order.
type Shipment struct {
	ID               string        `json:"id"`
	OrderID          string        `json:"orderId"`
	AgencyID         string        `json:"agencyId"`
	TrackingNumber   string        `json:"trackingNumber"`
	Barcode          string        `json:"barcode,omitempty"`
	Status           agency.Status `json:"status"`
	LastStatusUpdate time.Time     `json:"lastStatusUpdate"`
	PrintURL         string        `json:"printUrl,omitempty"`
	Metadata         Snapshot      `json:"metadata"`
	CreatedBy        string        `json:"createdBy,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// StatusLog is one append-only row of a shipment's status history.
type StatusLog struct {
	ID         int64         `json:"id"`
	ShipmentID string        `json:"shipmentId"`
	Status     agency.Status `json:"status"`
	Message    string        `json:"message,omitempty"`
	Source     Source        `json:"source"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Activity is an audit record.
type Activity struct {
	ID          string         `json:"id"`
	ActorID     string         `json:"actorId"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Activity types.
const (
	ActivityShipmentCreated   = "delivery.shipment_created"
	ActivityStatusChanged     = "delivery.status_changed"
	ActivityStatusOverridden  = "delivery.status_overridden"
	ActivityShipmentRetried   = "delivery.shipment_retried"
	ActivityShipmentCancelled = "delivery.shipment_cancelled"
)

// ShipmentFilter selects shipments. Zero fields do not filter.
type ShipmentFilter struct {
	Statuses []agency.Status
	AgencyID string
	OrderID  string
	// UpdatedBefore keeps shipments whose last status update is older.
	UpdatedBefore time.Time
	Limit         int
}

// CreateRequest asks for a new shipment.
type CreateRequest struct {
	OrderID  string       `json:"orderId" binding:"required"`
	AgencyID string       `json:"agencyId" binding:"required"`
	Order    agency.Order `json:"order"`
	ActorID  string       `json:"-"`
}

// OrderResponse is the outcome of a create or retry.
type OrderResponse struct {
	Success        bool                `json:"success"`
	ShipmentID     string              `json:"shipmentId,omitempty"`
	TrackingNumber string              `json:"trackingNumber,omitempty"`
	Barcode        string              `json:"barcode,omitempty"`
	PrintURL       string              `json:"printUrl,omitempty"`
	Status         agency.Status       `json:"status,omitempty"`
	Kind           agency.Kind         `json:"kind,omitempty"`
	Code           string              `json:"code,omitempty"`
	Error          string              `json:"error,omitempty"`
	Fields         []agency.FieldError `json:"fields,omitempty"`
}

// TrackingResponse is the outcome of tracking one shipment.
type TrackingResponse struct {
	Success             bool          `json:"success"`
	ShipmentID          string        `json:"shipmentId"`
	TrackingNumber      string        `json:"trackingNumber,omitempty"`
	StatusChanged       bool          `json:"statusChanged"`
	Status              agency.Status `json:"status,omitempty"`
	PreviousStatus      agency.Status `json:"previousStatus,omitempty"`
	OrderStatus         string        `json:"orderStatus,omitempty"`
	PreviousOrderStatus string        `json:"previousOrderStatus,omitempty"`
	RawStatus           string        `json:"rawStatus,omitempty"`
	Message             string        `json:"message,omitempty"`
	LastUpdated         time.Time     `json:"lastUpdated,omitempty"`
	Kind                agency.Kind   `json:"kind,omitempty"`
	Code                string        `json:"code,omitempty"`
	Error               string        `json:"error,omitempty"`
}

// BulkError reports one id a bulk update could not change.
type BulkError struct {
	ShipmentID string `json:"shipmentId"`
	Error      string `json:"error"`
}

// BulkUpdateResult is the outcome of a bulk status override.
type BulkUpdateResult struct {
	Success bool        `json:"success"`
	Updated int         `json:"updated"`
	Errors  []BulkError `json:"errors"`
}
