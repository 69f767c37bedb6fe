package delivery

import "errors"

var (
	// ErrShipmentNotFound is returned when a shipment id or tracking number is unknown.
	ErrShipmentNotFound = errors.New("shipment not found")

	// ErrInvalidStatus is returned for a status outside the shipment status set.
	ErrInvalidStatus = errors.New("invalid shipment status")

	// ErrActiveShipmentExists is reported when an order already has an active shipment.
	ErrActiveShipmentExists = errors.New("order already has an active shipment")

	// ErrDuplicateTracking is returned when a tracking number is already used within an agency.
	ErrDuplicateTracking = errors.New("tracking number already exists for agency")
)

// Failure codes carried by unsuccessful responses.
const (
	CodeActiveShipmentExists = "ACTIVE_SHIPMENT_EXISTS"
	CodeDuplicateTracking    = "DUPLICATE_TRACKING"
	CodeShipmentCancelled    = "SHIPMENT_CANCELLED"
	CodeShipmentDelivered    = "SHIPMENT_DELIVERED"
)
