// Package agency provides an abstraction layer for delivery agencies (couriers).
//
// Each courier is an Adapter that translates a normalized Order into the courier's
// own protocol and maps the courier's status vocabulary onto the five standard
// delivery statuses through a StatusTable.
package agency

import (
	"context"
)

// Adapter defines the interface that all delivery agencies must implement.
type Adapter interface {
	// Name returns the agency identifier (e.g., "bestdelivery", "navex").
	Name() string

	// SupportedRegions returns the governorates the agency delivers to.
	// An empty list means every region is accepted.
	SupportedRegions() []string

	// CreateOrder registers a new parcel with the agency.
	CreateOrder(ctx context.Context, order *Order, creds Credentials) (*CreateOrderResult, error)

	// TrackOrder fetches the current status of a parcel.
	TrackOrder(ctx context.Context, trackingNumber string, creds Credentials) (*TrackingResult, error)

	// TestConnection checks that the credentials authenticate. It must not create orders.
	TestConnection(ctx context.Context, creds Credentials) error
}
