// Package mock provides an in-memory agency adapter for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tournevent/delivery/pkg/agency"
)

// Adapter is a mock agency. Parcels it creates start as UPLOADED and keep
// whatever status is later assigned with SetStatus.
type Adapter struct {
	name    string
	regions []string

	// OnCreateOrder, OnTrackOrder and OnTestConnection override the default behavior.
	OnCreateOrder    func(ctx context.Context, order *agency.Order, creds agency.Credentials) (*agency.CreateOrderResult, error)
	OnTrackOrder     func(ctx context.Context, trackingNumber string, creds agency.Credentials) (*agency.TrackingResult, error)
	OnTestConnection func(ctx context.Context, creds agency.Credentials) error

	// TrackDelay makes every TrackOrder call block for the given duration
	// (or until the context ends).
	TrackDelay time.Duration

	mu       sync.Mutex
	seq      int
	statuses map[string]agency.Status
	orders   []agency.Order
	creates  int
	tracks   int
	tests    int
}

// New creates a new mock adapter.
func New(name string, regions ...string) *Adapter {
	return &Adapter{
		name:     name,
		regions:  regions,
		statuses: make(map[string]agency.Status),
	}
}

// Name returns the agency name.
func (a *Adapter) Name() string {
	return a.name
}

// SupportedRegions returns the regions passed to New.
func (a *Adapter) SupportedRegions() []string {
	return a.regions
}

// CreateOrder validates the order and returns a new tracking number.
func (a *Adapter) CreateOrder(ctx context.Context, order *agency.Order, creds agency.Credentials) (*agency.CreateOrderResult, error) {
	a.mu.Lock()
	a.creates++
	if order != nil {
		a.orders = append(a.orders, *order)
	}
	a.mu.Unlock()

	if err := agency.ValidateRequest(a.name, a.regions, order, creds); err != nil {
		return nil, err
	}
	if a.OnCreateOrder != nil {
		return a.OnCreateOrder(ctx, order, creds)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	tracking := fmt.Sprintf("%s-%06d", a.name, a.seq)
	a.statuses[tracking] = agency.StatusUploaded
	return &agency.CreateOrderResult{
		TrackingNumber: tracking,
		Barcode:        tracking,
		PrintURL:       "https://labels.example.test/" + tracking,
		Status:         agency.StatusUploaded,
		RawStatus:      string(agency.StatusUploaded),
	}, nil
}

// TrackOrder returns the status last assigned to trackingNumber.
func (a *Adapter) TrackOrder(ctx context.Context, trackingNumber string, creds agency.Credentials) (*agency.TrackingResult, error) {
	a.mu.Lock()
	a.tracks++
	a.mu.Unlock()

	if a.TrackDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, agency.NewError(a.name, agency.KindNetwork, agency.ErrCancelled.Code, "call cancelled").
				WithCause(ctx.Err())
		case <-time.After(a.TrackDelay):
		}
	}
	if a.OnTrackOrder != nil {
		return a.OnTrackOrder(ctx, trackingNumber, creds)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.statuses[trackingNumber]
	if !ok {
		return nil, agency.NewError(a.name, agency.KindBusiness, "NOT_FOUND", "unknown tracking number")
	}
	return &agency.TrackingResult{
		TrackingNumber: trackingNumber,
		Status:         st,
		RawStatus:      string(st),
		LastUpdated:    time.Now(),
	}, nil
}

// TestConnection succeeds unless overridden.
func (a *Adapter) TestConnection(ctx context.Context, creds agency.Credentials) error {
	a.mu.Lock()
	a.tests++
	a.mu.Unlock()

	if a.OnTestConnection != nil {
		return a.OnTestConnection(ctx, creds)
	}
	return nil
}

// SetStatus changes the status reported for trackingNumber.
func (a *Adapter) SetStatus(trackingNumber string, status agency.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses[trackingNumber] = status
}

// CreateCalls returns the number of CreateOrder calls.
func (a *Adapter) CreateCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creates
}

// TrackCalls returns the number of TrackOrder calls.
func (a *Adapter) TrackCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracks
}

// TestCalls returns the number of TestConnection calls.
func (a *Adapter) TestCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tests
}

// Orders returns every order passed to CreateOrder.
func (a *Adapter) Orders() []agency.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]agency.Order, len(a.orders))
	copy(out, a.orders)
	return out
}

var _ agency.Adapter = (*Adapter)(nil)
