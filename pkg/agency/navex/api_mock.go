package navex

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAPIClient is a mock implementation of APIClient for testing and local runs.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnCreateParcel func(ctx context.Context, apiKey string, req *ParcelRequest) (*Parcel, error)
	OnGetParcel    func(ctx context.Context, apiKey string, trackingNumber string) (*Parcel, error)
	OnGetAccount   func(ctx context.Context, apiKey string) (*Account, error)

	mu      sync.Mutex
	seq     int
	parcels map[string]string // tracking number -> state
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{
		parcels: make(map[string]string),
	}
}

// CreateParcel returns a new parcel in state "En attente".
func (m *MockAPIClient) CreateParcel(ctx context.Context, apiKey string, req *ParcelRequest) (*Parcel, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateParcel != nil {
		return m.OnCreateParcel(ctx, apiKey, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	tracking := fmt.Sprintf("NVX%08d", m.seq)
	m.parcels[tracking] = "En attente"

	return &Parcel{
		TrackingNumber: tracking,
		Barcode:        tracking,
		PrintURL:       "https://app.navex.tn/print/" + tracking,
		State:          "En attente",
		StateDate:      time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// GetParcel returns the state set with SetState.
func (m *MockAPIClient) GetParcel(ctx context.Context, apiKey string, trackingNumber string) (*Parcel, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetParcel != nil {
		return m.OnGetParcel(ctx, apiKey, trackingNumber)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.parcels[trackingNumber]
	if !ok {
		return nil, &APIError{Code: codeParcelNotFound, Message: "Colis introuvable"}
	}
	return &Parcel{
		TrackingNumber: trackingNumber,
		State:          state,
		StateDate:      time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// GetAccount returns a fixed account.
func (m *MockAPIClient) GetAccount(ctx context.Context, apiKey string) (*Account, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetAccount != nil {
		return m.OnGetAccount(ctx, apiKey)
	}
	return &Account{ID: "mock", Name: "Mock merchant"}, nil
}

// SetState changes the state reported for a parcel.
func (m *MockAPIClient) SetState(trackingNumber, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parcels[trackingNumber] = state
}

func (m *MockAPIClient) simulate() error {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
	if m.SimulateErrors {
		return &APIError{Code: "MOCK_ERROR", Message: "Simulated API error"}
	}
	return nil
}

var _ APIClient = (*MockAPIClient)(nil)
