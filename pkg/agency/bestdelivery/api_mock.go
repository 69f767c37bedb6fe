package bestdelivery

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

	// Logins, when set, maps accepted logins to their password. Any other
	// pair is refused the way the service refuses bad credentials.
	Logins map[string]string

	OnCreateParcel func(ctx context.Context, auth Auth, req *ParcelRequest) (*ParcelResponse, error)
	OnTrackParcel  func(ctx context.Context, auth Auth, trackingCode string) (*TrackingResponse, error)

	mu      sync.Mutex
	seq     int
	parcels map[string]string // tracking code -> etat
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{
		parcels: make(map[string]string),
	}
}

// CreateParcel returns a new tracking code in state "0" (en attente).
func (m *MockAPIClient) CreateParcel(ctx context.Context, auth Auth, req *ParcelRequest) (*ParcelResponse, error) {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}

	if m.SimulateErrors {
		return nil, &APIError{Code: "MOCK_ERROR", Description: "Simulated API error"}
	}

	if err := m.authenticate(auth); err != nil {
		return nil, err
	}

	if m.OnCreateParcel != nil {
		return m.OnCreateParcel(ctx, auth, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	code := fmt.Sprintf("BD%010d", m.seq)
	m.parcels[code] = "0"

	return &ParcelResponse{
		TrackingCode: code,
		Barcode:      code,
		LabelURL:     "https://www.bestdelivery.com.tn/etiquette.php?code=" + code,
		StatusCode:   "0",
	}, nil
}

// TrackParcel returns the state set with SetState, "0" for new parcels.
func (m *MockAPIClient) TrackParcel(ctx context.Context, auth Auth, trackingCode string) (*TrackingResponse, error) {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}

	if m.SimulateErrors {
		return nil, &APIError{Code: "MOCK_ERROR", Description: "Simulated API error"}
	}

	if err := m.authenticate(auth); err != nil {
		return nil, err
	}

	if m.OnTrackParcel != nil {
		return m.OnTrackParcel(ctx, auth, trackingCode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	etat, ok := m.parcels[trackingCode]
	if !ok {
		return nil, &APIError{Code: codeTrackingNotFound, Description: "Colis introuvable"}
	}

	return &TrackingResponse{
		TrackingCode: trackingCode,
		StatusCode:   etat,
		StatusLabel:  statusLabels[etat],
		UpdatedAt:    time.Now().Format(dateLayout),
	}, nil
}

func (m *MockAPIClient) authenticate(auth Auth) error {
	if m.Logins == nil {
		return nil
	}
	if pw, ok := m.Logins[auth.Login]; ok && pw == auth.Password {
		return nil
	}
	return &APIError{Code: codeAuthFailed, Description: "Login ou mot de passe incorrect"}
}

// SetState changes the state reported for a parcel.
func (m *MockAPIClient) SetState(trackingCode, etat string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parcels[trackingCode] = etat
}

var _ APIClient = (*MockAPIClient)(nil)
