package bestdelivery

import (
	"context"
)

// APIClient defines the Best Delivery web service operations.
// It is implemented by the SOAP client and by MockAPIClient.
type APIClient interface {
	// CreateParcel registers a parcel (CreateColis).
	CreateParcel(ctx context.Context, auth Auth, req *ParcelRequest) (*ParcelResponse, error)

	// TrackParcel returns the current state of a parcel (TrackColis).
	TrackParcel(ctx context.Context, auth Auth, trackingCode string) (*TrackingResponse, error)
}

// ============================================================================
// API Request/Response Types (match the Best Delivery SOAP structure)
// ============================================================================

// Auth holds the web service login.
type Auth struct {
	Login    string
	Password string
}

// ParcelRequest is a CreateColis request.
type ParcelRequest struct {
	Name        string
	Governorate string
	Address     string
	Phone       string
	Phone2      string
	Designation string
	Price       string // dinars, three decimals
	Pieces      int
	Comment     string
}

// ParcelResponse is a CreateColis result.
type ParcelResponse struct {
	TrackingCode string
	Barcode      string
	LabelURL     string
	StatusCode   string
}

// TrackingResponse is a TrackColis result.
type TrackingResponse struct {
	TrackingCode string
	StatusCode   string
	StatusLabel  string
	UpdatedAt    string // "2006-01-02 15:04:05", Africa/Tunis
}

// APIError is a failure reported by the web service itself.
type APIError struct {
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Description
}

// Error codes returned by the service.
const (
	codeAuthFailed       = "AUTH_FAILED"
	codeTrackingNotFound = "TRACKING_NOT_FOUND"
)
