package navex

import (
	"context"
)

// APIClient defines the Navex REST API operations.
type APIClient interface {
	// CreateParcel creates a parcel (POST /api/v1/parcels).
	CreateParcel(ctx context.Context, apiKey string, req *ParcelRequest) (*Parcel, error)

	// GetParcel returns a parcel by tracking number (GET /api/v1/parcels/{tracking}).
	GetParcel(ctx context.Context, apiKey string, trackingNumber string) (*Parcel, error)

	// GetAccount returns the account behind the key (GET /api/v1/account).
	GetAccount(ctx context.Context, apiKey string) (*Account, error)
}

// ============================================================================
// API Request/Response Types (match the Navex JSON API)
// ============================================================================

// ParcelRequest is the body of a parcel creation.
type ParcelRequest struct {
	ClientName  string `json:"client_name"`
	Governorate string `json:"governorate"`
	Address     string `json:"address"`
	Phone       string `json:"phone"`
	Phone2      string `json:"phone2,omitempty"`
	Designation string `json:"designation"`
	Price       string `json:"price"`
	Articles    int    `json:"articles"`
	Comment     string `json:"comment,omitempty"`
}

// Parcel is a parcel as returned by the API.
type Parcel struct {
	TrackingNumber string `json:"tracking_number"`
	Barcode        string `json:"barcode,omitempty"`
	PrintURL       string `json:"print_url,omitempty"`
	State          string `json:"state"`
	StateDate      string `json:"state_date,omitempty"` // RFC 3339
}

// Account is the authenticated merchant account.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// envelope wraps every API reply. Status is 1 on success.
type envelope struct {
	Status        int      `json:"status"`
	StatusMessage string   `json:"status_message,omitempty"`
	Parcel        *Parcel  `json:"parcel,omitempty"`
	Account       *Account `json:"account,omitempty"`
}

// APIError represents an error reported by the Navex API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"status_message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}
