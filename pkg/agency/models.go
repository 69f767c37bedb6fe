package agency

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the normalized delivery status of a shipment.
type Status string

const (
	StatusUploaded  Status = "UPLOADED"
	StatusDeposit   Status = "DEPOSIT"
	StatusInTransit Status = "IN_TRANSIT"
	StatusDelivered Status = "DELIVERED"
	StatusReturned  Status = "RETURNED"

	// StatusCancelled is set locally when a shipment is soft-deleted.
	// Adapters never report it.
	StatusCancelled Status = "CANCELLED"
)

// StandardStatuses lists the statuses a courier status can map to.
var StandardStatuses = []Status{
	StatusUploaded,
	StatusDeposit,
	StatusInTransit,
	StatusDelivered,
	StatusReturned,
}

// ActiveStatuses lists the statuses still expected to change on the courier side.
var ActiveStatuses = []Status{
	StatusUploaded,
	StatusDeposit,
	StatusInTransit,
}

// Valid reports whether s is one of the standard statuses.
func (s Status) Valid() bool {
	for _, st := range StandardStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Active reports whether s is an active (non-terminal) status.
func (s Status) Active() bool {
	for _, st := range ActiveStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if st.Valid() || st == StatusCancelled {
		return st, true
	}
	return "", false
}

func (s Status) rank() int {
	switch s {
	case StatusUploaded:
		return 0
	case StatusDeposit:
		return 1
	case StatusInTransit:
		return 2
	case StatusDelivered:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether an automated status refresh may move a
// shipment from one status to another. Statuses only move forward, or
// sideways into RETURNED. RETURNED and CANCELLED are terminal.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusReturned, StatusCancelled:
		return false
	}
	if to == StatusReturned {
		return true
	}
	if !to.Valid() {
		return false
	}
	return to.rank() > from.rank()
}

// CredentialsType identifies which secret fields an agency needs.
type CredentialsType string

const (
	CredentialsUsernamePassword CredentialsType = "username_password"
	CredentialsEmailPassword    CredentialsType = "email_password"
	CredentialsAPIKey           CredentialsType = "api_key"
)

// Credentials holds the secrets used to authenticate against an agency.
type Credentials struct {
	Type     CredentialsType `json:"type" validate:"required,oneof=username_password email_password api_key"`
	Username string          `json:"username,omitempty" validate:"required_if=Type username_password"`
	Email    string          `json:"email,omitempty" validate:"required_if=Type email_password"`
	Password string          `json:"password,omitempty" validate:"required_unless=Type api_key"`
	APIKey   string          `json:"apiKey,omitempty" validate:"required_if=Type api_key"`
}

// Masked returns a copy with every secret replaced by a masked hint.
func (c Credentials) Masked() Credentials {
	return Credentials{
		Type:     c.Type,
		Username: c.Username,
		Email:    c.Email,
		Password: maskSecret(c.Password),
		APIKey:   maskSecret(c.APIKey),
	}
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// Order is the normalized order submitted to an agency.
type Order struct {
	CustomerName string          `json:"customerName" validate:"required,notblank"`
	Phone        string          `json:"phone" validate:"required,phone"`
	Phone2       string          `json:"phone2,omitempty" validate:"omitempty,phone"`
	Address      string          `json:"address" validate:"required,notblank"`
	City         string          `json:"city" validate:"required,notblank"`
	Product      string          `json:"product" validate:"required,notblank"`
	Price        decimal.Decimal `json:"price"`
	Note         string          `json:"note,omitempty"`
}

// CreateOrderResult is returned when an agency accepts a parcel.
type CreateOrderResult struct {
	TrackingNumber string
	Barcode        string
	PrintURL       string
	// Status is the agency's own view of the parcel right after creation.
	Status    Status
	RawStatus string
}

// TrackingResult is the normalized tracking status of a parcel.
type TrackingResult struct {
	TrackingNumber string
	Status         Status
	RawStatus      string
	Message        string
	LastUpdated    time.Time
}

// Config is the persisted configuration of one agency.
type Config struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Enabled         bool           `json:"enabled"`
	Credentials     Credentials    `json:"credentials"`
	Settings        map[string]any `json:"settings,omitempty"`
	WebhookURL      string         `json:"webhookUrl,omitempty"`
	PollingInterval time.Duration  `json:"pollingInterval"`
	LastSync        *time.Time     `json:"lastSync,omitempty"`
}

// Masked returns a copy safe to expose to the UI.
func (c Config) Masked() Config {
	out := c
	out.Credentials = c.Credentials.Masked()
	return out
}

// ConfigUpdate is a partial update of an agency configuration.
// Nil fields are left unchanged.
type ConfigUpdate struct {
	Enabled         *bool          `json:"enabled,omitempty"`
	Credentials     *Credentials   `json:"credentials,omitempty"`
	Settings        map[string]any `json:"settings,omitempty"`
	WebhookURL      *string        `json:"webhookUrl,omitempty"`
	PollingInterval *time.Duration `json:"pollingInterval,omitempty"`
}

// Apply merges the update into a copy of cfg.
func (u ConfigUpdate) Apply(cfg Config) Config {
	out := cfg
	if u.Enabled != nil {
		out.Enabled = *u.Enabled
	}
	if u.Credentials != nil {
		creds := *u.Credentials
		// A masked secret echoed back from the UI keeps the stored value.
		if creds.Password != "" && creds.Password == maskSecret(cfg.Credentials.Password) {
			creds.Password = cfg.Credentials.Password
		}
		if creds.APIKey != "" && creds.APIKey == maskSecret(cfg.Credentials.APIKey) {
			creds.APIKey = cfg.Credentials.APIKey
		}
		out.Credentials = creds
	}
	if u.Settings != nil {
		settings := make(map[string]any, len(cfg.Settings)+len(u.Settings))
		for k, v := range cfg.Settings {
			settings[k] = v
		}
		for k, v := range u.Settings {
			settings[k] = v
		}
		out.Settings = settings
	}
	if u.WebhookURL != nil {
		out.WebhookURL = *u.WebhookURL
	}
	if u.PollingInterval != nil {
		out.PollingInterval = *u.PollingInterval
	}
	return out
}
