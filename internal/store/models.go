package store

import (
	"time"

	"github.com/tournevent/delivery/internal/delivery"
	"github.com/tournevent/delivery/pkg/agency"
	"gorm.io/datatypes"
)

// AgencyModel is one courier integration row.
type AgencyModel struct {
	ID                  string `gorm:"primaryKey;type:varchar(64)"`
	Name                string `gorm:"type:varchar(128);not null"`
	Enabled             bool   `gorm:"not null;default:false"`
	CredentialsType     string `gorm:"type:varchar(32)"`
	CredentialsUsername string `gorm:"type:varchar(255)"`
	CredentialsEmail    string `gorm:"type:varchar(255)"`
	CredentialsPassword string `gorm:"type:varchar(255)"`
	CredentialsAPIKey   string `gorm:"column:credentials_api_key;type:varchar(255)"`
	Settings            datatypes.JSONMap
	WebhookURL          string `gorm:"type:varchar(512)"`
	PollingSeconds      int64
	LastSync            *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TableName returns the table name.
func (AgencyModel) TableName() string { return "delivery_agencies" }

// ToDomain converts the row to an agency configuration.
func (m *AgencyModel) ToDomain() agency.Config {
	return agency.Config{
		ID:      m.ID,
		Name:    m.Name,
		Enabled: m.Enabled,
		Credentials: agency.Credentials{
			Type:     agency.CredentialsType(m.CredentialsType),
			Username: m.CredentialsUsername,
			Email:    m.CredentialsEmail,
			Password: m.CredentialsPassword,
			APIKey:   m.CredentialsAPIKey,
		},
		Settings:        map[string]any(m.Settings),
		WebhookURL:      m.WebhookURL,
		PollingInterval: time.Duration(m.PollingSeconds) * time.Second,
		LastSync:        m.LastSync,
	}
}

func agencyFromDomain(cfg agency.Config) *AgencyModel {
	return &AgencyModel{
		ID:                  cfg.ID,
		Name:                cfg.Name,
		Enabled:             cfg.Enabled,
		CredentialsType:     string(cfg.Credentials.Type),
		CredentialsUsername: cfg.Credentials.Username,
		CredentialsEmail:    cfg.Credentials.Email,
		CredentialsPassword: cfg.Credentials.Password,
		CredentialsAPIKey:   cfg.Credentials.APIKey,
		Settings:            datatypes.JSONMap(cfg.Settings),
		WebhookURL:          cfg.WebhookURL,
		PollingSeconds:      int64(cfg.PollingInterval / time.Second),
		LastSync:            cfg.LastSync,
	}
}

// ShipmentModel is one courier consignment.
type ShipmentModel struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)"`
	OrderID          string    `gorm:"type:varchar(64);not null;index"`
	AgencyID         string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_agency_tracking"`
	TrackingNumber   string    `gorm:"type:varchar(128);not null;uniqueIndex:uk_agency_tracking;index"`
	Barcode          string    `gorm:"type:varchar(128)"`
	Status           string    `gorm:"type:varchar(16);not null;index"`
	LastStatusUpdate time.Time `gorm:"not null;index"`
	PrintURL         string    `gorm:"type:varchar(512)"`
	Metadata         datatypes.JSONType[delivery.Snapshot]
	CreatedBy        string `gorm:"type:varchar(64)"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName returns the table name.
func (ShipmentModel) TableName() string { return "delivery_shipments" }

// ToDomain converts the row to a shipment.
func (m *ShipmentModel) ToDomain() *delivery.Shipment {
	return &delivery.Shipment{
		ID:               m.ID,
		OrderID:          m.OrderID,
		AgencyID:         m.AgencyID,
		TrackingNumber:   m.TrackingNumber,
		Barcode:          m.Barcode,
		Status:           agency.Status(m.Status),
		LastStatusUpdate: m.LastStatusUpdate,
		PrintURL:         m.PrintURL,
		Metadata:         m.Metadata.Data(),
		CreatedBy:        m.CreatedBy,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func shipmentFromDomain(s *delivery.Shipment) *ShipmentModel {
	return &ShipmentModel{
		ID:               s.ID,
		OrderID:          s.OrderID,
		AgencyID:         s.AgencyID,
		TrackingNumber:   s.TrackingNumber,
		Barcode:          s.Barcode,
		Status:           string(s.Status),
		LastStatusUpdate: s.LastStatusUpdate,
		PrintURL:         s.PrintURL,
		Metadata:         datatypes.NewJSONType(s.Metadata),
		CreatedBy:        s.CreatedBy,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// StatusLogModel is one append-only status history row.
type StatusLogModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	ShipmentID string    `gorm:"type:varchar(36);not null;index"`
	Status     string    `gorm:"type:varchar(16);not null"`
	Message    string    `gorm:"type:text"`
	Source     string    `gorm:"type:varchar(16);not null"`
	Timestamp  time.Time `gorm:"not null"`
}

// TableName returns the table name.
func (StatusLogModel) TableName() string { return "delivery_status_logs" }

// ToDomain converts the row to a status log.
func (m *StatusLogModel) ToDomain() delivery.StatusLog {
	return delivery.StatusLog{
		ID:         m.ID,
		ShipmentID: m.ShipmentID,
		Status:     agency.Status(m.Status),
		Message:    m.Message,
		Source:     delivery.Source(m.Source),
		Timestamp:  m.Timestamp,
	}
}

// OrderModel holds the order fields the delivery layer touches.
type OrderModel struct {
	ID        string `gorm:"primaryKey;type:varchar(64)"`
	Status    string `gorm:"type:varchar(32);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name.
func (OrderModel) TableName() string { return "orders" }

// ActivityModel is one audit record.
type ActivityModel struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	ActorID     string `gorm:"type:varchar(64);not null;index"`
	Type        string `gorm:"type:varchar(64);not null;index"`
	Description string `gorm:"type:text"`
	Metadata    datatypes.JSONMap
	CreatedAt   time.Time `gorm:"index"`
}

// TableName returns the table name.
func (ActivityModel) TableName() string { return "activities" }

// ToDomain converts the row to an activity.
func (m *ActivityModel) ToDomain() delivery.Activity {
	return delivery.Activity{
		ID:          m.ID,
		ActorID:     m.ActorID,
		Type:        m.Type,
		Description: m.Description,
		Metadata:    map[string]any(m.Metadata),
		CreatedAt:   m.CreatedAt,
	}
}
