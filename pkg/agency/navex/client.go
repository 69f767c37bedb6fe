// Package navex provides integration with the Navex REST API.
package navex

import (
	"context"
	"errors"
	"time"

	"github.com/tournevent/delivery/pkg/agency"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const agencyName = "navex"

const (
	codeUnauthorized   = "UNAUTHORIZED"
	codeParcelNotFound = "HTTP_404"
	codeRejected       = "REJECTED"
)

// statusTable maps the state labels returned by Navex.
var statusTable = agency.StatusTable{
	"En attente":            agency.StatusUploaded,
	"A vérifier":            agency.StatusUploaded,
	"En cours d'enlèvement": agency.StatusUploaded,
	"Au magasin":            agency.StatusDeposit,
	"Au dépôt":              agency.StatusDeposit,
	"En cours":              agency.StatusInTransit,
	"En cours de livraison": agency.StatusInTransit,
	"Reporté":               agency.StatusInTransit,
	"Livré":                 agency.StatusDelivered,
	"Livré payé":            agency.StatusDelivered,
	"Retour expéditeur":     agency.StatusReturned,
	"Retour reçu":           agency.StatusReturned,
	"Rtn définitif":         agency.StatusReturned,
	"Rtn client/agence":     agency.StatusReturned,
}

// Config holds Navex configuration.
type Config struct {
	BaseURL   string
	UseMock   bool
	Regions   []string
	Transport agency.TransportConfig
}

// Client is the Navex adapter.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Navex client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(cfg.BaseURL, agency.NewTransport(agencyName, cfg.Transport, logger))
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Navex client with a custom API client.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if cfg.Regions == nil {
		cfg.Regions = agency.Governorates
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(agencyName)
	}
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
	}
}

// Name returns the agency name.
func (c *Client) Name() string {
	return agencyName
}

// SupportedRegions returns the governorates served.
func (c *Client) SupportedRegions() []string {
	return c.config.Regions
}

// CreateOrder creates a parcel.
func (c *Client) CreateOrder(ctx context.Context, order *agency.Order, creds agency.Credentials) (*agency.CreateOrderResult, error) {
	if err := agency.ValidateRequest(agencyName, c.config.Regions, order, creds); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "navex.CreateOrder",
		trace.WithAttributes(attribute.String("agency.city", order.City)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating Navex parcel",
		zap.String("city", order.City),
		zap.String("price", order.Price.StringFixed(3)),
	)

	parcel, err := c.apiClient.CreateParcel(ctx, creds.APIKey, &ParcelRequest{
		ClientName:  order.CustomerName,
		Governorate: order.City,
		Address:     order.Address,
		Phone:       order.Phone,
		Phone2:      order.Phone2,
		Designation: order.Product,
		Price:       order.Price.StringFixed(3),
		Articles:    1,
		Comment:     order.Note,
	})
	if err != nil {
		return nil, c.fail(ctx, span, "CreateOrder", err)
	}

	span.SetAttributes(attribute.String("agency.tracking_number", parcel.TrackingNumber))
	return &agency.CreateOrderResult{
		TrackingNumber: parcel.TrackingNumber,
		Barcode:        parcel.Barcode,
		PrintURL:       parcel.PrintURL,
		Status:         statusTable.Map(parcel.State),
		RawStatus:      parcel.State,
	}, nil
}

// TrackOrder fetches the parcel and maps its state.
func (c *Client) TrackOrder(ctx context.Context, trackingNumber string, creds agency.Credentials) (*agency.TrackingResult, error) {
	if err := agency.ValidateCredentials(agencyName, creds); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "navex.TrackOrder",
		trace.WithAttributes(attribute.String("agency.tracking_number", trackingNumber)))
	defer span.End()

	parcel, err := c.apiClient.GetParcel(ctx, creds.APIKey, trackingNumber)
	if err != nil {
		return nil, c.fail(ctx, span, "TrackOrder", err)
	}

	if !statusTable.Known(parcel.State) {
		c.logger.Ctx(ctx).Warn("Unknown Navex state, defaulting to UPLOADED",
			zap.String("state", parcel.State),
			zap.String("tracking_number", trackingNumber),
		)
	}

	return parcelToTracking(trackingNumber, parcel), nil
}

// TestConnection checks the API key against the account endpoint.
func (c *Client) TestConnection(ctx context.Context, creds agency.Credentials) error {
	if err := agency.ValidateCredentials(agencyName, creds); err != nil {
		return err
	}
	if _, err := c.apiClient.GetAccount(ctx, creds.APIKey); err != nil {
		return toAgencyError(err)
	}
	return nil
}

func (c *Client) fail(ctx context.Context, span trace.Span, op string, err error) error {
	agencyErr := toAgencyError(err)
	span.RecordError(agencyErr)
	span.SetStatus(codes.Error, agencyErr.Message)

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("kind", string(agencyErr.Kind)),
		zap.String("code", agencyErr.Code),
		zap.Error(err),
	}
	if agencyErr.Kind == agency.KindProtocol {
		fields = append(fields, zap.String("raw_body", agencyErr.RawBody))
	}
	c.logger.Ctx(ctx).Error("Navex API error", fields...)
	return agencyErr
}

func parcelToTracking(trackingNumber string, p *Parcel) *agency.TrackingResult {
	updated := time.Now()
	if p.StateDate != "" {
		if t, err := time.Parse(time.RFC3339, p.StateDate); err == nil {
			updated = t
		}
	}
	if p.TrackingNumber != "" {
		trackingNumber = p.TrackingNumber
	}
	return &agency.TrackingResult{
		TrackingNumber: trackingNumber,
		Status:         statusTable.Map(p.State),
		RawStatus:      p.State,
		Message:        p.State,
		LastUpdated:    updated,
	}
}

// toAgencyError normalizes any API client error into an *agency.Error.
func toAgencyError(err error) *agency.Error {
	var agencyErr *agency.Error
	if errors.As(err, &agencyErr) {
		return agencyErr
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		e := agency.NewError(agencyName, agency.KindBusiness, apiErr.Code, apiErr.Message)
		if apiErr.Code == codeUnauthorized {
			e = e.WithStatusCode(401)
		}
		return e
	}
	return agency.NewError(agencyName, agency.KindNetwork, "NETWORK_ERROR", "unexpected client failure").WithCause(err)
}

var _ agency.Adapter = (*Client)(nil)
