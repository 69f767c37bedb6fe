// Package bestdelivery provides integration with the Best Delivery SOAP web service.
package bestdelivery

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

const agencyName = "bestdelivery"

// sentinelTrackingCode is tracked by TestConnection; it never exists.
const sentinelTrackingCode = "BD0000000000"

const dateLayout = "2006-01-02 15:04:05"

// Tunisia observes UTC+1 all year.
var tunisTime = time.FixedZone("CET", 60*60)

// statusTable maps the service's numeric "etat" codes.
var statusTable = agency.StatusTable{
	"0":  agency.StatusUploaded,  // en attente
	"1":  agency.StatusUploaded,  // à enlever
	"2":  agency.StatusDeposit,   // enlevé
	"3":  agency.StatusDeposit,   // au dépôt
	"4":  agency.StatusInTransit, // en cours de livraison
	"5":  agency.StatusInTransit, // reporté
	"6":  agency.StatusDelivered, // livré
	"7":  agency.StatusDelivered, // livré payé
	"8":  agency.StatusReturned,  // retour dépôt
	"9":  agency.StatusReturned,  // retour expéditeur
	"10": agency.StatusReturned,  // retour reçu
	"11": agency.StatusInTransit, // transfert inter-dépôt
}

var statusLabels = map[string]string{
	"0":  "En attente",
	"1":  "A enlever",
	"2":  "Enlevé",
	"3":  "Au dépôt",
	"4":  "En cours de livraison",
	"5":  "Reporté",
	"6":  "Livré",
	"7":  "Livré payé",
	"8":  "Retour dépôt",
	"9":  "Retour expéditeur",
	"10": "Retour reçu",
	"11": "Transfert",
}

// Config holds Best Delivery configuration.
type Config struct {
	BaseURL   string
	UseMock   bool
	Regions   []string
	Transport agency.TransportConfig
}

// Client is the Best Delivery adapter.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Best Delivery client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewSOAPAPIClient(cfg.BaseURL, agency.NewTransport(agencyName, cfg.Transport, logger))
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Best Delivery client with a custom API client.
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

// CreateOrder registers a parcel with Best Delivery.
func (c *Client) CreateOrder(ctx context.Context, order *agency.Order, creds agency.Credentials) (*agency.CreateOrderResult, error) {
	if err := agency.ValidateRequest(agencyName, c.config.Regions, order, creds); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "bestdelivery.CreateOrder",
		trace.WithAttributes(attribute.String("agency.city", order.City)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating Best Delivery parcel",
		zap.String("city", order.City),
		zap.String("price", order.Price.StringFixed(3)),
	)

	apiReq := &ParcelRequest{
		Name:        order.CustomerName,
		Governorate: order.City,
		Address:     order.Address,
		Phone:       order.Phone,
		Phone2:      order.Phone2,
		Designation: order.Product,
		Price:       order.Price.StringFixed(3),
		Pieces:      1,
		Comment:     order.Note,
	}

	apiResp, err := c.apiClient.CreateParcel(ctx, authFrom(creds), apiReq)
	if err != nil {
		return nil, c.fail(ctx, span, "CreateOrder", err)
	}

	span.SetAttributes(attribute.String("agency.tracking_number", apiResp.TrackingCode))
	return &agency.CreateOrderResult{
		TrackingNumber: apiResp.TrackingCode,
		Barcode:        apiResp.Barcode,
		PrintURL:       apiResp.LabelURL,
		Status:         statusTable.Map(apiResp.StatusCode),
		RawStatus:      apiResp.StatusCode,
	}, nil
}

// TrackOrder fetches the parcel state and maps it to a standard status.
func (c *Client) TrackOrder(ctx context.Context, trackingNumber string, creds agency.Credentials) (*agency.TrackingResult, error) {
	if err := agency.ValidateCredentials(agencyName, creds); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "bestdelivery.TrackOrder",
		trace.WithAttributes(attribute.String("agency.tracking_number", trackingNumber)))
	defer span.End()

	apiResp, err := c.apiClient.TrackParcel(ctx, authFrom(creds), trackingNumber)
	if err != nil {
		return nil, c.fail(ctx, span, "TrackOrder", err)
	}

	return trackingResponseToAgency(apiResp), nil
}

// TestConnection tracks a parcel code that never exists. A "not found"
// answer proves the login was accepted.
func (c *Client) TestConnection(ctx context.Context, creds agency.Credentials) error {
	if err := agency.ValidateCredentials(agencyName, creds); err != nil {
		return err
	}

	_, err := c.apiClient.TrackParcel(ctx, authFrom(creds), sentinelTrackingCode)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeTrackingNotFound {
		return nil
	}
	if err != nil {
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
	c.logger.Ctx(ctx).Error("Best Delivery API error", fields...)
	return agencyErr
}

// ============================================================================
// Conversion helpers
// ============================================================================

func authFrom(creds agency.Credentials) Auth {
	return Auth{Login: creds.Username, Password: creds.Password}
}

func trackingResponseToAgency(resp *TrackingResponse) *agency.TrackingResult {
	updated := time.Now()
	if resp.UpdatedAt != "" {
		if t, err := time.ParseInLocation(dateLayout, resp.UpdatedAt, tunisTime); err == nil {
			updated = t
		}
	}

	message := resp.StatusLabel
	if message == "" {
		message = statusLabels[resp.StatusCode]
	}

	return &agency.TrackingResult{
		TrackingNumber: resp.TrackingCode,
		Status:         statusTable.Map(resp.StatusCode),
		RawStatus:      resp.StatusCode,
		Message:        message,
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
		return agency.NewError(agencyName, agency.KindBusiness, apiErr.Code, apiErr.Description)
	}
	return agency.NewError(agencyName, agency.KindNetwork, "NETWORK_ERROR", "unexpected client failure").WithCause(err)
}

var _ agency.Adapter = (*Client)(nil)
