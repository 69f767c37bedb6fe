// Package delivery creates and tracks courier shipments. It is the only
// writer of shipments and status logs, and the only path that propagates a
// shipment status onto its order.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/delivery/pkg/agency"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// SystemActor is the actor recorded for automated changes.
const SystemActor = "system"

// Repositories groups the persistence collaborators of the service.
type Repositories struct {
	Shipments  ShipmentRepository
	Logs       StatusLogRepository
	Orders     OrderRepository
	Activities ActivityRecorder
}

// Option configures a Service.
type Option func(*Service)

// WithTracer sets the tracer used for service spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithTransitionRecorder sets the recorder notified of status changes.
func WithTransitionRecorder(r TransitionRecorder) Option {
	return func(s *Service) { s.transitions = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service orchestrates shipment creation, tracking, retry and manual overrides.
type Service struct {
	shipments   ShipmentRepository
	logs        StatusLogRepository
	orders      OrderRepository
	activities  ActivityRecorder
	agencies    AgencyResolver
	transitions TransitionRecorder
	logger      *otelzap.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewService creates a delivery service.
func NewService(repos Repositories, agencies AgencyResolver, logger *otelzap.Logger, opts ...Option) *Service {
	s := &Service{
		shipments:  repos.Shipments,
		logs:       repos.Logs,
		orders:     repos.Orders,
		activities: repos.Activities,
		agencies:   agencies,
		logger:     logger,
		tracer:     noop.NewTracerProvider().Tracer("delivery"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================================
// Creation
// ============================================================================

// CreateShipment submits the order to the agency and records the shipment.
// Agency, validation and courier failures come back as an unsuccessful
// response; only persistence faults are returned as errors.
func (s *Service) CreateShipment(ctx context.Context, req CreateRequest) (*OrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "delivery.CreateShipment", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("agency.id", req.AgencyID),
	))
	defer span.End()

	resp, err := s.create(ctx, req, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

// create does the work of CreateShipment. replacing names a shipment of the
// same order that is about to be cancelled and so does not count as active.
func (s *Service) create(ctx context.Context, req CreateRequest, replacing string) (*OrderResponse, error) {
	log := s.logger.Ctx(ctx)

	adapter, ok := s.agencies.GetAgency(ctx, req.AgencyID)
	if !ok {
		return failedOrder(agency.NotFoundError(req.AgencyID)), nil
	}
	if !s.agencies.IsAgencyEnabled(ctx, req.AgencyID) {
		log.Warn("Refusing shipment for disabled agency",
			zap.String("agency", req.AgencyID),
			zap.String("order_id", req.OrderID),
		)
		return failedOrder(agency.DisabledError(req.AgencyID)), nil
	}

	active, err := s.shipments.List(ctx, ShipmentFilter{
		OrderID:  req.OrderID,
		Statuses: agency.ActiveStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("listing shipments of order %s: %w", req.OrderID, err)
	}
	for _, sh := range active {
		if sh.ID != replacing {
			return &OrderResponse{
				Code:       CodeActiveShipmentExists,
				Error:      fmt.Sprintf("%s: %s", ErrActiveShipmentExists, sh.ID),
				ShipmentID: sh.ID,
			}, nil
		}
	}

	cfg, _ := s.agencies.GetAgencyConfig(ctx, req.AgencyID)
	order := req.Order
	result, err := adapter.CreateOrder(ctx, &order, cfg.Credentials)
	if err != nil {
		log.Warn("Agency rejected shipment",
			zap.String("agency", req.AgencyID),
			zap.String("order_id", req.OrderID),
			zap.Error(err),
		)
		return failedOrder(err), nil
	}

	if _, err := s.shipments.FindByTracking(ctx, req.AgencyID, result.TrackingNumber); err == nil {
		return &OrderResponse{
			Code:           CodeDuplicateTracking,
			Error:          ErrDuplicateTracking.Error(),
			TrackingNumber: result.TrackingNumber,
		}, nil
	} else if !errors.Is(err, ErrShipmentNotFound) {
		return nil, fmt.Errorf("checking tracking number %s: %w", result.TrackingNumber, err)
	}

	now := s.now()
	shipment := &Shipment{
		ID:               uuid.NewString(),
		OrderID:          req.OrderID,
		AgencyID:         req.AgencyID,
		TrackingNumber:   result.TrackingNumber,
		Barcode:          result.Barcode,
		Status:           result.Status,
		LastStatusUpdate: now,
		PrintURL:         result.PrintURL,
		Metadata:         SnapshotOf(req.Order),
		CreatedBy:        actorOrSystem(req.ActorID),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.shipments.Create(ctx, shipment); err != nil {
		return nil, fmt.Errorf("saving shipment: %w", err)
	}

	if err := s.logs.Append(ctx, &StatusLog{
		ShipmentID: shipment.ID,
		Status:     shipment.Status,
		Message:    fmt.Sprintf("Shipment created with %s (raw status %q)", req.AgencyID, result.RawStatus),
		Source:     SourceAPI,
		Timestamp:  now,
	}); err != nil {
		return nil, fmt.Errorf("appending status log: %w", err)
	}

	if _, err := s.orders.UpdateStatus(ctx, shipment.OrderID, string(shipment.Status)); err != nil {
		return nil, fmt.Errorf("updating order %s status: %w", shipment.OrderID, err)
	}

	if err := s.activities.Record(ctx, &Activity{
		ActorID:     shipment.CreatedBy,
		Type:        ActivityShipmentCreated,
		Description: fmt.Sprintf("Shipment %s created with %s", shipment.TrackingNumber, req.AgencyID),
		Metadata: map[string]any{
			"shipmentId":     shipment.ID,
			"orderId":        shipment.OrderID,
			"agencyId":       shipment.AgencyID,
			"trackingNumber": shipment.TrackingNumber,
			"status":         string(shipment.Status),
		},
	}); err != nil {
		return nil, fmt.Errorf("recording activity: %w", err)
	}
	s.recordTransition(shipment.AgencyID, shipment.Status, SourceAPI)

	log.Info("Shipment created",
		zap.String("shipment_id", shipment.ID),
		zap.String("agency", shipment.AgencyID),
		zap.String("tracking_number", shipment.TrackingNumber),
		zap.String("status", string(shipment.Status)),
	)

	// Reconcile once so the stored status matches what the courier reports now.
	tracked, err := s.track(ctx, shipment, adapter, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	if !tracked.Success {
		log.Warn("Post-creation tracking failed, keeping creation status",
			zap.String("shipment_id", shipment.ID),
			zap.String("code", tracked.Code),
			zap.String("error", tracked.Error),
		)
	}

	return &OrderResponse{
		Success:        true,
		ShipmentID:     shipment.ID,
		TrackingNumber: shipment.TrackingNumber,
		Barcode:        shipment.Barcode,
		PrintURL:       shipment.PrintURL,
		Status:         shipment.Status,
	}, nil
}

// RetryShipment creates a new shipment for the same order and agency from
// the stored order snapshot, then cancels the shipment it replaces. A
// delivered shipment is never retried.
func (s *Service) RetryShipment(ctx context.Context, id, actorID string) (*OrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "delivery.RetryShipment",
		trace.WithAttributes(attribute.String("shipment.id", id)))
	defer span.End()

	old, err := s.shipments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if old.Status == agency.StatusDelivered {
		return &OrderResponse{
			ShipmentID:     old.ID,
			TrackingNumber: old.TrackingNumber,
			Status:         old.Status,
			Kind:           agency.KindBusiness,
			Code:           CodeShipmentDelivered,
			Error:          "shipment is already delivered",
		}, nil
	}

	resp, err := s.create(ctx, CreateRequest{
		OrderID:  old.OrderID,
		AgencyID: old.AgencyID,
		Order:    old.Metadata.Order(),
		ActorID:  actorID,
	}, old.ID)
	if err != nil || !resp.Success {
		return resp, err
	}

	if old.Status != agency.StatusCancelled {
		msg := fmt.Sprintf("Replaced by shipment %s", resp.ShipmentID)
		if err := s.setStatus(ctx, old, agency.StatusCancelled, msg, SourceManual, false); err != nil {
			return nil, err
		}
	}

	if err := s.activities.Record(ctx, &Activity{
		ActorID:     actorOrSystem(actorID),
		Type:        ActivityShipmentRetried,
		Description: fmt.Sprintf("Shipment %s retried as %s", old.TrackingNumber, resp.TrackingNumber),
		Metadata: map[string]any{
			"previousShipmentId": old.ID,
			"shipmentId":         resp.ShipmentID,
			"orderId":            old.OrderID,
			"agencyId":           old.AgencyID,
		},
	}); err != nil {
		return nil, fmt.Errorf("recording activity: %w", err)
	}
	return resp, nil
}

// ============================================================================
// Tracking
// ============================================================================

// TrackShipment refreshes a shipment from its agency. Nothing is written
// unless the reported status differs from the stored one and is a forward
// move.
func (s *Service) TrackShipment(ctx context.Context, id string) (*TrackingResponse, error) {
	ctx, span := s.tracer.Start(ctx, "delivery.TrackShipment",
		trace.WithAttributes(attribute.String("shipment.id", id)))
	defer span.End()

	shipment, err := s.shipments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if shipment.Status == agency.StatusCancelled {
		return &TrackingResponse{
			ShipmentID:     shipment.ID,
			TrackingNumber: shipment.TrackingNumber,
			Status:         shipment.Status,
			Code:           CodeShipmentCancelled,
			Error:          "shipment is cancelled",
		}, nil
	}

	adapter, ok := s.agencies.GetAgency(ctx, shipment.AgencyID)
	if !ok {
		return failedTracking(shipment, agency.NotFoundError(shipment.AgencyID)), nil
	}
	cfg, _ := s.agencies.GetAgencyConfig(ctx, shipment.AgencyID)

	resp, err := s.track(ctx, shipment, adapter, cfg.Credentials)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

// TrackByTrackingNumber resolves a shipment by tracking number, optionally
// within one agency, and tracks it.
func (s *Service) TrackByTrackingNumber(ctx context.Context, agencyID, trackingNumber string) (*TrackingResponse, error) {
	shipment, err := s.shipments.FindByTracking(ctx, agencyID, trackingNumber)
	if err != nil {
		return nil, err
	}
	return s.TrackShipment(ctx, shipment.ID)
}

func (s *Service) track(ctx context.Context, shipment *Shipment, adapter agency.Adapter, creds agency.Credentials) (*TrackingResponse, error) {
	result, err := adapter.TrackOrder(ctx, shipment.TrackingNumber, creds)
	if err != nil {
		return failedTracking(shipment, err), nil
	}

	resp := &TrackingResponse{
		Success:        true,
		ShipmentID:     shipment.ID,
		TrackingNumber: shipment.TrackingNumber,
		Status:         shipment.Status,
		PreviousStatus: shipment.Status,
		RawStatus:      result.RawStatus,
		Message:        result.Message,
		LastUpdated:    result.LastUpdated,
	}
	if result.Status == shipment.Status {
		return resp, nil
	}

	if !agency.CanTransition(shipment.Status, result.Status) {
		s.logger.Ctx(ctx).Warn("Ignoring status regression reported by agency",
			zap.String("shipment_id", shipment.ID),
			zap.String("agency", shipment.AgencyID),
			zap.String("stored", string(shipment.Status)),
			zap.String("reported", string(result.Status)),
		)
		resp.Message = fmt.Sprintf("ignored transition from %s to %s", shipment.Status, result.Status)
		return resp, nil
	}

	previousOrder, err := s.changeStatus(ctx, shipment, result.Status, statusMessage(result), SourceAPI, SystemActor)
	if err != nil {
		return nil, err
	}

	resp.StatusChanged = true
	resp.Status = shipment.Status
	resp.OrderStatus = string(shipment.Status)
	resp.PreviousOrderStatus = previousOrder
	return resp, nil
}

// ============================================================================
// Manual changes
// ============================================================================

// BulkUpdateShipmentStatus overrides the status of every listed shipment
// without contacting any agency. A failing id is reported and does not stop
// the others.
func (s *Service) BulkUpdateShipmentStatus(ctx context.Context, ids []string, newStatus agency.Status, actorID string) (*BulkUpdateResult, error) {
	status, ok := agency.ParseStatus(string(newStatus))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	result := &BulkUpdateResult{Errors: []BulkError{}}
	for _, id := range ids {
		shipment, err := s.shipments.FindByID(ctx, id)
		if err == nil {
			msg := fmt.Sprintf("Status set to %s by %s", status, actorOrSystem(actorID))
			_, err = s.changeStatus(ctx, shipment, status, msg, SourceManual, actorID)
		}
		if err != nil {
			s.logger.Ctx(ctx).Warn("Bulk status update failed for shipment",
				zap.String("shipment_id", id),
				zap.Error(err),
			)
			result.Errors = append(result.Errors, BulkError{ShipmentID: id, Error: err.Error()})
			continue
		}
		result.Updated++
	}

	result.Success = len(result.Errors) == 0
	s.logger.Ctx(ctx).Info("Bulk status update finished",
		zap.String("status", string(status)),
		zap.Int("updated", result.Updated),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// DeleteShipment cancels a shipment. Rows are never removed.
func (s *Service) DeleteShipment(ctx context.Context, id, actorID string) error {
	shipment, err := s.shipments.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if shipment.Status == agency.StatusCancelled {
		return nil
	}

	if err := s.setStatus(ctx, shipment, agency.StatusCancelled, "Shipment cancelled", SourceManual, false); err != nil {
		return err
	}
	if err := s.activities.Record(ctx, &Activity{
		ActorID:     actorOrSystem(actorID),
		Type:        ActivityShipmentCancelled,
		Description: fmt.Sprintf("Shipment %s cancelled", shipment.TrackingNumber),
		Metadata: map[string]any{
			"shipmentId": shipment.ID,
			"orderId":    shipment.OrderID,
			"agencyId":   shipment.AgencyID,
		},
	}); err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

// ============================================================================
// Reads
// ============================================================================

// GetShipment returns a shipment by id.
func (s *Service) GetShipment(ctx context.Context, id string) (*Shipment, error) {
	return s.shipments.FindByID(ctx, id)
}

// ListStatusLogs returns the status history of a shipment, oldest first.
func (s *Service) ListStatusLogs(ctx context.Context, shipmentID string) ([]StatusLog, error) {
	if _, err := s.shipments.FindByID(ctx, shipmentID); err != nil {
		return nil, err
	}
	return s.logs.ListByShipment(ctx, shipmentID)
}

// ============================================================================
// Writes
// ============================================================================

// changeStatus writes a status change in order: shipment, status log, order,
// activity. A failing step stops the sequence; earlier writes stay.
// It returns the previous order status.
func (s *Service) changeStatus(ctx context.Context, shipment *Shipment, status agency.Status, message string, source Source, actorID string) (string, error) {
	from := shipment.Status
	if err := s.setStatus(ctx, shipment, status, message, source, true); err != nil {
		return "", err
	}

	var previousOrder string
	if status.Valid() {
		var err error
		previousOrder, err = s.orders.UpdateStatus(ctx, shipment.OrderID, string(status))
		if err != nil {
			return "", fmt.Errorf("updating order %s status: %w", shipment.OrderID, err)
		}
	}

	activityType := ActivityStatusChanged
	if source == SourceManual {
		activityType = ActivityStatusOverridden
	}
	if err := s.activities.Record(ctx, &Activity{
		ActorID:     actorOrSystem(actorID),
		Type:        activityType,
		Description: fmt.Sprintf("Shipment %s moved from %s to %s", shipment.TrackingNumber, from, status),
		Metadata: map[string]any{
			"shipmentId":          shipment.ID,
			"orderId":             shipment.OrderID,
			"agencyId":            shipment.AgencyID,
			"previousStatus":      string(from),
			"status":              string(status),
			"previousOrderStatus": previousOrder,
			"source":              string(source),
		},
	}); err != nil {
		return "", fmt.Errorf("recording activity: %w", err)
	}

	s.logger.Ctx(ctx).Info("Shipment status changed",
		zap.String("shipment_id", shipment.ID),
		zap.String("agency", shipment.AgencyID),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
		zap.String("source", string(source)),
	)
	return previousOrder, nil
}

// setStatus updates the shipment row then appends the matching log row.
func (s *Service) setStatus(ctx context.Context, shipment *Shipment, status agency.Status, message string, source Source, count bool) error {
	now := s.now()
	shipment.Status = status
	shipment.LastStatusUpdate = now
	shipment.UpdatedAt = now
	if err := s.shipments.Update(ctx, shipment); err != nil {
		return fmt.Errorf("updating shipment %s: %w", shipment.ID, err)
	}

	if err := s.logs.Append(ctx, &StatusLog{
		ShipmentID: shipment.ID,
		Status:     status,
		Message:    message,
		Source:     source,
		Timestamp:  now,
	}); err != nil {
		return fmt.Errorf("appending status log for %s: %w", shipment.ID, err)
	}

	if count {
		s.recordTransition(shipment.AgencyID, status, source)
	}
	return nil
}

func (s *Service) recordTransition(agencyID string, status agency.Status, source Source) {
	if s.transitions != nil {
		s.transitions.RecordStatusTransition(agencyID, string(status), string(source))
	}
}

// ============================================================================
// Helpers
// ============================================================================

func failedOrder(err error) *OrderResponse {
	resp := &OrderResponse{Error: err.Error()}
	var agencyErr *agency.Error
	if errors.As(err, &agencyErr) {
		resp.Kind = agencyErr.Kind
		resp.Code = agencyErr.Code
		resp.Error = agencyErr.Detail()
		resp.Fields = agencyErr.Fields
	}
	return resp
}

func failedTracking(shipment *Shipment, err error) *TrackingResponse {
	resp := &TrackingResponse{
		ShipmentID:     shipment.ID,
		TrackingNumber: shipment.TrackingNumber,
		Status:         shipment.Status,
		Error:          err.Error(),
	}
	var agencyErr *agency.Error
	if errors.As(err, &agencyErr) {
		resp.Kind = agencyErr.Kind
		resp.Code = agencyErr.Code
		resp.Error = agencyErr.Detail()
	}
	return resp
}

func statusMessage(r *agency.TrackingResult) string {
	if r.Message != "" {
		return r.Message
	}
	return fmt.Sprintf("Agency reported %q", r.RawStatus)
}

func actorOrSystem(actorID string) string {
	if actorID == "" {
		return SystemActor
	}
	return actorID
}
