// Package syncer refreshes active shipments from their agencies in batches.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tournevent/delivery/internal/delivery"
	"github.com/tournevent/delivery/pkg/agency"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// ErrSyncAlreadyRunning is returned when a batch sync is requested while
// another one is in progress.
var ErrSyncAlreadyRunning = errors.New("sync already running")

// ErrLockLost is returned when the cross-process lock expired or was taken
// over during a run. The run stops before the next shipment.
var ErrLockLost = errors.New("sync lock lost")

// Variant names a kind of sync run.
const (
	VariantAll      = "all"
	VariantByStatus = "by_status"
	VariantByAgency = "by_agency"
)

// Run results, as reported to the recorder.
const (
	ResultSuccess   = "success"
	ResultPartial   = "partial"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

// Tracker refreshes one shipment.
type Tracker interface {
	TrackShipment(ctx context.Context, id string) (*delivery.TrackingResponse, error)
}

// ShipmentLister selects the shipments of a run.
type ShipmentLister interface {
	List(ctx context.Context, filter delivery.ShipmentFilter) ([]delivery.Shipment, error)
}

// Agencies resolves agencies and stamps their last sync time.
type Agencies interface {
	GetAgencyConfig(ctx context.Context, id string) (agency.Config, bool)
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

// Locker provides cross-process exclusion. Acquire returns
// ErrSyncAlreadyRunning when another holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context) (Lease, error)
}

// Lease is a held lock. Extend is called before every shipment after the
// first and returns ErrLockLost once the lock is no longer ours.
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

// Recorder receives sync metrics.
type Recorder interface {
	RecordSyncRun(variant, result string, duration time.Duration)
	RecordSyncShipment(outcome string)
	SetStaleShipments(n int)
}

// Config holds sync settings.
type Config struct {
	// CallDelay is the pause between two agency calls of one run.
	CallDelay time.Duration
	// StaleThreshold is the default age after which an active shipment is stale.
	StaleThreshold time.Duration
}

// DefaultStaleThreshold is used when Config.StaleThreshold is zero.
const DefaultStaleThreshold = 2 * time.Hour

// Detail describes one shipment whose status changed during a run.
type Detail struct {
	ShipmentID     string        `json:"shipmentId"`
	TrackingNumber string        `json:"trackingNumber"`
	AgencyID       string        `json:"agencyId"`
	OldStatus      agency.Status `json:"oldStatus"`
	NewStatus      agency.Status `json:"newStatus"`
	OldOrderStatus string        `json:"oldOrderStatus,omitempty"`
	NewOrderStatus string        `json:"newOrderStatus,omitempty"`
}

// Failure describes one shipment that could not be refreshed.
type Failure struct {
	ShipmentID     string `json:"shipmentId"`
	TrackingNumber string `json:"trackingNumber"`
	AgencyID       string `json:"agencyId"`
	Code           string `json:"code,omitempty"`
	Error          string `json:"error"`
}

// Summary is the outcome of one batch run.
type Summary struct {
	Variant   string    `json:"variant"`
	StartedAt time.Time `json:"startedAt"`
	Processed int       `json:"processed"`
	Updated   int       `json:"updated"`
	Errors    int       `json:"errors"`
	// DurationMS is the wall time of the run in milliseconds.
	DurationMS int64     `json:"duration"`
	Cancelled  bool      `json:"cancelled,omitempty"`
	Details    []Detail  `json:"details"`
	Failures   []Failure `json:"failures"`
}

// Duration returns the wall time of the run.
func (s *Summary) Duration() time.Duration {
	return time.Duration(s.DurationMS) * time.Millisecond
}

func (s *Summary) result() string {
	switch {
	case s.Cancelled:
		return ResultCancelled
	case s.Errors == 0:
		return ResultSuccess
	case s.Errors < s.Processed:
		return ResultPartial
	default:
		return ResultFailed
	}
}

// Option configures a Service.
type Option func(*Service)

// WithLocker adds a cross-process lock taken for every batch run.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service walks shipments one at a time and tracks each through the
// delivery service. Only one batch run may be in progress at a time.
type Service struct {
	tracker   Tracker
	shipments ShipmentLister
	agencies  Agencies
	config    Config
	logger    *otelzap.Logger
	tracer    trace.Tracer
	locker    Locker
	recorder  Recorder
	now       func() time.Time

	mu      sync.Mutex
	running bool
	last    *Summary
}

// NewService creates a sync service.
func NewService(tracker Tracker, shipments ShipmentLister, agencies Agencies, cfg Config, logger *otelzap.Logger, opts ...Option) *Service {
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	s := &Service{
		tracker:   tracker,
		shipments: shipments,
		agencies:  agencies,
		config:    cfg,
		logger:    logger,
		tracer:    noop.NewTracerProvider().Tracer("syncer"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Running reports whether a batch run is in progress in this process.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastSummary returns the summary of the last completed run, or nil.
func (s *Service) LastSummary() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// SyncAll refreshes every active shipment.
func (s *Service) SyncAll(ctx context.Context) (*Summary, error) {
	return s.run(ctx, VariantAll, delivery.ShipmentFilter{Statuses: agency.ActiveStatuses})
}

// SyncByStatus refreshes the shipments currently in status.
func (s *Service) SyncByStatus(ctx context.Context, status agency.Status) (*Summary, error) {
	st, ok := agency.ParseStatus(string(status))
	if !ok || st == agency.StatusCancelled {
		return nil, fmt.Errorf("%w: %q", delivery.ErrInvalidStatus, status)
	}
	return s.run(ctx, VariantByStatus, delivery.ShipmentFilter{Statuses: []agency.Status{st}})
}

// SyncByAgency refreshes the active shipments of one agency.
func (s *Service) SyncByAgency(ctx context.Context, agencyID string) (*Summary, error) {
	if _, ok := s.agencies.GetAgencyConfig(ctx, agencyID); !ok {
		return nil, agency.NotFoundError(agencyID)
	}
	return s.run(ctx, VariantByAgency, delivery.ShipmentFilter{
		Statuses: agency.ActiveStatuses,
		AgencyID: agencyID,
	})
}

// SyncSingle tracks one shipment. It does not take the batch guard.
func (s *Service) SyncSingle(ctx context.Context, shipmentID string) (*delivery.TrackingResponse, error) {
	return s.tracker.TrackShipment(ctx, shipmentID)
}

// StaleShipments lists active shipments whose last status update is older
// than olderThan. A non-positive olderThan uses the configured threshold.
func (s *Service) StaleShipments(ctx context.Context, olderThan time.Duration) ([]delivery.Shipment, error) {
	if olderThan <= 0 {
		olderThan = s.config.StaleThreshold
	}
	stale, err := s.shipments.List(ctx, delivery.ShipmentFilter{
		Statuses:      agency.ActiveStatuses,
		UpdatedBefore: s.now().Add(-olderThan),
	})
	if err != nil {
		return nil, fmt.Errorf("listing stale shipments: %w", err)
	}
	if s.recorder != nil {
		s.recorder.SetStaleShipments(len(stale))
	}
	return stale, nil
}

func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Service) finish(summary *Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if summary != nil {
		s.last = summary
	}
}

func (s *Service) run(ctx context.Context, variant string, filter delivery.ShipmentFilter) (*Summary, error) {
	if !s.begin() {
		return nil, ErrSyncAlreadyRunning
	}
	var summary *Summary
	defer func() { s.finish(summary) }()

	var lease Lease
	if s.locker != nil {
		var err error
		if lease, err = s.locker.Acquire(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Ctx(ctx).Warn("Failed to release sync lock", zap.Error(err))
			}
		}()
	}

	ctx, span := s.tracer.Start(ctx, "syncer.Run",
		trace.WithAttributes(attribute.String("sync.variant", variant)))
	defer span.End()

	started := s.now()
	shipments, err := s.shipments.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if s.recorder != nil {
			s.recorder.RecordSyncRun(variant, ResultFailed, s.now().Sub(started))
		}
		return nil, fmt.Errorf("listing shipments: %w", err)
	}

	s.logger.Ctx(ctx).Info("Sync started",
		zap.String("variant", variant),
		zap.Int("shipments", len(shipments)),
	)

	summary, err = s.walk(ctx, variant, started, shipments, lease)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.Int("sync.processed", summary.Processed),
		attribute.Int("sync.updated", summary.Updated),
		attribute.Int("sync.errors", summary.Errors),
	)
	if s.recorder != nil {
		s.recorder.RecordSyncRun(variant, summary.result(), summary.Duration())
	}

	s.logger.Ctx(ctx).Info("Sync finished",
		zap.String("variant", variant),
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", summary.Duration()),
		zap.Bool("cancelled", summary.Cancelled),
	)

	if err != nil {
		return summary, err
	}
	if summary.Cancelled {
		return summary, ctx.Err()
	}
	return summary, nil
}

// walk tracks shipments serially with CallDelay between calls. A cancelled
// context or a lost lease stops further calls; the call in flight completes.
func (s *Service) walk(ctx context.Context, variant string, started time.Time, shipments []delivery.Shipment, lease Lease) (*Summary, error) {
	summary := &Summary{
		Variant:   variant,
		StartedAt: started,
		Details:   []Detail{},
		Failures:  []Failure{},
	}
	touched := make(map[string]struct{})

	var walkErr error
	for i := range shipments {
		sh := &shipments[i]
		if i > 0 && !s.pause(ctx) {
			summary.Cancelled = true
			break
		}
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		if i > 0 && lease != nil {
			if err := lease.Extend(ctx); err != nil {
				s.logger.Ctx(ctx).Error("Sync stopped, lock could not be extended",
					zap.String("variant", variant),
					zap.Int("processed", summary.Processed),
					zap.Error(err),
				)
				walkErr = err
				break
			}
		}

		summary.Processed++
		touched[sh.AgencyID] = struct{}{}
		s.syncOne(ctx, summary, sh)
	}

	s.markSynced(ctx, touched)
	summary.DurationMS = s.now().Sub(started).Milliseconds()
	return summary, walkErr
}

func (s *Service) syncOne(ctx context.Context, summary *Summary, sh *delivery.Shipment) {
	resp, err := s.tracker.TrackShipment(ctx, sh.ID)

	var failure *Failure
	switch {
	case err != nil:
		failure = &Failure{Error: err.Error()}
	case !resp.Success:
		failure = &Failure{Code: resp.Code, Error: resp.Error}
	}

	if failure != nil {
		failure.ShipmentID = sh.ID
		failure.TrackingNumber = sh.TrackingNumber
		failure.AgencyID = sh.AgencyID
		summary.Errors++
		summary.Failures = append(summary.Failures, *failure)
		s.recordShipment("error")
		s.logger.Ctx(ctx).Warn("Shipment sync failed",
			zap.String("shipment_id", sh.ID),
			zap.String("agency", sh.AgencyID),
			zap.String("code", failure.Code),
			zap.String("error", failure.Error),
		)
		return
	}

	if !resp.StatusChanged {
		s.recordShipment("unchanged")
		return
	}

	summary.Updated++
	summary.Details = append(summary.Details, Detail{
		ShipmentID:     sh.ID,
		TrackingNumber: sh.TrackingNumber,
		AgencyID:       sh.AgencyID,
		OldStatus:      resp.PreviousStatus,
		NewStatus:      resp.Status,
		OldOrderStatus: resp.PreviousOrderStatus,
		NewOrderStatus: resp.OrderStatus,
	})
	s.recordShipment("updated")
}

// pause waits CallDelay. It returns false if ctx ends first.
func (s *Service) pause(ctx context.Context) bool {
	if s.config.CallDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(s.config.CallDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Service) markSynced(ctx context.Context, touched map[string]struct{}) {
	at := s.now()
	ctx = context.WithoutCancel(ctx)
	for id := range touched {
		if err := s.agencies.MarkSynced(ctx, id, at); err != nil {
			s.logger.Ctx(ctx).Warn("Failed to stamp agency last sync",
				zap.String("agency", id),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) recordShipment(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordSyncShipment(outcome)
	}
}
