package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Scheduler runs a full sync and a stale-shipment check on an interval.
type Scheduler struct {
	syncer   *Service
	interval time.Duration
	logger   *otelzap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewScheduler creates a scheduler ticking every interval.
func NewScheduler(syncer *Service, interval time.Duration, logger *otelzap.Logger) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the loop. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	if s.interval <= 0 {
		return errors.New("sync interval must be positive")
	}
	s.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Sync scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop cancels the loop, including a run in progress, and waits for it to
// return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.syncer.SyncAll(ctx)
	switch {
	case errors.Is(err, ErrSyncAlreadyRunning):
		s.logger.Ctx(ctx).Info("Skipping scheduled sync, another run is in progress")
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		s.logger.Ctx(ctx).Error("Scheduled sync failed", zap.Error(err))
	}

	stale, err := s.syncer.StaleShipments(ctx, 0)
	if err != nil {
		s.logger.Ctx(ctx).Error("Stale shipment check failed", zap.Error(err))
		return
	}
	if len(stale) > 0 {
		s.logger.Ctx(ctx).Warn("Shipments have not been refreshed recently",
			zap.Int("count", len(stale)),
			zap.Duration("threshold", s.syncer.config.StaleThreshold),
		)
	}
}
