package syncer_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/delivery/internal/delivery"
	"github.com/tournevent/delivery/internal/store"
	"github.com/tournevent/delivery/internal/syncer"
	"github.com/tournevent/delivery/pkg/agency"
	"github.com/tournevent/delivery/pkg/agency/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const courier = "courier"

type fixture struct {
	deliveries *delivery.Service
	registry   *agency.Registry
	adapter    *mock.Adapter
	shipments  *store.GormShipmentRepository
	orders     *store.GormOrderRepository
	logger     *otelzap.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	t.Cleanup(func() { _ = store.Close(db) })

	logger := otelzap.New(zap.NewNop())
	adapter := mock.New(courier, agency.Governorates...)
	registry := agency.NewRegistry(store.NewGormAgencyRepository(db), logger, adapter)

	on := true
	_, err = registry.UpdateAgencyConfig(ctx, courier, agency.ConfigUpdate{
		Enabled:     &on,
		Credentials: &agency.Credentials{Type: agency.CredentialsAPIKey, APIKey: "key-123456"},
	})
	require.NoError(t, err)

	f := &fixture{
		registry:  registry,
		adapter:   adapter,
		shipments: store.NewGormShipmentRepository(db),
		orders:    store.NewGormOrderRepository(db),
		logger:    logger,
	}
	f.deliveries = delivery.NewService(delivery.Repositories{
		Shipments:  f.shipments,
		Logs:       store.NewGormStatusLogRepository(db),
		Orders:     f.orders,
		Activities: store.NewGormActivityRepository(db),
	}, registry, logger)
	return f
}

func (f *fixture) syncer(cfg syncer.Config, opts ...syncer.Option) *syncer.Service {
	return syncer.NewService(f.deliveries, f.shipments, f.registry, cfg, f.logger, opts...)
}

// seed creates n shipments and returns their ids and tracking numbers.
func (f *fixture) seed(t *testing.T, n int) ([]string, []string) {
	t.Helper()
	ctx := context.Background()

	var ids, tracking []string
	for i := 0; i < n; i++ {
		orderID := fmt.Sprintf("o%d", i+1)
		require.NoError(t, f.orders.Create(ctx, orderID, "CONFIRMED"))
		resp, err := f.deliveries.CreateShipment(ctx, delivery.CreateRequest{
			OrderID:  orderID,
			AgencyID: courier,
			Order: agency.Order{
				CustomerName: "Mohamed Trabelsi",
				Phone:        "98765432",
				Address:      "Route de Tunis km 4",
				City:         "Sfax",
				Product:      "Sac à main",
				Price:        decimal.RequireFromString("45.00"),
			},
		})
		require.NoError(t, err)
		require.True(t, resp.Success, resp.Error)
		ids = append(ids, resp.ShipmentID)
		tracking = append(tracking, resp.TrackingNumber)
	}
	return ids, tracking
}

type fakeRecorder struct {
	mu        sync.Mutex
	runs      []string
	shipments map[string]int
	stale     int
}

func (r *fakeRecorder) RecordSyncRun(variant, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, variant+":"+result)
}

func (r *fakeRecorder) RecordSyncShipment(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shipments == nil {
		r.shipments = make(map[string]int)
	}
	r.shipments[outcome]++
}

func (r *fakeRecorder) SetStaleShipments(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale = n
}

type fakeLocker struct {
	held     bool
	lostAt   int // extension number that reports the lock lost, 0 never
	extended int
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context) (syncer.Lease, error) {
	if l.held {
		return nil, syncer.ErrSyncAlreadyRunning
	}
	return l, nil
}

func (l *fakeLocker) Extend(ctx context.Context) error {
	l.extended++
	if l.lostAt > 0 && l.extended >= l.lostAt {
		return syncer.ErrLockLost
	}
	return nil
}

func (l *fakeLocker) Release(ctx context.Context) error {
	l.released++
	return nil
}

func TestSyncAll_UpdatesChangedShipments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids, tracking := f.seed(t, 3)

	f.adapter.SetStatus(tracking[0], agency.StatusDeposit)
	f.adapter.SetStatus(tracking[2], agency.StatusDelivered)

	rec := &fakeRecorder{}
	svc := f.syncer(syncer.Config{}, syncer.WithRecorder(rec))

	summary, err := svc.SyncAll(ctx)

	require.NoError(t, err)
	assert.Equal(t, syncer.VariantAll, summary.Variant)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Updated)
	assert.Zero(t, summary.Errors)
	require.Len(t, summary.Details, 2)
	byID := make(map[string]syncer.Detail)
	for _, d := range summary.Details {
		byID[d.ShipmentID] = d
	}
	require.Contains(t, byID, ids[0])
	assert.Equal(t, agency.StatusUploaded, byID[ids[0]].OldStatus)
	assert.Equal(t, agency.StatusDeposit, byID[ids[0]].NewStatus)
	assert.Equal(t, "UPLOADED", byID[ids[0]].OldOrderStatus)
	assert.Equal(t, "DEPOSIT", byID[ids[0]].NewOrderStatus)
	assert.Equal(t, agency.StatusDelivered, byID[ids[2]].NewStatus)

	orderStatus, err := f.orders.Status(ctx, "o3")
	require.NoError(t, err)
	assert.Equal(t, "DELIVERED", orderStatus)

	assert.Same(t, summary, svc.LastSummary())
	assert.False(t, svc.Running())
	assert.Equal(t, []string{"all:success"}, rec.runs)
	assert.Equal(t, 2, rec.shipments["updated"])
	assert.Equal(t, 1, rec.shipments["unchanged"])

	cfg, ok := f.registry.GetAgencyConfig(ctx, courier)
	require.True(t, ok)
	assert.NotNil(t, cfg.LastSync)
}

func TestSyncAll_SkipsTerminalShipments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids, tracking := f.seed(t, 3)

	f.adapter.SetStatus(tracking[0], agency.StatusDelivered)
	_, err := f.deliveries.TrackShipment(ctx, ids[0])
	require.NoError(t, err)
	require.NoError(t, f.deliveries.DeleteShipment(ctx, ids[1], "admin"))

	before := f.adapter.TrackCalls()
	summary, err := f.syncer(syncer.Config{}).SyncAll(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, before+1, f.adapter.TrackCalls())
}

func TestSyncAll_PartialFailuresDoNotAbort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids, tracking := f.seed(t, 3)

	f.adapter.OnTrackOrder = func(ctx context.Context, number string, creds agency.Credentials) (*agency.TrackingResult, error) {
		if number == tracking[1] {
			return nil, agency.NewError(courier, agency.KindTimeout, "TIMEOUT", "request timed out")
		}
		return &agency.TrackingResult{TrackingNumber: number, Status: agency.StatusInTransit, RawStatus: "4"}, nil
	}

	rec := &fakeRecorder{}
	summary, err := f.syncer(syncer.Config{}, syncer.WithRecorder(rec)).SyncAll(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 1, summary.Errors)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, ids[1], summary.Failures[0].ShipmentID)
	assert.Equal(t, "TIMEOUT", summary.Failures[0].Code)
	assert.Equal(t, []string{"all:partial"}, rec.runs)
}

func TestSyncAll_RejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 2)

	f.adapter.TrackDelay = 200 * time.Millisecond
	svc := f.syncer(syncer.Config{})

	var wg sync.WaitGroup
	wg.Add(1)
	var first *syncer.Summary
	var firstErr error
	go func() {
		defer wg.Done()
		first, firstErr = svc.SyncAll(ctx)
	}()

	require.Eventually(t, svc.Running, time.Second, 5*time.Millisecond)
	calls := f.adapter.TrackCalls()

	_, err := svc.SyncAll(ctx)
	assert.ErrorIs(t, err, syncer.ErrSyncAlreadyRunning)
	_, err = svc.SyncByAgency(ctx, courier)
	assert.ErrorIs(t, err, syncer.ErrSyncAlreadyRunning)
	assert.LessOrEqual(t, f.adapter.TrackCalls()-calls, 1, "rejected runs make no agency calls")

	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, 2, first.Processed)
	assert.False(t, svc.Running())

	_, err = svc.SyncAll(ctx)
	assert.NoError(t, err, "guard is released after the run")
}

func TestSyncAll_CancellationStopsFurtherCalls(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)

	rec := &fakeRecorder{}
	svc := f.syncer(syncer.Config{CallDelay: time.Hour}, syncer.WithRecorder(rec))
	before := f.adapter.TrackCalls()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	summary, err := svc.SyncAll(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, summary)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, before+1, f.adapter.TrackCalls())
	assert.Equal(t, []string{"all:cancelled"}, rec.runs)
	assert.False(t, svc.Running())
}

func TestSyncAll_WaitsBetweenCalls(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)

	start := time.Now()
	summary, err := f.syncer(syncer.Config{CallDelay: 30 * time.Millisecond}).SyncAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestSyncByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids, _ := f.seed(t, 3)

	_, err := f.deliveries.BulkUpdateShipmentStatus(ctx, ids[:1], agency.StatusInTransit, "admin")
	require.NoError(t, err)

	summary, err := f.syncer(syncer.Config{}).SyncByStatus(ctx, "in_transit")

	require.NoError(t, err)
	assert.Equal(t, syncer.VariantByStatus, summary.Variant)
	assert.Equal(t, 1, summary.Processed)
}

func TestSyncByStatus_Invalid(t *testing.T) {
	f := newFixture(t)
	svc := f.syncer(syncer.Config{})

	_, err := svc.SyncByStatus(context.Background(), "LOST")
	assert.ErrorIs(t, err, delivery.ErrInvalidStatus)

	_, err = svc.SyncByStatus(context.Background(), agency.StatusCancelled)
	assert.ErrorIs(t, err, delivery.ErrInvalidStatus)
}

func TestSyncByAgency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 2)
	svc := f.syncer(syncer.Config{})

	summary, err := svc.SyncByAgency(ctx, courier)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)

	_, err = svc.SyncByAgency(ctx, "unknown")
	assert.True(t, errors.Is(err, agency.ErrNotFound))
}

func TestSyncSingle(t *testing.T) {
	f := newFixture(t)
	ids, tracking := f.seed(t, 1)
	f.adapter.SetStatus(tracking[0], agency.StatusDeposit)

	resp, err := f.syncer(syncer.Config{}).SyncSingle(context.Background(), ids[0])

	require.NoError(t, err)
	assert.True(t, resp.StatusChanged)
	assert.Equal(t, agency.StatusDeposit, resp.Status)
}

func TestStaleShipments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 2)

	later := time.Now().Add(3 * time.Hour)
	rec := &fakeRecorder{}
	svc := f.syncer(syncer.Config{}, syncer.WithRecorder(rec), syncer.WithClock(func() time.Time { return later }))

	stale, err := svc.StaleShipments(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, stale, 2)
	assert.Equal(t, 2, rec.stale)

	stale, err = svc.StaleShipments(ctx, 4*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stale)
	assert.Zero(t, rec.stale)
}

func TestLocker_HeldElsewhere(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1)
	before := f.adapter.TrackCalls()

	locker := &fakeLocker{held: true}
	svc := f.syncer(syncer.Config{}, syncer.WithLocker(locker))

	_, err := svc.SyncAll(context.Background())

	assert.ErrorIs(t, err, syncer.ErrSyncAlreadyRunning)
	assert.Equal(t, before, f.adapter.TrackCalls())
	assert.False(t, svc.Running())
	assert.Nil(t, svc.LastSummary())
}

func TestLocker_ReleasedAfterRun(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1)

	locker := &fakeLocker{}
	_, err := f.syncer(syncer.Config{}, syncer.WithLocker(locker)).SyncAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, locker.released)
	assert.Zero(t, locker.extended)
}

func TestLocker_ExtendedBeforeEveryLaterShipment(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)

	locker := &fakeLocker{}
	summary, err := f.syncer(syncer.Config{}, syncer.WithLocker(locker)).SyncAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, locker.extended)
	assert.Equal(t, 1, locker.released)
}

func TestLocker_LostLockStopsRun(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)
	before := f.adapter.TrackCalls()

	locker := &fakeLocker{lostAt: 1}
	svc := f.syncer(syncer.Config{}, syncer.WithLocker(locker))

	summary, err := svc.SyncAll(context.Background())

	assert.ErrorIs(t, err, syncer.ErrLockLost)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, before+1, f.adapter.TrackCalls())
	assert.Equal(t, 1, locker.released)
	assert.False(t, svc.Running())
}

func TestRedisLock_ConnectionError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	_, err := syncer.NewRedisLock(client, "", time.Minute).Acquire(context.Background())

	require.Error(t, err)
	assert.NotErrorIs(t, err, syncer.ErrSyncAlreadyRunning)
	assert.Contains(t, err.Error(), "acquiring sync lock")
}
