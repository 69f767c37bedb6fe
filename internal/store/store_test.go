package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/delivery/internal/delivery"
	"github.com/tournevent/delivery/pkg/agency"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func testShipment(id, agencyID, tracking string, status agency.Status, updated time.Time) *delivery.Shipment {
	return &delivery.Shipment{
		ID:               id,
		OrderID:          "order-" + id,
		AgencyID:         agencyID,
		TrackingNumber:   tracking,
		Status:           status,
		LastStatusUpdate: updated,
		Metadata: delivery.Snapshot{
			CustomerName: "Mohamed Trabelsi",
			City:         "Sfax",
			Phone:        "98765432",
			Price:        decimal.RequireFromString("45.00"),
		},
		CreatedAt: updated,
		UpdatedAt: updated,
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestAgencyRepository_SaveAndLoad(t *testing.T) {
	repo := NewGormAgencyRepository(newTestDB(t))
	ctx := context.Background()

	cfg := agency.Config{
		ID:      "navex",
		Name:    "Navex",
		Enabled: true,
		Credentials: agency.Credentials{
			Type:   agency.CredentialsAPIKey,
			APIKey: "nvx_live_0123456789",
		},
		Settings:        map[string]any{"pickupDay": "monday"},
		PollingInterval: 15 * time.Minute,
	}
	require.NoError(t, repo.SaveAgencyConfig(ctx, cfg))

	cfg.Enabled = false
	require.NoError(t, repo.SaveAgencyConfig(ctx, cfg))

	configs, err := repo.LoadAgencyConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.False(t, configs[0].Enabled)
	assert.Equal(t, "nvx_live_0123456789", configs[0].Credentials.APIKey)
	assert.Equal(t, 15*time.Minute, configs[0].PollingInterval)
	assert.Equal(t, "monday", configs[0].Settings["pickupDay"])
}

func TestAgencyRepository_LoadError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM "delivery_agencies"`).
		WillReturnError(errors.New("connection refused"))

	_, err = NewGormAgencyRepository(gormDB).LoadAgencyConfigs(context.Background())

	assert.ErrorContains(t, err, "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShipmentRepository_CreateAndFind(t *testing.T) {
	repo := NewGormShipmentRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, testShipment("s1", "navex", "NVX1", agency.StatusUploaded, now)))

	got, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "NVX1", got.TrackingNumber)
	assert.Equal(t, "Sfax", got.Metadata.City)
	assert.True(t, decimal.RequireFromString("45").Equal(got.Metadata.Price))

	byTracking, err := repo.FindByTracking(ctx, "", "NVX1")
	require.NoError(t, err)
	assert.Equal(t, "s1", byTracking.ID)

	_, err = repo.FindByTracking(ctx, "bestdelivery", "NVX1")
	assert.ErrorIs(t, err, delivery.ErrShipmentNotFound)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, delivery.ErrShipmentNotFound)
}

func TestShipmentRepository_TrackingUniquePerAgency(t *testing.T) {
	repo := NewGormShipmentRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, testShipment("s1", "navex", "T-1", agency.StatusUploaded, now)))
	require.NoError(t, repo.Create(ctx, testShipment("s2", "bestdelivery", "T-1", agency.StatusUploaded, now)))

	err := repo.Create(ctx, testShipment("s3", "navex", "T-1", agency.StatusUploaded, now))
	assert.ErrorIs(t, err, delivery.ErrDuplicateTracking)
}

func TestShipmentRepository_Update(t *testing.T) {
	repo := NewGormShipmentRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	s := testShipment("s1", "navex", "NVX1", agency.StatusUploaded, now)
	require.NoError(t, repo.Create(ctx, s))

	s.Status = agency.StatusInTransit
	s.LastStatusUpdate = now.Add(time.Hour)
	require.NoError(t, repo.Update(ctx, s))

	got, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, agency.StatusInTransit, got.Status)
	assert.WithinDuration(t, now.Add(time.Hour), got.LastStatusUpdate, time.Millisecond)

	missing := testShipment("nope", "navex", "X", agency.StatusDeposit, now)
	assert.ErrorIs(t, repo.Update(ctx, missing), delivery.ErrShipmentNotFound)
}

func TestShipmentRepository_List(t *testing.T) {
	repo := NewGormShipmentRepository(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, testShipment("a", "navex", "A", agency.StatusUploaded, base.Add(2*time.Hour))))
	require.NoError(t, repo.Create(ctx, testShipment("b", "navex", "B", agency.StatusInTransit, base)))
	require.NoError(t, repo.Create(ctx, testShipment("c", "bestdelivery", "C", agency.StatusDelivered, base)))
	require.NoError(t, repo.Create(ctx, testShipment("d", "bestdelivery", "D", agency.StatusDeposit, base.Add(time.Hour))))

	active, err := repo.List(ctx, delivery.ShipmentFilter{Statuses: agency.ActiveStatuses})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d", "a"}, shipmentIDs(active))

	navex, err := repo.List(ctx, delivery.ShipmentFilter{Statuses: agency.ActiveStatuses, AgencyID: "navex"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, shipmentIDs(navex))

	stale, err := repo.List(ctx, delivery.ShipmentFilter{
		Statuses:      agency.ActiveStatuses,
		UpdatedBefore: base.Add(90 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, shipmentIDs(stale))

	byOrder, err := repo.List(ctx, delivery.ShipmentFilter{OrderID: "order-c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, shipmentIDs(byOrder))
}

func TestStatusLogRepository_AppendAndList(t *testing.T) {
	repo := NewGormStatusLogRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	for _, st := range []agency.Status{agency.StatusUploaded, agency.StatusDeposit, agency.StatusInTransit} {
		log := &delivery.StatusLog{ShipmentID: "s1", Status: st, Source: delivery.SourceAPI, Timestamp: now}
		require.NoError(t, repo.Append(ctx, log))
		assert.NotZero(t, log.ID)
	}
	require.NoError(t, repo.Append(ctx, &delivery.StatusLog{ShipmentID: "s2", Status: agency.StatusUploaded, Source: delivery.SourceManual, Timestamp: now}))

	logs, err := repo.ListByShipment(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, agency.StatusUploaded, logs[0].Status)
	assert.Equal(t, agency.StatusInTransit, logs[2].Status)
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	repo := NewGormOrderRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, "o1", "CONFIRMED"))

	previous, err := repo.UpdateStatus(ctx, "o1", "UPLOADED")
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", previous)

	status, err := repo.Status(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "UPLOADED", status)

	_, err = repo.UpdateStatus(ctx, "missing", "UPLOADED")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActivityRepository_Record(t *testing.T) {
	repo := NewGormActivityRepository(newTestDB(t))
	ctx := context.Background()

	a := &delivery.Activity{
		ActorID:     "user-7",
		Type:        delivery.ActivityShipmentCreated,
		Description: "Shipment NVX1 created with navex",
		Metadata:    map[string]any{"trackingNumber": "NVX1"},
	}
	require.NoError(t, repo.Record(ctx, a))
	assert.NotEmpty(t, a.ID)

	got, err := repo.ListByType(ctx, delivery.ActivityShipmentCreated)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "user-7", got[0].ActorID)
	assert.Equal(t, "NVX1", got[0].Metadata["trackingNumber"])
}

func shipmentIDs(shipments []delivery.Shipment) []string {
	ids := make([]string, len(shipments))
	for i, s := range shipments {
		ids[i] = s.ID
	}
	return ids
}
