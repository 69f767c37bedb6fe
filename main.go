package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tournevent/delivery/internal/server"
	"github.com/tournevent/delivery/internal/store"
	"github.com/tournevent/delivery/internal/syncer"
	"github.com/tournevent/delivery/pkg/agency"
	"go.uber.org/zap"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "delivery",
	Short:   "Tournevent Delivery - courier integration and shipment tracking service",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the sync scheduler",
	RunE:  runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one shipment sync and print its summary",
	RunE:  runSync,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE:  runMigrate,
}

var (
	syncAgency string
	syncStatus string
)

func init() {
	syncCmd.Flags().StringVar(&syncAgency, "agency", "", "only sync shipments of this agency")
	syncCmd.Flags().StringVar(&syncStatus, "status", "", "only sync shipments in this status")
	syncCmd.MarkFlagsMutuallyExclusive("agency", "status")

	rootCmd.AddCommand(serveCmd, syncCmd, migrateCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.SyncEnabled {
		scheduler := syncer.NewScheduler(a.syncer, a.cfg.SyncInterval, a.logger)
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = scheduler.Stop(stopCtx)
		}()
	}

	a.logger.Info("Starting Tournevent Delivery",
		zap.Int("port", a.cfg.Port),
		zap.String("version", a.cfg.Version),
		zap.Int("agencies", len(a.registry.All(ctx))),
	)

	srv := server.New(server.Config{
		Port:        a.cfg.Port,
		ServiceName: a.cfg.ServiceName,
		Gatherer:    a.prometheus,
	}, a.deliveries, a.syncer, a.registry, a.logger)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var summary *syncer.Summary
	switch {
	case syncAgency != "":
		summary, err = a.syncer.SyncByAgency(ctx, syncAgency)
	case syncStatus != "":
		summary, err = a.syncer.SyncByStatus(ctx, agency.Status(syncStatus))
	default:
		summary, err = a.syncer.SyncAll(ctx)
	}
	if summary != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(summary); encErr != nil {
			return encErr
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer store.Close(db)

	if err := store.Migrate(db); err != nil {
		return err
	}
	logger.Info("Database schema is up to date", zap.String("driver", cfg.DatabaseDriver))
	return nil
}
