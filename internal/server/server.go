// Package server exposes the delivery service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/delivery/internal/delivery"
	"github.com/tournevent/delivery/internal/syncer"
	"github.com/tournevent/delivery/pkg/agency"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// ActorHeader carries the id of the user acting through the API.
const ActorHeader = "X-Actor-ID"

// Shipments is the delivery service as used by the handlers.
type Shipments interface {
	CreateShipment(ctx context.Context, req delivery.CreateRequest) (*delivery.OrderResponse, error)
	GetShipment(ctx context.Context, id string) (*delivery.Shipment, error)
	ListStatusLogs(ctx context.Context, shipmentID string) ([]delivery.StatusLog, error)
	TrackShipment(ctx context.Context, id string) (*delivery.TrackingResponse, error)
	TrackByTrackingNumber(ctx context.Context, agencyID, trackingNumber string) (*delivery.TrackingResponse, error)
	RetryShipment(ctx context.Context, id, actorID string) (*delivery.OrderResponse, error)
	BulkUpdateShipmentStatus(ctx context.Context, ids []string, status agency.Status, actorID string) (*delivery.BulkUpdateResult, error)
	DeleteShipment(ctx context.Context, id, actorID string) error
}

// Sync is the sync service as used by the handlers.
type Sync interface {
	Running() bool
	LastSummary() *syncer.Summary
	SyncAll(ctx context.Context) (*syncer.Summary, error)
	SyncByStatus(ctx context.Context, status agency.Status) (*syncer.Summary, error)
	SyncByAgency(ctx context.Context, agencyID string) (*syncer.Summary, error)
	SyncSingle(ctx context.Context, shipmentID string) (*delivery.TrackingResponse, error)
	StaleShipments(ctx context.Context, olderThan time.Duration) ([]delivery.Shipment, error)
}

// Agencies is the agency registry as used by the handlers.
type Agencies interface {
	All(ctx context.Context) []agency.Config
	GetEnabledAgencies(ctx context.Context) []agency.Config
	GetAgencyConfig(ctx context.Context, id string) (agency.Config, bool)
	UpdateAgencyConfig(ctx context.Context, id string, update agency.ConfigUpdate) (agency.Config, error)
	TestConnection(ctx context.Context, id string) error
	TestAllConnections(ctx context.Context) map[string]error
}

// Config holds server configuration.
type Config struct {
	Port        int
	ServiceName string
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP server for the delivery service.
type Server struct {
	port      int
	shipments Shipments
	sync      Sync
	agencies  Agencies
	logger    *otelzap.Logger
	engine    *gin.Engine
}

// New creates a new server instance.
func New(cfg Config, shipments Shipments, sync Sync, agencies Agencies, logger *otelzap.Logger) *Server {
	s := &Server{
		port:      cfg.Port,
		shipments: shipments,
		sync:      sync,
		agencies:  agencies,
		logger:    logger,
	}
	s.engine = s.routes(cfg)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes(cfg Config) *gin.Engine {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "delivery"
	}

	r := gin.New()
	r.Use(otelgin.Middleware(serviceName), s.requestLogger(), s.recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")

	shipments := api.Group("/shipments")
	shipments.POST("", s.createShipment)
	shipments.POST("/track", s.trackByNumber)
	shipments.PUT("/status", s.bulkUpdateStatus)
	shipments.GET("/:id", s.getShipment)
	shipments.GET("/:id/logs", s.listStatusLogs)
	shipments.GET("/:id/track", s.trackShipment)
	shipments.POST("/:id/track", s.trackShipment)
	shipments.POST("/:id/retry", s.retryShipment)
	shipments.DELETE("/:id", s.deleteShipment)

	sync := api.Group("/sync")
	sync.GET("", s.syncStatus)
	sync.POST("", s.syncAll)
	sync.GET("/stale", s.staleShipments)
	sync.POST("/agencies/:agencyId", s.syncByAgency)
	sync.POST("/statuses/:status", s.syncByStatus)
	sync.POST("/shipments/:id", s.syncSingle)

	agencies := api.Group("/agencies")
	agencies.GET("", s.listAgencies)
	agencies.GET("/enabled", s.listEnabledAgencies)
	agencies.POST("/test", s.testAllConnections)
	agencies.GET("/:id", s.getAgency)
	agencies.PUT("/:id", s.updateAgency)
	agencies.POST("/:id/test", s.testConnection)

	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// requestLogger logs one line per request, at a level chosen by status.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("actor", actorID(c)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		log := s.logger.Ctx(c.Request.Context())
		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.Ctx(c.Request.Context()).Error("Panic recovered",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Any("error", recovered),
			zap.Stack("stacktrace"),
		)
		fail(c, http.StatusInternalServerError, codeInternal, "internal error", nil)
		c.Abort()
	})
}

func actorID(c *gin.Context) string {
	if id := c.GetHeader(ActorHeader); id != "" {
		return id
	}
	return delivery.SystemActor
}
