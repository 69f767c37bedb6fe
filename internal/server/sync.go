package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tournevent/delivery/internal/delivery"
	"github.com/tournevent/delivery/internal/syncer"
	"github.com/tournevent/delivery/pkg/agency"
)

type syncStatusResponse struct {
	Running     bool            `json:"running"`
	LastSummary *syncer.Summary `json:"lastSummary,omitempty"`
}

type staleResponse struct {
	OlderThan string              `json:"olderThan"`
	Count     int                 `json:"count"`
	Shipments []delivery.Shipment `json:"shipments"`
}

func (s *Server) syncStatus(c *gin.Context) {
	ok(c, syncStatusResponse{
		Running:     s.sync.Running(),
		LastSummary: s.sync.LastSummary(),
	})
}

func (s *Server) syncAll(c *gin.Context) {
	s.writeSummary(c)(s.sync.SyncAll(c.Request.Context()))
}

func (s *Server) syncByAgency(c *gin.Context) {
	s.writeSummary(c)(s.sync.SyncByAgency(c.Request.Context(), c.Param("agencyId")))
}

func (s *Server) syncByStatus(c *gin.Context) {
	status := agency.Status(c.Param("status"))
	s.writeSummary(c)(s.sync.SyncByStatus(c.Request.Context(), status))
}

func (s *Server) syncSingle(c *gin.Context) {
	resp, err := s.sync.SyncSingle(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeTrackingResponse(c, resp)
}

func (s *Server) staleShipments(c *gin.Context) {
	var olderThan time.Duration
	if raw := c.Query("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			fail(c, http.StatusBadRequest, codeBadRequest, "olderThan must be a positive duration such as 2h", nil)
			return
		}
		olderThan = d
	}

	stale, err := s.sync.StaleShipments(c.Request.Context(), olderThan)
	if err != nil {
		s.writeError(c, err)
		return
	}

	label := "default"
	if olderThan > 0 {
		label = olderThan.String()
	}
	ok(c, staleResponse{OlderThan: label, Count: len(stale), Shipments: stale})
}

func (s *Server) writeSummary(c *gin.Context) func(*syncer.Summary, error) {
	return func(summary *syncer.Summary, err error) {
		if err != nil {
			s.writeError(c, err)
			return
		}
		ok(c, summary)
	}
}
