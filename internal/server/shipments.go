package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tournevent/delivery/internal/delivery"
	"github.com/tournevent/delivery/pkg/agency"
)

type trackByNumberRequest struct {
	TrackingNumber string `json:"trackingNumber" binding:"required"`
	AgencyID       string `json:"agencyId"`
}

type bulkStatusRequest struct {
	ShipmentIDs []string      `json:"shipmentIds" binding:"required,min=1,dive,required"`
	NewStatus   agency.Status `json:"newStatus" binding:"required"`
}

func (s *Server) createShipment(c *gin.Context) {
	var req delivery.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, codeBadRequest, err.Error(), nil)
		return
	}
	req.ActorID = actorID(c)

	resp, err := s.shipments.CreateShipment(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeOrderResponse(c, resp, http.StatusCreated)
}

func (s *Server) getShipment(c *gin.Context) {
	shipment, err := s.shipments.GetShipment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, shipment)
}

func (s *Server) listStatusLogs(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := s.shipments.GetShipment(ctx, id); err != nil {
		s.writeError(c, err)
		return
	}
	logs, err := s.shipments.ListStatusLogs(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, logs)
}

func (s *Server) trackShipment(c *gin.Context) {
	resp, err := s.shipments.TrackShipment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeTrackingResponse(c, resp)
}

func (s *Server) trackByNumber(c *gin.Context) {
	var req trackByNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, codeBadRequest, err.Error(), nil)
		return
	}

	resp, err := s.shipments.TrackByTrackingNumber(c.Request.Context(), req.AgencyID, req.TrackingNumber)
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeTrackingResponse(c, resp)
}

func (s *Server) retryShipment(c *gin.Context) {
	resp, err := s.shipments.RetryShipment(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeOrderResponse(c, resp, http.StatusCreated)
}

func (s *Server) bulkUpdateStatus(c *gin.Context) {
	var req bulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, codeBadRequest, err.Error(), nil)
		return
	}

	result, err := s.shipments.BulkUpdateShipmentStatus(c.Request.Context(), req.ShipmentIDs, req.NewStatus, actorID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, result)
}

func (s *Server) deleteShipment(c *gin.Context) {
	if err := s.shipments.DeleteShipment(c.Request.Context(), c.Param("id"), actorID(c)); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) writeOrderResponse(c *gin.Context, resp *delivery.OrderResponse, successStatus int) {
	if resp.Success {
		c.JSON(successStatus, Response{Success: true, Data: resp})
		return
	}
	var details any
	if len(resp.Fields) > 0 {
		details = resp.Fields
	}
	failWithData(c, statusForResponse(resp.Kind, resp.Code), resp, resp.Code, resp.Error, details)
}

func writeTrackingResponse(c *gin.Context, resp *delivery.TrackingResponse) {
	if resp.Success {
		ok(c, resp)
		return
	}
	failWithData(c, statusForResponse(resp.Kind, resp.Code), resp, resp.Code, resp.Error, nil)
}
