package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tournevent/delivery/internal/delivery"
	"github.com/tournevent/delivery/internal/syncer"
	"github.com/tournevent/delivery/pkg/agency"
	"go.uber.org/zap"
)

// Error codes for failures raised by the HTTP layer itself.
const (
	codeBadRequest   = "BAD_REQUEST"
	codeNotFound     = "NOT_FOUND"
	codeInvalid      = "INVALID_STATUS"
	codeSyncRunning  = "SYNC_ALREADY_RUNNING"
	codeCancelled    = "REQUEST_CANCELLED"
	codeInternal     = "INTERNAL_ERROR"
	codeAgencyFailed = "AGENCY_ERROR"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failure.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, message string, details any) {
	c.JSON(status, Response{
		Success: false,
		Error:   &ErrorBody{Code: code, Message: message, Details: details},
	})
}

// failWithData reports an unsuccessful operation whose result is still
// worth returning, such as a rejected shipment creation.
func failWithData(c *gin.Context, status int, data any, code, message string, details any) {
	c.JSON(status, Response{
		Success: false,
		Data:    data,
		Error:   &ErrorBody{Code: code, Message: message, Details: details},
	})
}

// statusForKind maps agency failure kinds onto HTTP statuses.
func statusForKind(kind agency.Kind) int {
	switch kind {
	case agency.KindValidation, agency.KindBusiness:
		return http.StatusUnprocessableEntity
	case agency.KindNotFound:
		return http.StatusNotFound
	case agency.KindDisabled:
		return http.StatusConflict
	case agency.KindTimeout:
		return http.StatusGatewayTimeout
	case agency.KindNetwork, agency.KindProtocol:
		return http.StatusBadGateway
	}
	return http.StatusUnprocessableEntity
}

// statusForResponse picks the status of an unsuccessful service response.
func statusForResponse(kind agency.Kind, code string) int {
	switch code {
	case delivery.CodeActiveShipmentExists, delivery.CodeDuplicateTracking,
		delivery.CodeShipmentCancelled, delivery.CodeShipmentDelivered:
		return http.StatusConflict
	}
	return statusForKind(kind)
}

// writeError maps a Go error returned by a service onto the envelope.
func (s *Server) writeError(c *gin.Context, err error) {
	var agencyErr *agency.Error
	switch {
	case errors.Is(err, delivery.ErrShipmentNotFound):
		fail(c, http.StatusNotFound, codeNotFound, err.Error(), nil)
	case errors.Is(err, delivery.ErrInvalidStatus):
		fail(c, http.StatusBadRequest, codeInvalid, err.Error(), nil)
	case errors.Is(err, syncer.ErrSyncAlreadyRunning):
		fail(c, http.StatusConflict, codeSyncRunning, err.Error(), nil)
	case errors.As(err, &agencyErr):
		code := agencyErr.Code
		if code == "" {
			code = codeAgencyFailed
		}
		var details any
		if len(agencyErr.Fields) > 0 {
			details = agencyErr.Fields
		}
		fail(c, statusForKind(agencyErr.Kind), code, agencyErr.Detail(), details)
	case c.Request.Context().Err() != nil:
		fail(c, http.StatusServiceUnavailable, codeCancelled, "request cancelled", nil)
	default:
		s.logger.Ctx(c.Request.Context()).Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		fail(c, http.StatusInternalServerError, codeInternal, "internal error", nil)
	}
}
