package agency_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tournevent/delivery/pkg/agency"
)

func TestError_Error(t *testing.T) {
	err := agency.NewError("navex", agency.KindBusiness, "REJECTED", "Adresse incomplète")
	assert.Equal(t, "navex business error (REJECTED): Adresse incomplète", err.Error())
}

func TestError_ErrorWithFields(t *testing.T) {
	err := agency.NewError("navex", agency.KindValidation, "INVALID_ORDER", "invalid order").
		WithFields([]agency.FieldError{
			{Field: "phone", Message: "is required"},
			{Field: "city", Message: "is required"},
		})
	assert.Contains(t, err.Error(), "phone: is required")
	assert.Contains(t, err.Error(), "city: is required")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := agency.NewError("navex", agency.KindNetwork, "NETWORK_ERROR", "agency unreachable").WithCause(cause)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestError_IsKind(t *testing.T) {
	err := agency.NewError("bestdelivery", agency.KindTimeout, "TIMEOUT", "no response")
	wrapped := fmt.Errorf("tracking: %w", err)

	assert.True(t, errors.Is(wrapped, agency.ErrTimeout))
	assert.False(t, errors.Is(wrapped, agency.ErrNetwork))
	assert.False(t, errors.Is(wrapped, agency.ErrProtocol))
}

func TestError_IsCode(t *testing.T) {
	open := agency.NewError("navex", agency.KindNetwork, "CIRCUIT_OPEN", "agency temporarily unavailable")
	other := agency.NewError("navex", agency.KindNetwork, "NETWORK_ERROR", "agency unreachable")

	assert.True(t, errors.Is(open, agency.ErrCircuitOpen))
	assert.False(t, errors.Is(other, agency.ErrCircuitOpen))
	assert.True(t, errors.Is(other, agency.ErrNetwork))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, agency.KindDisabled, agency.KindOf(agency.DisabledError("navex")))
	assert.Equal(t, agency.KindNotFound, agency.KindOf(fmt.Errorf("x: %w", agency.NotFoundError("dhl"))))
	assert.Equal(t, agency.Kind(""), agency.KindOf(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", agency.NewError("a", agency.KindTimeout, "TIMEOUT", "x"), true},
		{"network", agency.NewError("a", agency.KindNetwork, "NETWORK_ERROR", "x"), true},
		{"circuit open", agency.NewError("a", agency.KindNetwork, "CIRCUIT_OPEN", "x"), false},
		{"cancelled", agency.NewError("a", agency.KindNetwork, "CANCELLED", "x"), false},
		{"business", agency.NewError("a", agency.KindBusiness, "REJECTED", "x"), false},
		{"protocol", agency.NewError("a", agency.KindProtocol, "PARSE_ERROR", "x"), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, agency.IsRetryable(tt.err))
		})
	}
}
