package agency

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an agency failure.
type Kind string

const (
	// KindValidation is a local pre-call failure; the network was never touched.
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindDisabled   Kind = "disabled"
	KindTimeout    Kind = "timeout"
	KindNetwork    Kind = "network"
	// KindProtocol means the agency answered but the reply could not be parsed.
	KindProtocol Kind = "protocol"
	// KindBusiness means the agency explicitly rejected the request.
	KindBusiness Kind = "business"
)

// FieldError describes one violated field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error represents a failure talking to, or configuring, a delivery agency.
type Error struct {
	Agency     string
	Kind       Kind
	Code       string
	Message    string
	StatusCode int
	Fields     []FieldError
	RawBody    string
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Detail()
	if e.Cause != nil {
		return fmt.Sprintf("%s %s error (%s): %s: %v", e.Agency, e.Kind, e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s %s error (%s): %s", e.Agency, e.Kind, e.Code, msg)
}

// Detail returns the message followed by every field violation. It carries
// the agency's own wording for business errors.
func (e *Error) Detail() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is. A target with an empty Code matches any error of
// the same Kind; otherwise Kind and Code must both match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// NewError creates a new Error.
func NewError(agency string, kind Kind, code, message string) *Error {
	return &Error{
		Agency:  agency,
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// WithRawBody attaches the raw agency response for diagnosis.
func (e *Error) WithRawBody(body []byte) *Error {
	e.RawBody = string(body)
	return e
}

// WithFields attaches field violations.
func (e *Error) WithFields(fields []FieldError) *Error {
	e.Fields = fields
	return e
}

// Sentinel errors matched by Kind through errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrDisabled   = &Error{Kind: KindDisabled}
	ErrTimeout    = &Error{Kind: KindTimeout}
	ErrNetwork    = &Error{Kind: KindNetwork}
	ErrProtocol   = &Error{Kind: KindProtocol}
	ErrBusiness   = &Error{Kind: KindBusiness}

	// ErrCircuitOpen indicates the agency breaker is rejecting calls.
	ErrCircuitOpen = &Error{Kind: KindNetwork, Code: "CIRCUIT_OPEN"}

	// ErrCancelled indicates the caller's context ended the call.
	ErrCancelled = &Error{Kind: KindNetwork, Code: "CANCELLED"}
)

// NotFoundError reports an unknown agency id.
func NotFoundError(id string) *Error {
	return NewError(id, KindNotFound, "AGENCY_NOT_FOUND", fmt.Sprintf("agency %q not found", id))
}

// DisabledError reports an agency that is configured but switched off.
func DisabledError(id string) *Error {
	return NewError(id, KindDisabled, "AGENCY_DISABLED", fmt.Sprintf("agency %q is disabled", id))
}

// KindOf returns the Kind of err, or "" if err is not an agency error.
func KindOf(err error) Kind {
	var agencyErr *Error
	if errors.As(err, &agencyErr) {
		return agencyErr.Kind
	}
	return ""
}

// IsRetryable returns true if the error is a transient transport failure.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindNetwork:
		return !errors.Is(err, ErrCircuitOpen) && !errors.Is(err, ErrCancelled)
	}
	return false
}
