package agency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// DefaultTimeout is the hard limit for a single agency call.
const DefaultTimeout = 30 * time.Second

const maxLoggedBody = 4096

// Observer receives one notification per agency call attempt.
type Observer interface {
	ObserveAgencyCall(agency, operation, outcome string, duration time.Duration)
}

// TransportConfig holds the shared HTTP settings for an adapter.
type TransportConfig struct {
	Timeout time.Duration
	// MaxRetries applies to idempotent calls only.
	MaxRetries   int
	RetryBackoff time.Duration
	Breaker      BreakerConfig
	Observer     Observer
	HTTPClient   *http.Client
}

// Call describes one outbound request.
type Call struct {
	Operation  string
	Idempotent bool
	// Build creates a fresh request per attempt.
	Build func(ctx context.Context) (*http.Request, error)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs agency HTTP calls with a hard timeout, logs every
// request/response pair and classifies transport failures.
type Transport struct {
	agency     string
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	breaker    *breaker
	observer   Observer
	logger     *otelzap.Logger
}

// NewTransport creates a transport for one agency.
func NewTransport(agencyName string, cfg TransportConfig, logger *otelzap.Logger) *Transport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	backoff := cfg.RetryBackoff
	if backoff == 0 {
		backoff = 500 * time.Millisecond
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
		}
	}

	return &Transport{
		agency:     agencyName,
		client:     client,
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
		breaker:    newBreaker(agencyName, cfg.Breaker, logger),
		observer:   cfg.Observer,
		logger:     logger,
	}
}

// BreakerState returns the breaker state name ("closed" when disabled).
func (t *Transport) BreakerState() string {
	return t.breaker.state()
}

// Do executes the call. 502, 503 and 504 responses are reported as network
// errors; any other HTTP status is returned to the caller for parsing.
func (t *Transport) Do(ctx context.Context, call Call) (*Response, error) {
	attempts := 1
	if call.Idempotent && t.maxRetries > 0 {
		attempts += t.maxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, t.cancelled(ctx)
			case <-time.After(t.backoff * time.Duration(attempt-1)):
			}
			t.logger.Ctx(ctx).Info("Retrying agency call",
				zap.String("agency", t.agency),
				zap.String("operation", call.Operation),
				zap.Int("attempt", attempt),
			)
		}

		resp, err := t.attempt(ctx, call)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (t *Transport) attempt(ctx context.Context, call Call) (*Response, error) {
	var resp *Response
	start := time.Now()

	_, err := t.breaker.execute(t.agency, func() ([]byte, error) {
		r, err := t.roundTrip(ctx, call, start)
		resp = r
		return nil, err
	})

	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	if t.observer != nil {
		t.observer.ObserveAgencyCall(t.agency, call.Operation, outcome, time.Since(start))
	}
	return resp, err
}

func (t *Transport) roundTrip(ctx context.Context, call Call, start time.Time) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := call.Build(reqCtx)
	if err != nil {
		return nil, NewError(t.agency, KindProtocol, "BUILD_ERROR", "failed to build request").WithCause(err)
	}

	log := t.logger.Ctx(ctx)
	log.Info("Agency request",
		zap.String("agency", t.agency),
		zap.String("operation", call.Operation),
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Time("timestamp", start),
	)
	if req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			data, _ := io.ReadAll(io.LimitReader(body, maxLoggedBody))
			body.Close()
			log.Debug("Agency request body",
				zap.String("agency", t.agency),
				zap.String("operation", call.Operation),
				zap.ByteString("body", data),
			)
		}
	}

	httpResp, err := t.client.Do(req)
	if err != nil {
		classified := t.classify(ctx, err)
		log.Error("Agency request failed",
			zap.String("agency", t.agency),
			zap.String("operation", call.Operation),
			zap.String("kind", string(classified.Kind)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, classified
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		classified := t.classify(ctx, err)
		log.Error("Agency response read failed",
			zap.String("agency", t.agency),
			zap.String("operation", call.Operation),
			zap.Error(err),
		)
		return nil, classified
	}

	log.Info("Agency response",
		zap.String("agency", t.agency),
		zap.String("operation", call.Operation),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.Time("timestamp", time.Now()),
	)
	log.Debug("Agency response body",
		zap.String("agency", t.agency),
		zap.String("operation", call.Operation),
		zap.ByteString("body", truncate(body)),
	)

	switch httpResp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, NewError(t.agency, KindNetwork, fmt.Sprintf("HTTP_%d", httpResp.StatusCode),
			"agency unavailable").
			WithStatusCode(httpResp.StatusCode).
			WithRawBody(truncate(body))
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

func (t *Transport) classify(ctx context.Context, err error) *Error {
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return t.cancelled(ctx)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewError(t.agency, KindTimeout, "TIMEOUT",
			fmt.Sprintf("no response within %s", t.timeout)).WithCause(err)
	}
	return NewError(t.agency, KindNetwork, "NETWORK_ERROR", "agency unreachable").WithCause(err)
}

func (t *Transport) cancelled(ctx context.Context) *Error {
	return NewError(t.agency, KindNetwork, ErrCancelled.Code, "call cancelled").WithCause(ctx.Err())
}

func truncate(body []byte) []byte {
	if len(body) > maxLoggedBody {
		return body[:maxLoggedBody]
	}
	return body
}

// ProtocolError builds a parse failure carrying the raw body.
func ProtocolError(agencyName, message string, body []byte, cause error) *Error {
	return NewError(agencyName, KindProtocol, "PARSE_ERROR", message).
		WithRawBody(truncate(body)).
		WithCause(cause)
}
