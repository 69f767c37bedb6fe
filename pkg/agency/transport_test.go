package agency_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/delivery/pkg/agency"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveAgencyCall(agencyName, operation, outcome string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func getCall(url string, idempotent bool) agency.Call {
	return agency.Call{
		Operation:  "track",
		Idempotent: idempotent,
		Build: func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		},
	}
}

func newTestTransport(cfg agency.TransportConfig) *agency.Transport {
	return agency.NewTransport("navex", cfg, otelzap.New(zap.NewNop()))
}

func TestTransport_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	observer := &recordingObserver{}
	transport := newTestTransport(agency.TransportConfig{Observer: observer})

	resp, err := transport.Do(context.Background(), getCall(srv.URL, true))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, []string{"success"}, observer.outcomes)
}

func TestTransport_ClientErrorsAreReturnedForParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"bad"}`))
	}))
	defer srv.Close()

	resp, err := newTestTransport(agency.TransportConfig{}).Do(context.Background(), getCall(srv.URL, true))

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransport_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	transport := newTestTransport(agency.TransportConfig{Timeout: 50 * time.Millisecond})

	_, err := transport.Do(context.Background(), getCall(srv.URL, false))

	require.Error(t, err)
	assert.True(t, errors.Is(err, agency.ErrTimeout), "got %v", err)
	assert.False(t, errors.Is(err, agency.ErrNetwork))
}

func TestTransport_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestTransport(agency.TransportConfig{}).Do(context.Background(), getCall(url, false))

	assert.True(t, errors.Is(err, agency.ErrNetwork), "got %v", err)
}

func TestTransport_ServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestTransport(agency.TransportConfig{}).Do(context.Background(), getCall(srv.URL, false))

	var agencyErr *agency.Error
	require.True(t, errors.As(err, &agencyErr))
	assert.Equal(t, agency.KindNetwork, agencyErr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, agencyErr.StatusCode)
}

func TestTransport_RetriesIdempotentCalls(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	transport := newTestTransport(agency.TransportConfig{MaxRetries: 2, RetryBackoff: time.Millisecond})

	resp, err := transport.Do(context.Background(), getCall(srv.URL, true))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
}

func TestTransport_DoesNotRetryNonIdempotentCalls(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	transport := newTestTransport(agency.TransportConfig{MaxRetries: 2, RetryBackoff: time.Millisecond})

	_, err := transport.Do(context.Background(), getCall(srv.URL, false))

	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestTransport_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	transport := newTestTransport(agency.TransportConfig{
		Breaker: agency.BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := transport.Do(ctx, getCall(srv.URL, false))
		require.Error(t, err)
	}
	assert.Equal(t, "open", transport.BreakerState())

	_, err := transport.Do(ctx, getCall(srv.URL, false))
	assert.True(t, errors.Is(err, agency.ErrCircuitOpen), "got %v", err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestTransport_BusinessResponsesDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	transport := newTestTransport(agency.TransportConfig{
		Breaker: agency.BreakerConfig{ConsecutiveFailures: 1},
	})

	for i := 0; i < 3; i++ {
		_, err := transport.Do(context.Background(), getCall(srv.URL, false))
		require.NoError(t, err)
	}
	assert.Equal(t, "closed", transport.BreakerState())
}

func TestTransport_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestTransport(agency.TransportConfig{}).Do(ctx, getCall(srv.URL, true))

	assert.True(t, errors.Is(err, agency.ErrCancelled), "got %v", err)
}
