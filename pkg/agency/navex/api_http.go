package navex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tournevent/delivery/pkg/agency"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL   string
	transport *agency.Transport
}

// NewHTTPAPIClient creates a new HTTP-based API client.
func NewHTTPAPIClient(baseURL string, transport *agency.Transport) *HTTPAPIClient {
	return &HTTPAPIClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: transport,
	}
}

// CreateParcel creates a new parcel.
func (c *HTTPAPIClient) CreateParcel(ctx context.Context, apiKey string, req *ParcelRequest) (*Parcel, error) {
	env, resp, err := c.do(ctx, "create_parcel", false, http.MethodPost, "/api/v1/parcels", apiKey, req)
	if err != nil {
		return nil, err
	}
	if env.Parcel == nil || env.Parcel.TrackingNumber == "" {
		return nil, agency.ProtocolError(agencyName, "reply has no parcel", resp.Body, nil)
	}
	return env.Parcel, nil
}

// GetParcel returns the parcel with the given tracking number.
func (c *HTTPAPIClient) GetParcel(ctx context.Context, apiKey string, trackingNumber string) (*Parcel, error) {
	path := "/api/v1/parcels/" + url.PathEscape(trackingNumber)
	env, resp, err := c.do(ctx, "get_parcel", true, http.MethodGet, path, apiKey, nil)
	if err != nil {
		return nil, err
	}
	if env.Parcel == nil || env.Parcel.State == "" {
		return nil, agency.ProtocolError(agencyName, "reply has no parcel state", resp.Body, nil)
	}
	return env.Parcel, nil
}

// GetAccount returns the account owning apiKey.
func (c *HTTPAPIClient) GetAccount(ctx context.Context, apiKey string) (*Account, error) {
	env, resp, err := c.do(ctx, "get_account", true, http.MethodGet, "/api/v1/account", apiKey, nil)
	if err != nil {
		return nil, err
	}
	if env.Account == nil {
		return nil, agency.ProtocolError(agencyName, "reply has no account", resp.Body, nil)
	}
	return env.Account, nil
}

// do performs a request and decodes the reply envelope. The raw reply is
// returned beside the envelope for error reporting.
func (c *HTTPAPIClient) do(ctx context.Context, op string, idempotent bool, method, path, apiKey string, body interface{}) (*envelope, *agency.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, nil, agency.NewError(agencyName, agency.KindProtocol, "BUILD_ERROR", "failed to marshal request").WithCause(err)
		}
	}

	resp, err := c.transport.Do(ctx, agency.Call{
		Operation:  op,
		Idempotent: idempotent,
		Build: func(ctx context.Context) (*http.Request, error) {
			var bodyReader io.Reader
			if payload != nil {
				bodyReader = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			req.Header.Set("Authorization", "Token "+apiKey)
			req.Header.Set("User-Agent", "tournevent-delivery/1.0")
			return req, nil
		},
	})
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, nil, &APIError{Code: "UNAUTHORIZED", Message: "invalid API key"}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, nil, c.parseError(resp)
		}
		return nil, nil, agency.ProtocolError(agencyName, "failed to decode response", resp.Body, err)
	}

	if env.Status != 1 || resp.StatusCode >= http.StatusBadRequest {
		return nil, nil, c.parseError(resp)
	}
	return &env, resp, nil
}

// parseError extracts error information from a failed reply.
func (c *HTTPAPIClient) parseError(resp *agency.Response) error {
	var apiErr APIError
	if err := json.Unmarshal(resp.Body, &apiErr); err == nil && apiErr.Message != "" {
		if apiErr.Code == "" {
			apiErr.Code = errorCode(resp.StatusCode)
		}
		return &apiErr
	}

	return &APIError{
		Code:    errorCode(resp.StatusCode),
		Message: strings.TrimSpace(string(resp.Body)),
	}
}

// errorCode names a rejection. A 2xx reply with status 0 is a refusal of
// the request itself.
func errorCode(statusCode int) string {
	if statusCode < http.StatusBadRequest {
		return codeRejected
	}
	return fmt.Sprintf("HTTP_%d", statusCode)
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
