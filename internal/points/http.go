package points

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

var _ Client = (*HTTPClient)(nil)

// Wire paths served by the remote points service.
const (
	PathReserve = "/v1/points/reserve"
	PathRefund  = "/v1/points/refund"
	PathCharges = "/v1/points/charges"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeUnavailable       = "UNAVAILABLE"
	CodeNotFound          = "NOT_FOUND"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// HTTPClient talks to a remote points service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}
	return newHTTPClient(baseURL, httpClient), nil
}

func newHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func createCustomHttpClient() (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 10 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   5 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		MaxIdleConnsPerHost:   20,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	// Per-call deadlines come from the caller's context.
	return &http.Client{Transport: tr}, nil
}

func (c *HTTPClient) Reserve(ctx context.Context, req ReserveRequest) (*Receipt, error) {
	return c.post(ctx, PathReserve, req)
}

func (c *HTTPClient) Refund(ctx context.Context, req RefundRequest) (*Receipt, error) {
	return c.post(ctx, PathRefund, req)
}

func (c *HTTPClient) FindCharge(ctx context.Context, reason, correlationId string) (*Receipt, error) {
	query := url.Values{}
	query.Set("reason", reason)
	query.Set("correlation_id", correlationId)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathCharges+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return c.do(httpReq)
}

func (c *HTTPClient) post(ctx context.Context, path string, body any) (*Receipt, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to encode request: %w", ErrInvalidRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq)
}

// do sends the request and maps the response. Transport failures and
// unexpected statuses are ErrUnavailable: the outcome is unknown and the
// caller retries with the same correlation id.
func (c *HTTPClient) do(httpReq *http.Request) (*Receipt, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode == http.StatusOK {
		var result Receipt
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("%w: unable to decode receipt: %w", ErrUnavailable, err)
		}
		return &result, nil
	}

	var errResp ErrorResponse
	_ = json.Unmarshal(body, &errResp)

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || errResp.Code == CodeInsufficientFunds:
		return nil, fmt.Errorf("%w: %s", ErrInsufficientFunds, errResp.Error)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, errResp.Error)
	case resp.StatusCode == http.StatusNotFound && errResp.Code == CodeNotFound:
		return nil, fmt.Errorf("%w: %s", ErrChargeNotFound, errResp.Error)
	}
	return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, errResp.Error)
}
