// Package farmdata is a client for the US Farm Data request API: token
// exchange, criteria upload, status polling and result retrieval.
package farmdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.usfarmdataservice.com"

// Client defines the Farm Data API operations. Every call except Token is
// authorized with the bearer token passed by the caller.
type Client interface {
	Token(ctx context.Context, username, password string) (*TokenResponse, error)
	UploadCriteria(ctx context.Context, token string, req SubmissionRequest) (*UploadResponse, error)
	GetStatus(ctx context.Context, token, requestID string) (*StatusRecord, error)
	GetResponse(ctx context.Context, token, requestID string) (json.RawMessage, error)
}

// TokenResponse is the response from POST /token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

// SubmissionRequest identifies the customer and GLS code a criteria upload
// is filed under.
type SubmissionRequest struct {
	CustomerID string
	GLS        string
	Criteria   Criteria
}

// UploadResponse is the response from POST /upload_criteria.
type UploadResponse struct {
	RequestID string `json:"request_id"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
	// Detail is the server-provided "detail" field, when the body carries one.
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("farmdata: HTTP %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("farmdata: HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status code is worth retrying.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Unauthorized reports whether the server rejected the credentials or token.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests to rps per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a new Farm Data API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   DefaultBaseURL,
		userAgent: "farmdata-cli",
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Token(ctx context.Context, username, password string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := c.newRequest(ctx, http.MethodPost, "/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "farmdata: request token")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp TokenResponse
	if err := c.do(req, &resp); err != nil {
		return nil, eris.Wrap(err, "farmdata: request token")
	}
	if resp.AccessToken == "" {
		return nil, eris.New("farmdata: request token: response has no access_token")
	}
	return &resp, nil
}

func (c *httpClient) UploadCriteria(ctx context.Context, token string, sub SubmissionRequest) (*UploadResponse, error) {
	buf, err := json.Marshal(sub.Criteria)
	if err != nil {
		return nil, eris.Wrap(err, "farmdata: marshal criteria")
	}

	q := url.Values{}
	q.Set("customerid", sub.CustomerID)
	q.Set("GLS", sub.GLS)

	req, err := c.newRequest(ctx, http.MethodPost, "/upload_criteria?"+q.Encode(), bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "farmdata: upload criteria")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var resp UploadResponse
	if err := c.do(req, &resp); err != nil {
		return nil, eris.Wrap(err, "farmdata: upload criteria")
	}
	if resp.RequestID == "" {
		return nil, eris.New("farmdata: upload criteria: response has no request_id")
	}
	return &resp, nil
}

func (c *httpClient) GetStatus(ctx context.Context, token, requestID string) (*StatusRecord, error) {
	var resp StatusRecord
	if err := c.get(ctx, token, "/get_status/"+url.PathEscape(requestID), &resp); err != nil {
		return nil, eris.Wrapf(err, "farmdata: get status %s", requestID)
	}
	return &resp, nil
}

func (c *httpClient) GetResponse(ctx context.Context, token, requestID string) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.get(ctx, token, "/get_response/"+url.PathEscape(requestID), &resp); err != nil {
		return nil, eris.Wrapf(err, "farmdata: get response %s", requestID)
	}
	return resp, nil
}

func (c *httpClient) get(ctx context.Context, token, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return c.do(req, out)
}

func (c *httpClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func (c *httpClient) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
			Detail:     parseDetail(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}

// parseDetail extracts the "detail" field of an error body. FastAPI reports
// validation failures as a list of {loc, msg} objects; those messages are
// joined.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}

	if string(envelope.Detail) == "null" {
		return ""
	}
	return string(envelope.Detail)
}
