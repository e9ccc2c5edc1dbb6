package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// Runs copy blobs, so the default is far above a plain API call.
	defaultHTTPTimeout = 10 * time.Minute
	httpTimeoutEnvKey  = "TREESYNC_HTTP_TIMEOUT"
	apiTokenEnvKey     = "TREESYNC_API_TOKEN"
)

// Client is a simple HTTP client for the treesync API.
type Client struct {
	baseURL   string
	http      *http.Client
	authToken string
}

// NewClient creates a new API client. The bearer token is read from
// TREESYNC_API_TOKEN.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: httpTimeoutFromEnv()},
		authToken: strings.TrimSpace(os.Getenv(apiTokenEnvKey)),
	}
}

// Ping checks whether the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Migrate runs a migration on the server. On failure the partial report, if
// the server sent one, is available through *APIError.
func (c *Client) Migrate(ctx context.Context, req ScopeRequest) (MigrateResponse, error) {
	var resp MigrateResponse
	err := c.do(ctx, http.MethodPost, "/v1/migrate", req, &resp)
	return resp, err
}

// Verify runs verify-and-repair on the server.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	var resp VerifyResponse
	err := c.do(ctx, http.MethodPost, "/v1/verify", req, &resp)
	return resp, err
}

// Manifest resolves a scope on the server without transferring anything.
func (c *Client) Manifest(ctx context.Context, req ScopeRequest) (ManifestResponse, error) {
	var resp ManifestResponse
	err := c.do(ctx, http.MethodPost, "/v1/manifest", req, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Message != "" {
		return &APIError{
			Status:    resp.StatusCode,
			Code:      errResp.Code,
			ErrorCode: errResp.ErrorCode,
			Message:   errResp.Message,
			Report:    errResp.Report,
		}
	}
	return &APIError{Status: resp.StatusCode, Message: "api error: " + resp.Status}
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.authToken == "" || req == nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
}

func httpTimeoutFromEnv() time.Duration {
	value := strings.TrimSpace(os.Getenv(httpTimeoutEnvKey))
	if value == "" {
		return defaultHTTPTimeout
	}

	if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultHTTPTimeout
}
