package cnwserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20 // 1 MB
)

// ValidateRequest is the request body for the /v1/validate endpoint.
type ValidateRequest struct {
	LicenseKey string `json:"license_key"`
	MetaKey    string `json:"meta_key,omitempty"`
	Flag       string `json:"flag,omitempty"`
}

// Client talks to the license server on behalf of a plugin or theme updater.
type Client struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration // applied after all options
	userAgent  string
	metaKey    string
}

// NewClient creates a new client for the license server.
// serverURL is the base URL (e.g. "https://license.example.com").
// apiKey is sent as X-API-Key.
func NewClient(serverURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		timeout:   defaultTimeout,
		userAgent: "cnw-license-server-go/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	c.httpClient.Timeout = c.timeout
	return c
}

// Validate sends a plain validation request.
func (c *Client) Validate(ctx context.Context, licenseKey string) (*Response, error) {
	return c.do(ctx, ValidateRequest{LicenseKey: licenseKey})
}

// CheckUpdate asks for plugin or theme update details. flag must be
// FlagUpdatePlugins or FlagUpdateThemes. On success the package URL is in
// resp.ProductMeta.Package().
func (c *Client) CheckUpdate(ctx context.Context, licenseKey, flag string) (*Response, error) {
	if flag != FlagUpdatePlugins && flag != FlagUpdateThemes {
		return nil, fmt.Errorf("unsupported update flag %q", flag)
	}
	return c.do(ctx, ValidateRequest{LicenseKey: licenseKey, Flag: flag})
}

// ScheduledCheck sends the periodic (cron) license check.
func (c *Client) ScheduledCheck(ctx context.Context, licenseKey string) (*Response, error) {
	return c.do(ctx, ValidateRequest{LicenseKey: licenseKey, Flag: FlagCron})
}

func (c *Client) do(ctx context.Context, req ValidateRequest) (*Response, error) {
	if req.MetaKey == "" {
		req.MetaKey = c.metaKey
	}
	var resp Response
	if err := c.doJSON(ctx, "/v1/validate", req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, mapServerError(&ServerError{StatusCode: http.StatusOK, Code: resp.Code, Message: resp.Error})
	}
	return &resp, nil
}

// doJSON performs a POST request with JSON body and decodes the response into dest.
// On non-2xx responses, it parses the failure body and returns a mapped error.
func (c *Client) doJSON(ctx context.Context, path string, body, dest interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return c.parseError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseError parses the failure response format: {"error": "...", "code": 402}
func (c *Client) parseError(statusCode int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
		Code  Code   `json:"code"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return &ServerError{
			StatusCode: statusCode,
			Message:    string(body),
		}
	}
	code := errResp.Code
	if code == 0 {
		code = Code(statusCode)
	}
	return mapServerError(&ServerError{
		StatusCode: statusCode,
		Code:       code,
		Message:    errResp.Error,
	})
}
