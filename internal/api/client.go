// Package api provides the JSON-over-HTTPS transport shared by all remote calls.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// ErrNetwork wraps transport-level failures (no response from the server).
// Callers present these as a generic network error and never retry automatically.
var ErrNetwork = errors.New("network error")

// Error is a non-2xx response carrying the server-provided message envelope.
type Error struct {
	StatusCode int
	Message    string
}

// Error returns the server message, or a status-based fallback when the body had none.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed status=%d", e.StatusCode)
}

// messageEnvelope is the error body shape used by every endpoint: {"message": "..."}.
type messageEnvelope struct {
	Message string `json:"message"`
}

// Client issues JSON requests against a fixed base URL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a Client for the given base URL. timeout <= 0 uses the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// URL joins path onto the base URL. path may already be absolute.
func (c *Client) URL(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	return c.BaseURL + "/" + strings.TrimLeft(path, "/")
}

// NewRequest builds a JSON request for path. body may be nil.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// PostJSON posts body to path and decodes a 2xx response into out (ignored when out is nil).
// Non-2xx responses become *Error with the server message; transport failures wrap ErrNetwork.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	req, err := c.NewRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	return DecodeResponse(resp, out)
}

// DecodeResponse decodes resp into out on 2xx, or returns *Error with the
// server message on any other status. out may be nil.
func DecodeResponse(resp *http.Response, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env messageEnvelope
		_ = json.Unmarshal(raw, &env)
		return &Error{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
