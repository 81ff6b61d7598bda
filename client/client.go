// Package client is a thin wrapper around the governance platform's REST
// API: bearer-token auth, bounded retries, and typed endpoint methods.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const maxAttempts = 5

var (
	// ErrDuplicateName indicates a create collided with an existing policy name.
	ErrDuplicateName = errors.New("policy name already exists")
)

// APIError is a non-2xx response that is not retried.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to one platform instance. It is safe to build once per run
// and use for every call; the auth token is acquired lazily and refreshed
// on 401.
type Client struct {
	baseURL string
	http    *http.Client
	auth    AuthScheme
	token   string
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the platform at baseURL using the auth scheme.
func New(baseURL string, auth AuthScheme, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		auth:    auth,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) ensureToken(ctx context.Context) error {
	if c.token != "" || c.auth == nil {
		return nil
	}
	token, err := c.auth.Authenticate(ctx, c.http, c.baseURL)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	c.token = token
	return nil
}

// reauthenticate drops the cached token and acquires a fresh one.
func (c *Client) reauthenticate(ctx context.Context) error {
	c.token = ""
	return c.ensureToken(ctx)
}

// response is one decoded HTTP exchange.
type response struct {
	status int
	body   []byte
}

// do sends one JSON request with retries. Server errors (500/502/503/504)
// and transport failures retry with exponential backoff; a 401 triggers one
// re-authentication before the retry. Other non-2xx statuses fail
// immediately.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	operation := func() (*response, error) {
		resp, err := c.attempt(ctx, method, path, query, payload)
		if err != nil {
			return nil, err // transport error, retry
		}
		switch {
		case resp.status == http.StatusUnauthorized:
			if err := c.reauthenticate(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, fmt.Errorf("unauthorized, retrying with fresh token")
		case resp.status == http.StatusInternalServerError && c.token == "":
			// Some endpoints report a missing bearer token as 500 rather
			// than 401.
			if err := c.ensureToken(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, fmt.Errorf("server error without token, retrying authenticated")
		case retryableStatus(resp.status):
			return nil, fmt.Errorf("server error: status %d", resp.status)
		case resp.status >= 400:
			return nil, backoff.Permanent(&APIError{StatusCode: resp.status, Body: string(resp.body)})
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, payload []byte) (*response, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, backoff.Permanent(err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Trace().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("api call")
	return &response{status: resp.StatusCode, body: body}, nil
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("GET %s: failed to decode response: %w", path, err)
	}
	return nil
}
