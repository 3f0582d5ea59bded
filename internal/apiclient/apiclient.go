package apiclient

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
)

// ErrNotFound is matched by an *APIError that reports a missing resource.
var ErrNotFound = errors.New("not found")

// Config holds the API client configuration.
type Config struct {
	BaseURL       string        `env:"BASE_URL"`       // default: "https://exp.host/--/api/v2"
	Timeout       time.Duration `env:"TIMEOUT"`        // default: 30s
	SessionSecret string        `env:"SESSION_SECRET"` // optional
}

func (c *Config) baseURL() string {
	u := strings.TrimSpace(c.BaseURL)
	if u == "" {
		u = "https://exp.host/--/api/v2"
	}
	return strings.TrimRight(u, "/")
}

func (c *Config) timeout() time.Duration {
	t := c.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return t
}

// Client is a JSON client for the build service API.
// It is safe for concurrent use.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	sessionSecret string
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client from cfg.
func New(cfg *Config, opts ...Option) (*Client, error) {
	base := cfg.baseURL()
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("apiclient: invalid base url: %w", err)
	}
	c := &Client{
		baseURL:       base,
		httpClient:    &http.Client{Timeout: cfg.timeout()},
		sessionSecret: cfg.SessionSecret,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is an error response of the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
}

// Is reports whether target is ErrNotFound and e describes a missing resource.
// The API signals that either with status 404 or with a code like EXPERIENCE_NOT_FOUND.
func (e *APIError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	return e.Status == http.StatusNotFound || strings.HasSuffix(e.Code, "_NOT_FOUND")
}

// Get requests resource with query and decodes the response data into v.
func (c *Client) Get(ctx context.Context, resource string, query url.Values, v any) error {
	if err := c.do(ctx, http.MethodGet, resource, query, nil, v); err != nil {
		return fmt.Errorf("apiclient.Client: GET %s: %w", resource, err)
	}
	return nil
}

// Post sends body to resource and decodes the response data into v.
func (c *Client) Post(ctx context.Context, resource string, body any, v any) error {
	if err := c.do(ctx, http.MethodPost, resource, nil, body, v); err != nil {
		return fmt.Errorf("apiclient.Client: POST %s: %w", resource, err)
	}
	return nil
}

// envelope is the shape of every API response.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) do(ctx context.Context, method, resource string, query url.Values, body any, v any) error {
	endpoint := c.baseURL + "/" + strings.TrimLeft(resource, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if secret := strings.TrimSpace(c.sessionSecret); secret != "" {
		req.Header.Set("Expo-Session", secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(bytes.TrimSpace(data)) > 0 {
		if err = json.Unmarshal(data, &env); err != nil && resp.StatusCode < http.StatusBadRequest {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if len(env.Errors) > 0 {
		return &APIError{Status: resp.StatusCode, Code: env.Errors[0].Code, Message: env.Errors[0].Message}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if v == nil || len(env.Data) == 0 {
		return nil
	}
	if err = json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
