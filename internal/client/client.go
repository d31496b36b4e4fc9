// Package client talks to a querygate server: queries with retry and
// exponential backoff, and a periodic health poll whose results are fanned
// out to connectivity listeners.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/querygate/internal/health"
	"github.com/TimurManjosov/querygate/internal/query"
)

const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = time.Second
	DefaultMaxDelay     = 10 * time.Second
	DefaultPollInterval = 30 * time.Second

	maxErrorBodySize = 64 << 10
)

// Client is an HTTP client for the querygate API. The zero value is not usable;
// construct with New. Construction does not probe the server: health polling
// begins with Start and ends with Close.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       zerolog.Logger
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	pollInterval time.Duration
	onRetry      func(attempt int, err error, wait time.Duration)

	listeners registry

	stateMu sync.RWMutex
	state   State

	ctx         context.Context
	cancel      context.CancelFunc
	startOnce   sync.Once
	started     bool
	closed      atomic.Bool
	dispatching atomic.Bool // poller is running listeners
	done        chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for retries and listener failures.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetryPolicy overrides the number of retries after the first attempt and
// the backoff bounds.
func WithRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// WithPollInterval sets the health poll period.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithRetryHook is called before each backoff wait.
func WithRetryHook(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(c *Client) { c.onRetry = fn }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       zerolog.Nop(),
		maxRetries:   DefaultMaxRetries,
		baseDelay:    DefaultBaseDelay,
		maxDelay:     DefaultMaxDelay,
		pollInterval: DefaultPollInterval,
		listeners:    registry{listeners: make(map[uint64]Listener)},
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query executes text with positional params, retrying failed attempts with
// exponential backoff. Client errors (4xx) are not retried. After the last
// attempt the error is a *ClientError.
func (c *Client) Query(ctx context.Context, text string, params ...any) (*query.Result, error) {
	body, err := json.Marshal(query.Request{Text: text, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return retry(ctx, c.retryPolicy(), func(ctx context.Context) (*query.Result, error) {
		var res query.Result
		if err := c.do(ctx, http.MethodPost, "/api/query", body, &res, http.StatusOK); err != nil {
			return nil, err
		}
		return &res, nil
	})
}

// Health fetches the server health report once. A 500 carrying a health body
// is a valid (unhealthy) report, not an error.
func (c *Client) Health(ctx context.Context) (*health.Status, error) {
	var st health.Status
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &st, http.StatusOK, http.StatusInternalServerError); err != nil {
		return nil, err
	}
	return &st, nil
}

// do sends one request and decodes the body into out when the status is one of ok.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any, ok ...int) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	for _, code := range ok {
		if resp.StatusCode == code {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}
	}
	return newAPIError(resp)
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying could succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func newAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var body struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		apiErr.Message = body.Message
		apiErr.Code = body.Code
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func isPermanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Temporary()
}
