package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/egregoros/e2eedm-go/internal/apierrors"
	"github.com/egregoros/e2eedm-go/internal/metrics"
)

const (
	// DefaultTimeout is the HTTP client timeout when none is configured.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the retry budget for transient failures.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the base backoff delay.
	DefaultRetryDelay = time.Second

	// CSRFHeader carries the session CSRF token on mutating requests.
	CSRFHeader = "x-csrf-token"

	maxErrorBody = 64 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// CSRFToken is sent in the x-csrf-token header when set.
	CSRFToken  string
	HTTPClient *http.Client
	Timeout    time.Duration
	// MaxRetries of zero selects DefaultMaxRetries; negative disables retries.
	MaxRetries int
	RetryDelay time.Duration
	// RetryOn overrides the retryable status codes.
	RetryOn []int
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Client is the HTTP API client.
type Client struct {
	baseURL    string
	token      string
	csrfToken  string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	retry      *RetryConfig
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
}

// NewClient creates a client from cfg. Zero values take defaults.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, apierrors.ErrMissingBaseURL
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		csrfToken:  cfg.CSRFToken,
		httpClient: cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
	}

	if c.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	// Zero means default; negative disables retries.
	if c.maxRetries == 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if c.log == nil {
		c.log = logrus.New()
	}

	retryOn := cfg.RetryOn
	if retryOn == nil {
		retryOn = DefaultRetryOn
	}
	c.retry = DefaultRetryConfig()
	c.retry.MaxRetries = c.maxRetries
	c.retry.BaseDelay = c.retryDelay
	c.retry.RetryableOn = retryOnCodes(retryOn)

	return c, nil
}

// Option configures the API client.
type Option func(*Config)

// WithBaseURL sets the base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithRetries sets the number of retries. Zero disables retries.
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries == 0 {
			retries = -1
		}
		c.MaxRetries = retries
	}
}

// WithRetryDelay sets the base backoff delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) { c.RetryDelay = d }
}

// WithRetryOn sets the retryable status codes.
func WithRetryOn(codes []int) Option {
	return func(c *Config) { c.RetryOn = codes }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithCSRFToken sets the CSRF token header value.
func WithCSRFToken(token string) Option {
	return func(c *Config) { c.CSRFToken = token }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// New creates a client with a bearer token and functional options.
// The token may be empty when the transport authenticates another way.
func New(token string, opts ...Option) (*Client, error) {
	cfg := Config{Token: token}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewClient(cfg)
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// SetHTTPClient sets a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) isRetryable(statusCode int) bool {
	return c.retry.RetryableOn(statusCode)
}

// Do performs a JSON request, retrying transient failures with backoff.
// body and result may be nil.
func (c *Client) Do(ctx context.Context, method, path string, body, result any) error {
	return c.do(ctx, method, path, body, result, c.maxRetries)
}

// DoOnce performs a single attempt with no retries. Non-idempotent writes
// use it so a response lost in transit is never replayed.
func (c *Client) DoOnce(ctx context.Context, method, path string, body, result any) error {
	return c.do(ctx, method, path, body, result, 0)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any, maxRetries int) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	url := c.baseURL + path
	log := c.log.WithFields(logrus.Fields{"method": method, "path": path})
	start := time.Now()

	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, method, url, payload)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				c.metrics.ObserveRequest(path, "cancelled", time.Since(start))
				return ctxErr
			}
			if attempt < maxRetries {
				log.WithField("attempt", attempt+1).WithError(err).Debug("request failed, retrying")
				if werr := c.retry.Wait(ctx, attempt); werr != nil {
					return werr
				}
				continue
			}
			c.metrics.ObserveRequest(path, "error", time.Since(start))
			return &apierrors.NetworkError{Err: err, URL: url, Attempt: attempt + 1}
		}

		if resp.StatusCode >= 400 && attempt < maxRetries && c.retry.ShouldRetry(attempt, resp.StatusCode) {
			drain(resp)
			log.WithFields(logrus.Fields{"attempt": attempt + 1, "status": resp.StatusCode}).Debug("retrying request")
			if werr := c.retry.WaitResponse(ctx, attempt, resp); werr != nil {
				return werr
			}
			continue
		}

		c.metrics.ObserveRequest(path, strconv.Itoa(resp.StatusCode), time.Since(start))
		return c.handle(resp, result)
	}
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrfToken != "" {
		req.Header.Set(CSRFHeader, c.csrfToken)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

func (c *Client) handle(resp *http.Response, result any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && (errResp.Error != "" || errResp.Message != "") {
		return &apierrors.APIError{
			StatusCode: resp.StatusCode,
			Code:       errResp.Error,
			Message:    errResp.Message,
			RequestID:  errResp.RequestID,
		}
	}

	return &apierrors.APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
