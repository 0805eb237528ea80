// Package apiclient is the single interception point for all outbound API
// calls. It injects auth headers, classifies failures with a deterministic
// precedence, retries network errors with linear backoff, and publishes
// session/server/toast events so presentation code never touches transport
// errors directly.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/doctorondial/patientcore/internal/credentials"
	"github.com/doctorondial/patientcore/internal/eventbus"
	"github.com/doctorondial/patientcore/pkg/logger"
)

const (
	// DefaultMaxRetries is the retry ceiling for network failures.
	DefaultMaxRetries = 3

	// DefaultRetryBaseDelay is the base of the linear backoff: retry n
	// waits n times this duration.
	DefaultRetryBaseDelay = 1 * time.Second

	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 8 << 20
)

// Config configures a Client. BaseURL, Credentials, and Bus are required.
type Config struct {
	BaseURL     string
	Credentials *credentials.Store
	Bus         *eventbus.Bus

	// HTTPClient overrides the underlying transport. Optional.
	HTTPClient *http.Client

	// MaxRetries and RetryBaseDelay tune the network-failure retry
	// policy. Zero values take the defaults.
	MaxRetries     int
	RetryBaseDelay time.Duration

	Logger *logger.Logger

	// Registerer receives the client's Prometheus collectors. Optional.
	Registerer prometheus.Registerer
}

// CallOptions are per-call flags. The zero value means global error
// handling with no forced toast.
type CallOptions struct {
	// SkipGlobalErrorHandling mutes toasts for network and business
	// errors. Auth and 500-class handling is unconditional and cannot
	// be suppressed.
	SkipGlobalErrorHandling bool

	// ShowToastOnError forces a toast for business errors even when
	// global handling would otherwise skip them.
	ShowToastOnError bool
}

// Response is a successful (or synthesized-successful) API response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the response body into target.
func (r *Response) Decode(target interface{}) error {
	if err := json.Unmarshal(r.Body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// envelope is the backend's response wrapper, parsed best-effort during
// classification.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client executes JSON requests against the configured base endpoint.
type Client struct {
	baseURL        string
	http           *http.Client
	creds          *credentials.Store
	bus            *eventbus.Bus
	log            *logger.Logger
	maxRetries     int
	retryBaseDelay time.Duration
	prom           *promMetrics

	totalRequests   int64
	successRequests int64
	failedRequests  int64
	retriedRequests int64
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("apiclient: BaseURL is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("apiclient: Credentials is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("apiclient: Bus is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = DefaultRetryBaseDelay
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("apiclient")
	}

	return &Client{
		baseURL:        cfg.BaseURL,
		http:           httpClient,
		creds:          cfg.Credentials,
		bus:            cfg.Bus,
		log:            log,
		maxRetries:     maxRetries,
		retryBaseDelay: baseDelay,
		prom:           newPromMetrics(cfg.Registerer),
	}, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, opts *CallOptions) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}, opts *CallOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts)
}

// Do executes one logical request. On failure the returned error is always
// an *APIError; side effects (credential clearing, event publication)
// happen here exactly once regardless of call site.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}, opts *CallOptions) (*Response, error) {
	if opts == nil {
		opts = &CallOptions{}
	}
	atomic.AddInt64(&c.totalRequests, 1)

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, c.fail(&APIError{Message: msgDefaultError, Status: 0})
		}
		payload = data
	}

	url := c.baseURL + path
	requestID := uuid.NewString()

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			// Linear backoff off the base delay: retry n waits n×base.
			select {
			case <-ctx.Done():
				return nil, c.fail(&APIError{Message: msgNetworkError, Status: 0, RetryCount: attempt - 1, CanRetry: false})
			case <-time.After(c.retryBaseDelay * time.Duration(attempt)):
			}
			atomic.AddInt64(&c.retriedRequests, 1)
			c.prom.retries.Inc()
		}

		req, err := c.newRequest(ctx, method, url, payload, requestID, attempt)
		if err != nil {
			return nil, c.fail(&APIError{Message: msgDefaultError, Status: 0})
		}

		resp, err = c.http.Do(req)
		if err == nil {
			break
		}

		// No response at all: a network failure. Retry until the
		// ceiling, then toast (unless suppressed) and reject.
		c.log.WithError(err).
			WithField("url", url).
			WithField("attempt", attempt).
			Warn("network failure")

		if ctx.Err() != nil || attempt >= c.maxRetries {
			if !opts.SkipGlobalErrorHandling {
				c.bus.Publish(eventbus.ToastError(msgNetworkError, url))
			}
			return nil, c.fail(&APIError{
				Message:    msgNetworkError,
				Status:     0,
				RetryCount: attempt,
				CanRetry:   false,
			})
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()
	if err != nil {
		return nil, c.fail(&APIError{Message: msgNetworkError, Status: 0})
	}

	if resp.StatusCode < 400 {
		atomic.AddInt64(&c.successRequests, 1)
		c.prom.observe("success")
		return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
	}

	return c.handleErrorResponse(resp, data, url, opts)
}

// handleErrorResponse applies the classification precedence to an error
// response and executes its side effects.
func (c *Client) handleErrorResponse(resp *http.Response, data []byte, url string, opts *CallOptions) (*Response, error) {
	var env envelope
	_ = json.Unmarshal(data, &env) // best-effort; a non-JSON body classifies on status alone

	// The backend overloads 404 for valid "not found but business-success"
	// results; synthesize a success so callers never see it as an error.
	if resp.StatusCode == http.StatusNotFound && env.Success {
		atomic.AddInt64(&c.successRequests, 1)
		c.prom.observe("success")
		return &Response{Status: http.StatusOK, Header: resp.Header, Body: data}, nil
	}

	class := classifyResponse(resp.StatusCode, env)
	c.log.WithField("url", url).
		WithField("status", class.Status).
		WithField("class", class.Kind.String()).
		Warn(class.Message)

	switch class.Kind {
	case KindAuth:
		// Token errors are always handled globally; the per-call
		// opt-out does not apply.
		if err := c.creds.ClearAll(); err != nil {
			c.log.WithError(err).Warn("failed to clear credentials")
		}
		c.bus.Publish(eventbus.SessionInvalidated(class.Message, class.Status, true))
		return nil, c.fail(&APIError{Message: class.Message, Status: class.Status, IsAuthError: true})

	case KindServerUnavailable:
		// Server maintenance: credentials stay intact.
		c.bus.Publish(eventbus.ServerDown())
		return nil, c.fail(&APIError{Message: class.Message, Status: class.Status})

	case KindServer:
		c.bus.Publish(eventbus.SessionInvalidated(class.Message, class.Status, true))
		if !opts.SkipGlobalErrorHandling {
			c.bus.Publish(eventbus.ToastError(class.Message, url))
		}
		return nil, c.fail(&APIError{Message: class.Message, Status: class.Status})

	default: // KindBusiness
		if opts.ShowToastOnError || !opts.SkipGlobalErrorHandling {
			c.bus.Publish(eventbus.ToastError(class.Message, url))
		}
		return nil, c.fail(&APIError{Message: class.Message, Status: class.Status})
	}
}

// newRequest builds one attempt's request. The token is re-read from the
// credential store on every attempt: state can change between an attempt
// and its retry (a logout mid-retry, for example) and must be observed.
func (c *Client) newRequest(ctx context.Context, method, url string, payload []byte, requestID string, attempt int) (*http.Request, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Retry-Count", strconv.Itoa(attempt))

	if token, ok := c.creds.AccessToken(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

func (c *Client) fail(apiErr *APIError) error {
	atomic.AddInt64(&c.failedRequests, 1)
	c.prom.observe("failure")
	return apiErr
}

// Metrics returns cumulative request counters.
func (c *Client) Metrics() map[string]int64 {
	return map[string]int64{
		"total_requests":   atomic.LoadInt64(&c.totalRequests),
		"success_requests": atomic.LoadInt64(&c.successRequests),
		"failed_requests":  atomic.LoadInt64(&c.failedRequests),
		"retried_requests": atomic.LoadInt64(&c.retriedRequests),
	}
}
