// Package api is the REST client for the interview backend.
//
// Every call is bearer-authenticated, traced, timed into
// [observe.Metrics.APIRequestDuration] and guarded by a circuit breaker that
// only counts transport failures and 5xx answers. Transcription tokens are
// retried with exponential backoff, reports are polled while the server is
// still generating them, and the interview history is cached for a short
// TTL.
//
// Example usage:
//
//	c, err := api.New("https://api.example.com", token)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	iv, err := c.StartInterview(ctx, api.StartRequest{Role: "backend engineer"})
package api

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
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/mockview/internal/observe"
	"github.com/MrWong99/mockview/internal/resilience"
)

var (
	// ErrReportPending is returned by Report while the server is still
	// generating the report.
	ErrReportPending = errors.New("api: report is still being generated")

	// ErrUnauthorized matches 401 and 403 answers.
	ErrUnauthorized = errors.New("api: unauthorized")

	// ErrNotFound matches 404 answers.
	ErrNotFound = errors.New("api: not found")
)

// Defaults applied by [New].
const (
	DefaultTimeout      = 15 * time.Second
	DefaultCacheTTL     = 30 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4096

// StatusError is a non-2xx answer.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("api: %s: status %d: %s", e.Op, e.Code, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	}
	return false
}

// Temporary reports whether retrying may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client talks to the interview backend. It is safe for concurrent use.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	breaker      *resilience.CircuitBreaker
	metrics      *observe.Metrics
	retry        resilience.RetryConfig
	cacheTTL     time.Duration
	pollInterval time.Duration
	now          func() time.Time

	mu     sync.Mutex
	list   []InterviewSummary
	listAt time.Time
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithCacheTTL sets how long ListInterviews results are reused.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) { c.cacheTTL = d }
}

// WithPollInterval sets the delay between report polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithRetry configures transcription-token retries.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithBreaker replaces the circuit breaker configuration.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Client) {
		if cfg.IsFailure == nil {
			cfg.IsFailure = isBackendFailure
		}
		c.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// WithClock overrides time.Now for cache expiry and token conversion.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New returns a Client for baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("api: base URL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("api: base URL: %w", err)
	}
	c := &Client{
		baseURL:      baseURL,
		token:        token,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		cacheTTL:     DefaultCacheTTL,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		retry: resilience.RetryConfig{
			Attempts:  3,
			Base:      500 * time.Millisecond,
			Retryable: retryable,
		},
	}
	c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:      "backend",
		IsFailure: isBackendFailure,
	})
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Now returns the client's clock reading.
func (c *Client) Now() time.Time { return c.now() }

// isBackendFailure counts transport errors and 5xx answers against the
// breaker; client errors and cancellations are the caller's problem.
func isBackendFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func retryable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// StartInterview creates a new interview.
func (c *Client) StartInterview(ctx context.Context, req StartRequest) (StartResponse, error) {
	var out StartResponse
	if _, err := c.do(ctx, "start_interview", http.MethodPost, "/api/interviews", req, &out); err != nil {
		return StartResponse{}, err
	}
	if out.InterviewID == "" {
		return StartResponse{}, errors.New("api: start_interview: response without interview_id")
	}
	c.invalidateList()
	return out, nil
}

// InterviewStatus returns the server-side state of id.
func (c *Client) InterviewStatus(ctx context.Context, id string) (Status, error) {
	var out Status
	if _, err := c.do(ctx, "interview_status", http.MethodGet, "/api/interviews/"+url.PathEscape(id), nil, &out); err != nil {
		return Status{}, err
	}
	return out, nil
}

// EndInterview ends id early.
func (c *Client) EndInterview(ctx context.Context, id string) error {
	_, err := c.do(ctx, "end_interview", http.MethodPost, "/api/interviews/"+url.PathEscape(id)+"/end", nil, nil)
	if err == nil {
		c.invalidateList()
	}
	return err
}

// TranscriptionToken fetches a short-lived speech credential, retrying
// transient failures.
func (c *Client) TranscriptionToken(ctx context.Context) (TranscriptionToken, error) {
	var out TranscriptionToken
	err := resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		_, err := c.do(ctx, "transcription_token", http.MethodPost, "/api/transcription/token", nil, &out)
		return err
	})
	if err != nil {
		return TranscriptionToken{}, err
	}
	if out.Token == "" {
		return TranscriptionToken{}, errors.New("api: transcription_token: empty token")
	}
	return out, nil
}

// Report fetches the report for id once. While the server is still
// generating it the error is [ErrReportPending].
func (c *Client) Report(ctx context.Context, id string) (Report, error) {
	var out Report
	status, err := c.do(ctx, "report", http.MethodGet, "/api/interviews/"+url.PathEscape(id)+"/report", nil, &out)
	if err != nil {
		return Report{}, err
	}
	if status == http.StatusAccepted || out.Status == "generating" || out.Status == "pending" {
		return Report{}, ErrReportPending
	}
	return out, nil
}

// WaitReport polls Report until the report is ready or ctx is done.
func (c *Client) WaitReport(ctx context.Context, id string) (Report, error) {
	t := time.NewTicker(c.pollInterval)
	defer t.Stop()
	pending := false
	for {
		r, err := c.Report(ctx, id)
		if pending && err != nil && ctx.Err() != nil {
			return Report{}, errors.Join(ErrReportPending, ctx.Err())
		}
		if !errors.Is(err, ErrReportPending) {
			return r, err
		}
		pending = true
		observe.Logger(ctx).Debug("api: report pending", "interview_id", id)
		select {
		case <-ctx.Done():
			return Report{}, errors.Join(ErrReportPending, ctx.Err())
		case <-t.C:
		}
	}
}

// ListInterviews returns the interview history, reusing a cached copy for
// the configured TTL.
func (c *Client) ListInterviews(ctx context.Context) ([]InterviewSummary, error) {
	c.mu.Lock()
	if c.list != nil && c.now().Sub(c.listAt) < c.cacheTTL {
		out := append([]InterviewSummary(nil), c.list...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	var out struct {
		Interviews []InterviewSummary `json:"interviews"`
	}
	if _, err := c.do(ctx, "list_interviews", http.MethodGet, "/api/interviews", nil, &out); err != nil {
		return nil, err
	}
	if out.Interviews == nil {
		out.Interviews = []InterviewSummary{}
	}

	c.mu.Lock()
	c.list = out.Interviews
	c.listAt = c.now()
	c.mu.Unlock()
	return append([]InterviewSummary(nil), out.Interviews...), nil
}

func (c *Client) invalidateList() {
	c.mu.Lock()
	c.list = nil
	c.mu.Unlock()
}

// do performs one request through the breaker. out is decoded from 200 and
// 201 answers only. The returned status is zero when no response arrived.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (int, error) {
	var status int
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		status, err = c.roundTrip(ctx, op, method, path, body, out)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return 0, fmt.Errorf("api: %s: %w", op, err)
	}
	return status, err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body, out any) (status int, err error) {
	ctx, span := observe.StartSpan(ctx, "api."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer func() { observe.EndSpan(span, err) }()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("api: %s: encode request: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, fmt.Errorf("api: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	observe.InjectHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordAPIRequest(ctx, op, 0, time.Since(start).Seconds())
		return 0, fmt.Errorf("api: %s: %w", op, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordAPIRequest(ctx, op, resp.StatusCode, time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{Op: op, Code: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil || (resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("api: %s: decode response: %w", op, err)
	}
	return resp.StatusCode, nil
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil {
		for _, s := range []string{body.Detail, body.Message, body.Error} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(b))
}
