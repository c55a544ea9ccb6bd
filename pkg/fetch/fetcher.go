// Package fetch provides the origin fetcher: a single HTTP round trip per
// attempt bounded by a timeout, exponential backoff between attempts, and
// hand-off of exhausted mutating requests to a retry queue.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/cachegate/pkg/logging"
	"github.com/Sternrassler/cachegate/pkg/policy"
)

// Prometheus metrics for origin fetches.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachegate_fetch_requests_total",
		Help: "Total origin attempts by method and status",
	}, []string{"method", "status"})

	fetchAttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cachegate_fetch_attempt_duration_seconds",
		Help:    "Origin attempt duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	fetchHandoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachegate_fetch_handoffs_total",
		Help: "Total mutating requests handed to the retry queue",
	})
)

// Request is an outbound origin request. Body is buffered so the request
// can be replayed across attempts and persisted by the retry queue.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Kind   policy.Kind
}

// NewRequest buffers r into a Request.
func NewRequest(r *http.Request) (Request, error) {
	req := Request{
		Method: r.Method,
		URL:    r.URL.String(),
		Header: r.Header.Clone(),
		Kind:   policy.KindOf(r),
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return Request{}, fmt.Errorf("%w: read body: %v", ErrInvalidRequest, err)
		}
		req.Body = body
	}
	return req, nil
}

// Response is a fully read origin response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPResponse converts r to an *http.Response for req.
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	h := r.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	return &http.Response{
		Status:        strconv.Itoa(r.StatusCode) + " " + http.StatusText(r.StatusCode),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// Enqueuer accepts mutating requests that exhausted their attempts.
type Enqueuer interface {
	EnqueueRequest(ctx context.Context, req Request) error
}

// Observer is told about every attempt outcome.
type Observer interface {
	ObserveSuccess()
	ObserveFailure(class ErrorClass)
}

// Config holds the fetcher configuration.
type Config struct {
	// AttemptTimeout bounds a single attempt including reading the body.
	AttemptTimeout time.Duration

	// MaxAttempts is the number of attempts per fetch (including the first).
	MaxAttempts int

	// BaseDelay is the backoff base: delay = BaseDelay × 2^attempt.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff delay (0 = uncapped).
	MaxDelay time.Duration

	// Jitter spreads each delay by ±Jitter (0.2 = ±20%).
	Jitter float64

	// RetryRateLimited retries 429 responses with backoff instead of
	// returning them as final.
	RetryRateLimited bool

	// UserAgent is set on requests that carry none.
	UserAgent string
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 10 * time.Second,
		MaxAttempts:    3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       30 * time.Second,
		Jitter:         0.2,
		UserAgent:      "cachegate",
	}
}

// Fetcher performs origin requests.
type Fetcher struct {
	httpClient *http.Client
	config     Config
	queue      Enqueuer
	observer   Observer
	sleep      Sleeper
	logger     zerolog.Logger
}

// New creates a new fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.AttemptTimeout <= 0 {
		return nil, fmt.Errorf("attempt timeout must be > 0 (got %s)", cfg.AttemptTimeout)
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if cfg.BaseDelay < 0 {
		return nil, fmt.Errorf("base delay must be >= 0 (got %s)", cfg.BaseDelay)
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		return nil, fmt.Errorf("jitter must be in [0, 1) (got %v)", cfg.Jitter)
	}

	return &Fetcher{
		httpClient: &http.Client{
			// Per-attempt deadlines come from the request context.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config: cfg,
		sleep:  sleepContext,
		logger: logging.NewLogger(logging.ComponentFetch),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *Fetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = client
}

// SetEnqueuer sets the queue that receives exhausted mutating requests.
func (f *Fetcher) SetEnqueuer(q Enqueuer) {
	f.queue = q
}

// SetObserver sets the attempt outcome observer.
func (f *Fetcher) SetObserver(o Observer) {
	f.observer = o
}

// SetSleeper replaces the backoff sleeper (for testing).
func (f *Fetcher) SetSleeper(s Sleeper) {
	f.sleep = s
}

// SetLogger replaces the component logger.
func (f *Fetcher) SetLogger(l zerolog.Logger) {
	f.logger = l
}

// Config returns the fetcher configuration.
func (f *Fetcher) Config() Config {
	return f.config
}

// Fetch performs req with retries.
//
// A 4xx response is returned as the final result without retry. Server,
// network and timeout failures are retried up to MaxAttempts with
// exponential backoff. When a mutating request exhausts its attempts the
// fetcher waits one more backoff step, hands the request to the retry
// queue and returns an error wrapping ErrQueuedForRetry.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	req.Header = AugmentHeaders(req.Header, req.Kind, f.config.UserAgent)
	mutating := policy.IsMutating(req.Method)

	f.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL).
		Msg("Fetching from origin")

	var lastErr error
	var lastClass ErrorClass

	for attempt := 0; attempt < f.config.MaxAttempts; attempt++ {
		resp, err := f.Attempt(ctx, req)
		if err == nil {
			if attempt > 0 {
				f.logger.Info().
					Str("method", req.Method).
					Str("url", req.URL).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return resp, nil
		}

		lastErr = err
		lastClass = ClassOf(err)

		if !shouldRetry(lastClass) {
			return nil, err
		}

		last := attempt == f.config.MaxAttempts-1
		if last && !mutating {
			break
		}

		delay := withJitter(Backoff(f.config.BaseDelay, f.config.MaxDelay, attempt), f.config.Jitter)
		if !last {
			fetchRetriesTotal.WithLabelValues(string(lastClass)).Inc()
		}
		fetchBackoffSeconds.WithLabelValues(string(lastClass)).Observe(delay.Seconds())

		f.logger.Warn().
			Err(err).
			Str("method", req.Method).
			Str("url", req.URL).
			Str("error_class", string(lastClass)).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Origin attempt failed, backing off")

		if err := f.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	fetchRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	exhausted := fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, f.config.MaxAttempts, lastErr)

	if !mutating || f.queue == nil {
		f.logger.Warn().
			Str("method", req.Method).
			Str("url", req.URL).
			Str("error_class", string(lastClass)).
			Int("max_attempts", f.config.MaxAttempts).
			Msg("Retry attempts exhausted")
		return nil, exhausted
	}

	if err := f.queue.EnqueueRequest(context.WithoutCancel(ctx), req); err != nil {
		f.logger.Error().
			Err(err).
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("Failed to hand request to retry queue")
		return nil, fmt.Errorf("%w (enqueue failed: %v)", exhausted, err)
	}

	fetchHandoffsTotal.Inc()
	f.logger.Warn().
		Str("method", req.Method).
		Str("url", req.URL).
		Msg("Request handed to retry queue")

	return nil, fmt.Errorf("%w: %w", ErrQueuedForRetry, exhausted)
}

// Attempt performs a single origin round trip bounded by AttemptTimeout.
// Responses with a retryable status are returned as *OriginError; every
// other status, including 4xx, is returned as a Response.
func (f *Fetcher) Attempt(ctx context.Context, req Request) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.config.AttemptTimeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}

	start := time.Now()
	defer func() {
		fetchAttemptDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, f.transportError(ctx, attemptCtx, method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, f.transportError(ctx, attemptCtx, method, err)
	}

	fetchRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	if f.observer != nil {
		f.observer.ObserveSuccess()
	}

	class := ClassifyStatus(resp.StatusCode, f.config.RetryRateLimited)
	if shouldRetry(class) {
		return nil, &OriginError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
		}
	}

	if class == ErrorClassClient {
		f.logger.Debug().
			Str("method", method).
			Str("url", req.URL).
			Int("status", resp.StatusCode).
			Msg("Origin returned client error")
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
	}, nil
}

// transportError classifies a failed round trip.
func (f *Fetcher) transportError(parent, attemptCtx context.Context, method string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %v", ErrContextCancelled, parent.Err())
	}

	class := ErrorClassNetwork
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		class = ErrorClassTimeout
	}

	fetchRequestsTotal.WithLabelValues(method, string(class)).Inc()
	if f.observer != nil {
		f.observer.ObserveFailure(class)
	}

	return &OriginError{
		Class:   class,
		Message: "origin unreachable",
		Err:     err,
	}
}
