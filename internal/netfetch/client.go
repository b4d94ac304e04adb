package netfetch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/abrplay/internal/config"
	"github.com/jmylchreest/abrplay/internal/playerr"
)

// RequestFilter may rewrite a request before it is sent. Returning an error
// aborts the request without retrying.
type RequestFilter func(ctx context.Context, req *Request) error

// ResponseFilter may inspect or rewrite a response before it is returned.
type ResponseFilter func(ctx context.Context, typ RequestType, resp *Response) error

// Options configures a Client.
type Options struct {
	Schemes  *SchemeRegistry
	Breakers *BreakerSet
	Logger   *slog.Logger
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0, 1) used to fuzz backoff delays.
	Rand func() float64
}

// Stats summarises client activity.
type Stats struct {
	Requests int64          `json:"requests"`
	Attempts int64          `json:"attempts"`
	Failures int64          `json:"failures"`
	Bytes    int64          `json:"bytes"`
	Breakers []BreakerStats `json:"breakers,omitempty"`
	Schemes  []string       `json:"schemes"`
}

// Client fetches requests through the scheme registry, failing over across a
// request's URIs and retrying with fuzzed exponential backoff.
type Client struct {
	schemes  *SchemeRegistry
	breakers *BreakerSet
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	rand     func() float64

	filterMu        sync.RWMutex
	requestFilters  []RequestFilter
	responseFilters []ResponseFilter

	requests atomic.Int64
	attempts atomic.Int64
	failures atomic.Int64
	bytes    atomic.Int64
}

// New creates a client. A nil registry gets only the data: plugin.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Schemes == nil {
		opts.Schemes = NewSchemeRegistry()
		opts.Schemes.Register("data", DataPlugin{})
	}
	if opts.Breakers == nil {
		opts.Breakers = NewBreakerSet(BreakerConfig{}, opts.Logger)
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	return &Client{
		schemes:  opts.Schemes,
		breakers: opts.Breakers,
		logger:   opts.Logger,
		sleep:    opts.Sleep,
		rand:     opts.Rand,
	}
}

// NewFromConfig builds a client with http, https and data plugins.
func NewFromConfig(cfg config.NetworkConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpPlugin, err := NewHTTPPlugin(HTTPOptions{
		UserAgent:       cfg.UserAgent,
		HTTP2:           cfg.HTTP2,
		MaxResponseSize: cfg.MaxResponseSize.Bytes(),
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	schemes := NewSchemeRegistry()
	schemes.Register("http", httpPlugin)
	schemes.Register("https", httpPlugin)
	schemes.Register("data", DataPlugin{})

	breakers := NewBreakerSet(BreakerConfig{
		Threshold:   cfg.CircuitBreaker.Threshold,
		Timeout:     cfg.CircuitBreaker.Timeout,
		HalfOpenMax: cfg.CircuitBreaker.HalfOpenMax,
	}, logger)

	return New(Options{
		Schemes:  schemes,
		Breakers: breakers,
		Logger:   logger,
	}), nil
}

// Schemes returns the client's scheme registry.
func (c *Client) Schemes() *SchemeRegistry {
	return c.schemes
}

// AddRequestFilter appends a request filter.
func (c *Client) AddRequestFilter(f RequestFilter) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	c.requestFilters = append(c.requestFilters, f)
}

// AddResponseFilter appends a response filter.
func (c *Client) AddResponseFilter(f ResponseFilter) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	c.responseFilters = append(c.responseFilters, f)
}

// ClearFilters removes all filters.
func (c *Client) ClearFilters() {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	c.requestFilters = nil
	c.responseFilters = nil
}

// Fetch performs req. Within each attempt every URI is tried in order; the
// client backs off only after all of them failed. Critical errors and
// cancellation of ctx end the request immediately.
func (c *Client) Fetch(ctx context.Context, req *Request) (*Response, error) {
	c.requests.Add(1)
	req = req.clone()

	c.filterMu.RLock()
	reqFilters := append([]RequestFilter(nil), c.requestFilters...)
	respFilters := append([]ResponseFilter(nil), c.responseFilters...)
	c.filterMu.RUnlock()

	for _, f := range reqFilters {
		if err := f(ctx, req); err != nil {
			return nil, filterError(playerr.CodeRequestFiltered, "request filter failed", err)
		}
	}
	if len(req.URIs) == 0 {
		return nil, playerr.New(playerr.Critical, playerr.CategoryNetwork, playerr.CodeHTTPError, "request has no URIs")
	}

	retry := req.Retry.normalized()
	delay := retry.BaseDelay
	var lastErr error

	for attempt := range retry.MaxAttempts {
		if attempt > 0 {
			wait := c.fuzz(delay, retry.FuzzFactor)
			c.logger.Debug("retrying request",
				slog.String("type", req.Type.String()),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", wait),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, aborted(err)
			}
			delay = time.Duration(float64(delay) * retry.BackoffFactor)
		}

		for _, uri := range req.URIs {
			resp, err := c.fetchOnce(ctx, uri, req, retry)
			if err == nil {
				for _, f := range respFilters {
					if ferr := f(ctx, req.Type, resp); ferr != nil {
						return nil, filterError(playerr.CodeResponseFiltered, "response filter failed", ferr)
					}
				}
				c.bytes.Add(int64(len(resp.Data)))
				return resp, nil
			}
			if ctx.Err() != nil {
				return nil, aborted(ctx.Err())
			}

			c.failures.Add(1)
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("uri", uri),
				slog.String("type", req.Type.String()),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
			if playerr.IsCritical(err) {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, uri string, req *Request, retry RetryParameters) (*Response, error) {
	c.attempts.Add(1)

	scheme := schemeOf(uri)
	plugin, ok := c.schemes.Lookup(scheme)
	if !ok {
		return nil, playerr.New(playerr.Critical, playerr.CategoryNetwork, playerr.CodeUnsupportedScheme,
			"no plugin for scheme "+scheme).WithData("uri", uri)
	}

	var breaker *CircuitBreaker
	if hostOf(uri) != "" {
		breaker = c.breakers.For(uri)
		if !breaker.Allow() {
			return nil, playerr.New(playerr.Recoverable, playerr.CategoryNetwork, playerr.CodeCircuitOpen,
				"circuit breaker open").WithData("uri", uri)
		}
	}

	attemptCtx := ctx
	if retry.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, retry.Timeout)
		defer cancel()
	}

	attemptReq := *req
	attemptReq.Retry = retry
	resp, err := plugin.Fetch(attemptCtx, uri, &attemptReq)
	if breaker != nil && ctx.Err() == nil {
		if err == nil {
			breaker.RecordSuccess()
		} else {
			breaker.RecordFailure()
		}
	}
	return resp, err
}

// fuzz scales d by a random factor in [1-fuzz, 1+fuzz].
func (c *Client) fuzz(d time.Duration, fuzz float64) time.Duration {
	if fuzz <= 0 || d <= 0 {
		return d
	}
	scale := 1 + fuzz*(2*c.rand()-1)
	return time.Duration(float64(d) * scale)
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests: c.requests.Load(),
		Attempts: c.attempts.Load(),
		Failures: c.failures.Load(),
		Bytes:    c.bytes.Load(),
		Breakers: c.breakers.Stats(),
		Schemes:  c.schemes.Schemes(),
	}
}

// ResetBreakers closes all circuit breakers.
func (c *Client) ResetBreakers() {
	c.breakers.ResetAll()
}

func filterError(code playerr.Code, msg string, err error) error {
	if pe, ok := playerr.As(err); ok {
		return pe
	}
	return playerr.Wrap(playerr.Critical, playerr.CategoryNetwork, code, msg, err)
}

func aborted(err error) error {
	return playerr.Wrap(playerr.Critical, playerr.CategoryNetwork, playerr.CodeOperationAborted,
		"request aborted", err)
}

// IsAborted reports whether err came from a cancelled request.
func IsAborted(err error) bool {
	return playerr.CodeOf(err) == playerr.CodeOperationAborted || errors.Is(err, context.Canceled)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
