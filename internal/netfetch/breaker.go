package netfetch

import (
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// Default circuit breaker values.
const (
	DefaultCircuitThreshold   = 5
	DefaultCircuitTimeout     = 30 * time.Second
	DefaultCircuitHalfOpenMax = 1
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures one circuit breaker.
type BreakerConfig struct {
	Threshold   int
	Timeout     time.Duration
	HalfOpenMax int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = DefaultCircuitThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultCircuitTimeout
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = DefaultCircuitHalfOpenMax
	}
	return c
}

// CircuitBreaker trips after Threshold consecutive failures and lets a
// limited number of trial requests through once Timeout has elapsed.
type CircuitBreaker struct {
	mu              sync.Mutex
	cfg             BreakerConfig
	now             func() time.Time
	state           CircuitState
	failures        int
	halfOpenCount   int
	lastFailureTime time.Time

	totalRequests int64
	totalFailures int64
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Allow returns true if the request should be allowed to proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.cfg.Timeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenCount = 1
			return true
		}
		return false
	case CircuitHalfOpen:
		if cb.halfOpenCount < cb.cfg.HalfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker and clears the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.failures = 0
	cb.halfOpenCount = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure, opening the breaker at the threshold or
// immediately when a half-open trial request fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.totalFailures++
	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.Threshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.halfOpenCount = 0
}

// BreakerStats is a point-in-time view of one breaker.
type BreakerStats struct {
	Host          string    `json:"host"`
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	TotalRequests int64     `json:"total_requests"`
	TotalFailures int64     `json:"total_failures"`
	LastFailure   time.Time `json:"last_failure,omitzero"`
}

func (cb *CircuitBreaker) stats(host string) BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		Host:          host,
		State:         cb.state.String(),
		Failures:      cb.failures,
		TotalRequests: cb.totalRequests,
		TotalFailures: cb.totalFailures,
		LastFailure:   cb.lastFailureTime,
	}
}

// BreakerSet hands out one shared breaker per host.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*CircuitBreaker
	logger   *slog.Logger
}

// NewBreakerSet creates an empty set.
func NewBreakerSet(cfg BreakerConfig, logger *slog.Logger) *BreakerSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerSet{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// For returns the breaker for the URI's host, creating it on first use.
// URIs without a host (data:, file:) share the empty-host breaker.
func (s *BreakerSet) For(uri string) *CircuitBreaker {
	host := hostOf(uri)

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[host]; ok {
		return b
	}
	b := NewCircuitBreaker(s.cfg)
	s.breakers[host] = b
	s.logger.Debug("created circuit breaker",
		slog.String("host", host),
		slog.Int("failure_threshold", s.cfg.Threshold),
		slog.Duration("reset_timeout", s.cfg.Timeout),
	)
	return b
}

// Stats returns every breaker's stats.
func (s *BreakerSet) Stats() []BreakerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]BreakerStats, 0, len(s.breakers))
	for host, b := range s.breakers {
		out = append(out, b.stats(host))
	}
	return out
}

// ResetAll closes every breaker.
func (s *BreakerSet) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.breakers {
		b.Reset()
	}
}

func hostOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Host
}
