package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"
)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Pool owns the sessions started through the control API. Every session
// shares the pool's Options.
type Pool struct {
	opts     Options
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewPool creates an empty pool.
func NewPool(opts Options) *Pool {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		opts:     opts,
		sessions: make(map[string]*Session),
		logger:   opts.Logger.With(slog.String("component", "session_pool")),
	}
}

// Play opens uri and starts it at startTime (NaN for the default position).
func (p *Pool) Play(ctx context.Context, uri string, startTime float64) (*Session, error) {
	s, err := Open(ctx, uri, p.opts)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx, startTime); err != nil {
		_ = s.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	p.mu.Lock()
	p.sessions[s.ID()] = s
	p.mu.Unlock()
	p.logger.Info("session started", slog.String("session_id", s.ID()), slog.String("uri", uri))
	return s, nil
}

// Get returns a running session.
func (p *Pool) Get(id string) (*Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns running sessions ordered by ID.
func (p *Pool) List() []*Session {
	p.mu.RLock()
	out := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	p.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Session) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of running sessions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Close stops and removes one session.
func (p *Pool) Close(ctx context.Context, id string) error {
	p.mu.Lock()
	s, ok := p.sessions[id]
	delete(p.sessions, id)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.Close(ctx)
}

// CloseAll stops every session.
func (p *Pool) CloseAll(ctx context.Context) error {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	var errs []error
	for id, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing session %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Reap closes sessions whose engine stopped, either on a critical error or
// after Destroy, and returns how many were removed.
func (p *Pool) Reap(ctx context.Context) int {
	var stopped []string
	p.mu.RLock()
	for id, s := range p.sessions {
		select {
		case <-s.Done():
			stopped = append(stopped, id)
		default:
		}
	}
	p.mu.RUnlock()
	for _, id := range stopped {
		_ = p.Close(ctx, id)
	}
	return len(stopped)
}

// RunReaper calls Reap every interval until ctx is done.
func (p *Pool) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.Reap(ctx); n > 0 {
				p.logger.Info("reaped stopped sessions", slog.Int("count", n))
			}
		}
	}
}

// ParseStart turns an optional start position into the value Play
// expects.
func ParseStart(start *float64) float64 {
	if start == nil {
		return math.NaN()
	}
	return *start
}
