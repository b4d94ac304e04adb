// Package scheduler runs maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler errors.
var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrDuplicateJob   = errors.New("job already registered")
	ErrUnknownJob     = errors.New("unknown job")
)

// JobFunc is one run of a job.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	expr     string
	schedule cron.Schedule
	fn       JobFunc
	// running serializes scheduled and manual runs.
	running sync.Mutex
}

// Scheduler runs registered jobs whenever their schedule fires. Each job
// has its own goroutine and never overlaps with itself.
type Scheduler struct {
	mu     sync.RWMutex
	jobs   map[string]*job
	logger *slog.Logger

	// cron parser for validating/parsing cron expressions
	parser cron.Parser

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewScheduler creates a scheduler that accepts five-field cron expressions
// and descriptors such as @daily or @every 1h.
func NewScheduler() *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*job),
		logger: slog.Default(),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger.With(slog.String("component", "scheduler"))
	return s
}

// Add registers a job. Jobs added after Start begin immediately.
func (s *Scheduler) Add(name, expr string, fn JobFunc) error {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	j := &job{name: name, expr: expr, schedule: schedule, fn: fn}
	s.jobs[name] = j
	if s.ctx != nil {
		s.wg.Add(1)
		go s.loop(s.ctx, j)
	}
	return nil
}

// Start begins running every registered job on its schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(s.ctx, j)
	}

	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels running jobs and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// RunNow runs a job once, outside its schedule, and returns its error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j)
}

// NextRun returns when a job fires next.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return j.schedule.Next(s.now()), nil
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	for {
		next := j.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		_ = s.run(ctx, j)
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) error {
	j.running.Lock()
	defer j.running.Unlock()

	start := time.Now()
	err := j.fn(ctx)
	attrs := []any{
		slog.String("job", j.name),
		slog.String("cron", j.expr),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		s.logger.Error("scheduled job failed", append(attrs, slog.String("error", err.Error()))...)
		return err
	}
	s.logger.Debug("scheduled job completed", attrs...)
	return nil
}
