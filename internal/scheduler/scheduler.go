package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs one job immediately on Start and then every interval until Stop.
type Scheduler struct {
	name     string
	interval time.Duration
	job      func(context.Context) error
	log      *slog.Logger

	running atomic.Bool
	lastRun atomic.Pointer[RunStatus]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// RunStatus describes the most recent job run.
type RunStatus struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

func New(name string, interval time.Duration, job func(context.Context) error, log *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		log:      log.With("job", name),
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("scheduler started", "interval", s.interval.String())

		s.safeRun(ctx)

		for {
			select {
			case <-ctx.Done():
				s.log.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.safeRun(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.log.Info("scheduler stopped")
	return true
}

func (s *Scheduler) Name() string {
	return s.name
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// LastRun returns the status of the latest run, or nil before the first one.
func (s *Scheduler) LastRun() *RunStatus {
	return s.lastRun.Load()
}

func (s *Scheduler) safeRun(ctx context.Context) {
	start := time.Now()
	status := &RunStatus{StartedAt: start.UTC()}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler job panic recovered", "panic", r)
			status.Error = "panic"
		}
		status.Duration = time.Since(start)
		s.lastRun.Store(status)
	}()

	if err := s.job(ctx); err != nil {
		status.Error = err.Error()
		s.log.Error("scheduler job failed", "error", err)
		return
	}
	s.log.Info("scheduler job completed", "duration_ms", time.Since(start).Milliseconds())
}
