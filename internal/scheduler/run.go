package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Job performs one reconciliation run and reports whether it succeeded.
type Job func(ctx context.Context) bool

type Config struct {
	Interval   time.Duration // e.g. 30*time.Minute
	RunTimeout time.Duration // bound on a single run
	RunOnStart bool
}

// RunScheduler re-runs a batch job on a fixed interval. Runs never overlap:
// a tick that arrives while a run is in progress is skipped.
type RunScheduler struct {
	job    Job
	cfg    Config
	logger logrus.FieldLogger

	busy      atomic.Bool
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

func NewRunScheduler(job Job, cfg Config, logger logrus.FieldLogger) *RunScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Hour
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 15 * time.Minute
	}
	return &RunScheduler{job: job, cfg: cfg, logger: logger}
}

func (s *RunScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("Scheduler already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	stopCh := s.stopCh
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		if s.cfg.RunOnStart {
			s.tick(ctx)
		}
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	s.logger.Infof("Scheduler started (every %s)", s.cfg.Interval)
}

// Stop cancels any in-flight run and waits for the loop to exit.
func (s *RunScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.done.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *RunScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow triggers a run outside the schedule. It returns false without
// running when another run is in progress.
func (s *RunScheduler) RunNow(ctx context.Context) bool {
	s.logger.Info("Manual run triggered")
	return s.tick(ctx)
}

// Stats reports succeeded, failed and skipped run counts.
func (s *RunScheduler) Stats() (succeeded, failed, skipped int64) {
	return s.succeeded.Load(), s.failed.Load(), s.skipped.Load()
}

func (s *RunScheduler) tick(parent context.Context) bool {
	if !s.busy.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warn("Previous run still in progress, skipping")
		return false
	}
	defer s.busy.Store(false)

	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	if s.job(ctx) {
		s.succeeded.Add(1)
		return true
	}
	s.failed.Add(1)
	return false
}
