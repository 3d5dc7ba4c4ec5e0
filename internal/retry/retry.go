package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/models"
)

// Policy configures one retried operation. Jittered retries draw each wait
// uniformly from [MinWait, MaxWait]; exponential retries wait
// BaseDelay * 2^(attempt-1).
type Policy struct {
	Name        string
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	BaseDelay   time.Duration
}

// DefaultSourcePolicy is used for spot and FX fetches.
func DefaultSourcePolicy(name string) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: 5,
		MinWait:     2 * time.Second,
		MaxWait:     5 * time.Second,
	}
}

// DefaultBrowserPolicy is used for the P2P capture and replay.
func DefaultBrowserPolicy(name string) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
	}
}

type Op[T any] func(ctx context.Context) models.Result[T]

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Retrier struct {
	logger logrus.FieldLogger
	sleep  SleepFunc

	mu  sync.Mutex
	rng *rand.Rand
}

func New(logger logrus.FieldLogger) *Retrier {
	return &Retrier{
		logger: logger,
		sleep:  contextSleep,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSleep replaces the wait function, mainly for tests.
func (r *Retrier) WithSleep(fn SleepFunc) *Retrier {
	r.sleep = fn
	return r
}

// Jittered runs op until it reports success or MaxAttempts is exhausted.
// It never returns an error: the last failed result is handed back and the
// caller inspects its status.
func Jittered[T any](ctx context.Context, r *Retrier, p Policy, op Op[T]) models.Result[T] {
	return run(ctx, r, p, op, func(int) time.Duration { return r.jitter(p.MinWait, p.MaxWait) }, false)
}

// Exponential is the backoff path for browser-driven sources. Failures of
// kind config are returned immediately.
func Exponential[T any](ctx context.Context, r *Retrier, p Policy, op Op[T]) models.Result[T] {
	return run(ctx, r, p, op, func(attempt int) time.Duration {
		return p.BaseDelay * time.Duration(1<<(attempt-1))
	}, true)
}

func run[T any](ctx context.Context, r *Retrier, p Policy, op Op[T], wait func(int) time.Duration, stopOnConfig bool) models.Result[T] {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	log := r.logger.WithField("operation", p.Name)

	var res models.Result[T]
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		res = op(ctx)
		if res.OK() {
			if attempt > 1 {
				log.Infof("Succeeded on attempt %d", attempt)
			}
			return res
		}
		if res.Err == nil {
			res.Status = models.StatusError
			res.Err = models.NewFailure(models.KindComputation, "operation returned no status")
		}
		if stopOnConfig && res.Err.Kind == models.KindConfig {
			log.Errorf("Non-retryable failure: %v", res.Err)
			return res
		}
		if attempt == p.MaxAttempts {
			break
		}

		d := wait(attempt)
		log.Warnf("Attempt %d/%d failed: %v. Retrying in %s", attempt, p.MaxAttempts, res.Err, d.Round(10*time.Millisecond))
		if err := r.sleep(ctx, d); err != nil {
			log.Errorf("Retry aborted: %v", err)
			return res
		}
	}

	log.Errorf("All %d attempts failed, last error: %v", p.MaxAttempts, res.Err)
	return res
}

func (r *Retrier) jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + time.Duration(r.rng.Int63n(int64(hi-lo)+1))
}

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
