// Package ratelimit enforces independent per-source request budgets: a minimum
// interval between requests and a cap on requests in flight.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/journal-crawler/internal/metrics"
)

// Budget is the allowance of one source.
type Budget struct {
	// QPS is the sustained request rate; <= 0 means unlimited.
	QPS float64
	// MaxInFlight caps concurrent requests; <= 0 means unlimited.
	MaxInFlight int
}

// Config holds rate limiter configuration.
type Config struct {
	Default Budget
	Sources map[string]Budget
}

type bucket struct {
	rate *rate.Limiter
	sem  *semaphore.Weighted
}

// Limiter manages per-source budgets. Sources never share a bucket, so a slow
// source does not hold up the others.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}
}

// Acquire blocks until source may issue one request. The caller must invoke
// release when the request finishes.
func (l *Limiter) Acquire(ctx context.Context, source string) (func(), error) {
	b := l.bucket(source)
	start := time.Now()
	if b.sem != nil {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire %s slot: %w", source, err)
		}
	}
	if err := b.rate.Wait(ctx); err != nil {
		if b.sem != nil {
			b.sem.Release(1)
		}
		return nil, fmt.Errorf("rate limit wait %s: %w", source, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitWait(source, waited)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if b.sem != nil {
				b.sem.Release(1)
			}
		})
	}, nil
}

// Do runs fn under source's budget.
func (l *Limiter) Do(ctx context.Context, source string, fn func(context.Context) error) error {
	release, err := l.Acquire(ctx, source)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// SetBudget replaces the budget of source. In-flight holders of the previous
// bucket finish against it.
func (l *Limiter) SetBudget(source string, budget Budget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg.Sources == nil {
		l.cfg.Sources = make(map[string]Budget)
	}
	l.cfg.Sources[source] = budget
	delete(l.buckets, source)
}

func (l *Limiter) bucket(source string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[source]; ok {
		return b
	}
	budget, ok := l.cfg.Sources[source]
	if !ok {
		budget = l.cfg.Default
	}
	b := &bucket{rate: rate.NewLimiter(rate.Inf, 1)}
	if budget.QPS > 0 {
		b.rate = rate.NewLimiter(rate.Limit(budget.QPS), 1)
	}
	if budget.MaxInFlight > 0 {
		b.sem = semaphore.NewWeighted(int64(budget.MaxInFlight))
	}
	l.buckets[source] = b
	return b
}
