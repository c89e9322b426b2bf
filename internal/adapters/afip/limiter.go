package afip

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RequestLimiter caps in-flight AFIP calls and smooths their rate. AFIP throttles
// (and eventually blocks) CUITs that flood the homologation and production gateways.
type RequestLimiter struct {
	semaphore     chan struct{}
	rate          *rate.Limiter
	maxConcurrent int
	active        atomic.Int64
}

// NewRequestLimiter creates a limiter allowing maxConcurrent calls and rps
// requests per second (burst = maxConcurrent). rps <= 0 disables rate limiting.
func NewRequestLimiter(maxConcurrent int, rps float64) *RequestLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 20
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &RequestLimiter{
		semaphore:     make(chan struct{}, maxConcurrent),
		rate:          rate.NewLimiter(limit, maxConcurrent),
		maxConcurrent: maxConcurrent,
	}
}

// Acquire blocks until a slot and a rate token are available or ctx is done.
// The returned release func must be called exactly once.
func (l *RequestLimiter) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case l.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := l.rate.Wait(ctx); err != nil {
		<-l.semaphore
		return nil, err
	}

	l.active.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			l.active.Add(-1)
			<-l.semaphore
		}
	}, nil
}

// ActiveCount returns the current number of in-flight calls.
func (l *RequestLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// MaxConcurrent returns the maximum concurrent calls allowed.
func (l *RequestLimiter) MaxConcurrent() int {
	return l.maxConcurrent
}
