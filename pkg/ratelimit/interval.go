package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Interval spaces consecutive calls at least pause apart.
// The first call never waits.
type Interval struct {
	pause   time.Duration
	limiter *rate.Limiter
}

// NewInterval creates a pacer; a non-positive pause disables waiting
func NewInterval(pause time.Duration) *Interval {
	limit := rate.Inf
	if pause > 0 {
		limit = rate.Every(pause)
	}
	return &Interval{pause: pause, limiter: rate.NewLimiter(limit, 1)}
}

// Pause returns the configured spacing
func (i *Interval) Pause() time.Duration {
	return i.pause
}

// Wait blocks until the next slot or until ctx is done
func (i *Interval) Wait(ctx context.Context) error {
	return i.limiter.Wait(ctx)
}

// Allow takes a slot without waiting
func (i *Interval) Allow() bool {
	return i.limiter.Allow()
}

// Reset lets the next call through immediately
func (i *Interval) Reset() {
	i.limiter = rate.NewLimiter(i.limiter.Limit(), 1)
}
