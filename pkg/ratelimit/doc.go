// Package ratelimit throttles outbound requests and paces harvesting.
//
// TokenBucket caps media downloads shared across the worker pool,
// SlidingWindow caps detail requests against a platform API, and Interval
// enforces the fixed pause between consecutive harvested items. All Wait
// methods return early with ctx.Err() when the context ends.
//
//	downloads := ratelimit.NewTokenBucket(10, 10*time.Second) // 60/min, bursts of 10
//	pacer := ratelimit.NewInterval(cfg.Browser.Pause)
//	if err := pacer.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
