// Package retry provides bounded retry loops with pluggable backoff.
//
// Every loop is an explicit for loop with a fixed attempt budget; nothing
// recurses and the outcome is always returned to the caller. The context is
// checked before each attempt and during each wait.
//
//	// 10 retries after the first attempt, 5s apart
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return fetch(ctx)
//	}, retry.Fixed(10, 5*time.Second, log))
//	if errors.Is(err, retry.ErrExhausted) {
//		// budget spent
//	}
//
// Errors wrapped with Permanent, context errors and typed errors whose status
// code or type is not retryable stop the loop immediately. ByErrorType
// chooses longer waits for rate limiting than for network failures.
package retry
