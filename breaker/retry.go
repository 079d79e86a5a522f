package breaker

import (
	"context"

	"github.com/cenkalti/backoff/v5"
	"github.com/ymera-labs/ymera/core"
)

// CallWithBreaker runs fn through cb and, on a classified failure, retries
// using an exponential backoff policy built with cenkalti/backoff/v5. A
// CircuitOpen result is never retried here: the caller (orchestrator) owns
// the retry-vs-fail decision for that error kind per spec §4.4 step 7.
func CallWithBreaker(ctx context.Context, cb *CircuitBreaker, maxAttempts int, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()

	operation := func() (struct{}, error) {
		err := cb.Call(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if core.IsCircuitOpen(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
	return err
}
