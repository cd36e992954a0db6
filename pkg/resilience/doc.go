/*
Package resilience provides common patterns for building robust,
fault-tolerant distributed components.

This package implements:
  - Retry: automatically retries a failing operation with jittered
    exponential backoff, honoring context cancellation.
  - Circuit Breaker: stops calling a consistently failing peer for a cool-down
    window instead of piling up timeouts against it.

Usage:

	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
	    _, err := client.Prepare(ctx, acceptorID, slot, proposalNum)
	    return err
	})

	cb := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("learner-2"))
	err = cb.Execute(ctx, func(ctx context.Context) error {
	    _, _, err := client.LearnerRead(ctx, "learner-2", key, "eventual", 0)
	    return err
	})
*/
package resilience
