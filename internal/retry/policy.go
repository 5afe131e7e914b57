// ABOUTME: Exponential backoff retry policy with capped delay and kind-based retryability
// ABOUTME: Generic Do helper adapted from a generic attempt/success/fail counter pattern, without jitter

package retry

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/forgeflow/core/pkg/types"
)

var meter = otel.Meter("forgeflow-core")

// Delay returns the backoff delay before attempt n, per
// delay(n) = min(initial * multiplier^(n-1), maxDelay) for n >= 1, and
// delay(0) = 0.
func Delay(n int, opts types.RetryPolicyOptions) time.Duration {
	if n <= 0 {
		return 0
	}
	raw := float64(opts.InitialDelayMilliseconds) * math.Pow(opts.BackoffMultiplier, float64(n-1))
	capped := math.Min(raw, float64(opts.MaxDelayMilliseconds))
	return time.Duration(capped) * time.Millisecond
}

// ShouldRetry reports whether attempt n should be retried given kind,
// the classification of the error that just failed. Attempts beyond
// maxRetryCount are never retried; a cancellation is never retried;
// only a transport-transient failure is retried by default.
func ShouldRetry(n int, opts types.RetryPolicyOptions, kind types.ErrorKind) bool {
	if n > opts.MaxRetryCount {
		return false
	}
	if kind == types.ErrKindCancellation {
		return false
	}
	return kind == types.ErrKindTransportTransient
}

// Attempt is what Do's callback returns: the classified error kind
// for a failure, or ErrKindUnknown with a nil error on success.
type Attempt[T any] struct {
	Value T
	Err   error
	Kind  types.ErrorKind
}

// Do drives a retry loop around fn using Delay and ShouldRetry,
// instrumented with attempt/success/fail counters. It returns as soon
// as fn succeeds, as soon as ShouldRetry refuses a further attempt, or
// as soon as ctx is cancelled -- a cancellation is surfaced as ctx.Err()
// and is never retried even if attempts remain.
func Do[T any](ctx context.Context, opts types.RetryPolicyOptions, fn func(attempt int) Attempt[T]) (T, error) {
	attemptCounter, _ := meter.Int64Counter("forgeflow_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("forgeflow_retry_success_total")
	failCounter, _ := meter.Int64Counter("forgeflow_retry_fail_total")

	var zero T
	var last Attempt[T]

	for n := 0; ; n++ {
		if n > 0 {
			d := Delay(n, opts)
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				failCounter.Add(ctx, 1)
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		last = fn(n)
		attemptCounter.Add(ctx, 1)
		if last.Err == nil {
			successCounter.Add(ctx, 1)
			return last.Value, nil
		}

		if !ShouldRetry(n+1, opts, last.Kind) {
			failCounter.Add(ctx, 1)
			return zero, last.Err
		}
	}
}
