// ABOUTME: Tests for the retry policy
// ABOUTME: Covers the delay formula, should-retry kind rules, and the Do helper

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgeflow/core/pkg/types"
)

func TestDelaySequenceS7(t *testing.T) {
	opts := types.RetryPolicyOptions{
		InitialDelayMilliseconds: 100,
		BackoffMultiplier:        2,
		MaxDelayMilliseconds:     1000,
		MaxRetryCount:            6,
	}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1000 * time.Millisecond,
		1000 * time.Millisecond,
	}
	for i, w := range want {
		got := Delay(i+1, opts)
		if got != w {
			t.Fatalf("delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if Delay(0, opts) != 0 {
		t.Fatalf("expected delay(0) = 0")
	}
}

func TestShouldRetryCap(t *testing.T) {
	opts := types.RetryPolicyOptions{MaxRetryCount: 3}
	if ShouldRetry(4, opts, types.ErrKindTransportTransient) {
		t.Fatalf("expected false beyond maxRetryCount")
	}
	if !ShouldRetry(3, opts, types.ErrKindTransportTransient) {
		t.Fatalf("expected true at the cap boundary")
	}
}

func TestShouldRetryKind(t *testing.T) {
	opts := types.RetryPolicyOptions{MaxRetryCount: 5}
	cases := []struct {
		kind types.ErrorKind
		want bool
	}{
		{types.ErrKindTransportTransient, true},
		{types.ErrKindCancellation, false},
		{types.ErrKindPermanent, false},
		{types.ErrKindUnknown, false},
	}
	for _, c := range cases {
		if got := ShouldRetry(1, opts, c.kind); got != c.want {
			t.Fatalf("kind %v: got %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	opts := types.RetryPolicyOptions{MaxRetryCount: 5, InitialDelayMilliseconds: 1, BackoffMultiplier: 2, MaxDelayMilliseconds: 10}

	attempts := 0
	value, err := Do(context.Background(), opts, func(n int) Attempt[string] {
		attempts++
		if attempts < 3 {
			return Attempt[string]{Err: errors.New("transient"), Kind: types.ErrKindTransportTransient}
		}
		return Attempt[string]{Value: "ok"}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "ok" {
		t.Fatalf("got %q", value)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnNonRetryableKind(t *testing.T) {
	opts := types.RetryPolicyOptions{MaxRetryCount: 5, InitialDelayMilliseconds: 1, BackoffMultiplier: 2, MaxDelayMilliseconds: 10}

	attempts := 0
	_, err := Do(context.Background(), opts, func(n int) Attempt[string] {
		attempts++
		return Attempt[string]{Err: errors.New("permanent"), Kind: types.ErrKindPermanent}
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt for a non-retryable kind, got %d", attempts)
	}
}

func TestDoNeverRetriesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := types.RetryPolicyOptions{MaxRetryCount: 5, InitialDelayMilliseconds: 5, BackoffMultiplier: 2, MaxDelayMilliseconds: 10}
	attempts := 0
	_, err := Do(ctx, opts, func(n int) Attempt[string] {
		attempts++
		return Attempt[string]{Err: errors.New("transient"), Kind: types.ErrKindTransportTransient}
	})
	if err == nil {
		t.Fatalf("expected error from cancelled context")
	}
	if attempts > 1 {
		t.Fatalf("expected at most one attempt before the cancelled context is observed on the first delay wait, got %d", attempts)
	}
}
