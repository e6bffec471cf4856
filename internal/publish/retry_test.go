// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func instant(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func TestRetryWithBackoff_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retryWithBackoff(t.Context(), 3, time.Millisecond, instant, func(int) (bool, error) {
		calls++
		return false, nil
	})
	if err != nil {
		t.Fatalf("retryWithBackoff() = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	after := func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		return instant(d)
	}
	calls := 0
	err := retryWithBackoff(t.Context(), 4, 10*time.Millisecond, after, func(attempt int) (bool, error) {
		calls++
		if attempt < 2 {
			return true, errTransient
		}
		return false, nil
	})
	if err != nil {
		t.Fatalf("retryWithBackoff() = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(waits) != len(want) || waits[0] != want[0] || waits[1] != want[1] {
		t.Errorf("waits = %v, want %v", waits, want)
	}
}

func TestRetryWithBackoff_NonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()

	final := errors.New("access denied")
	calls := 0
	err := retryWithBackoff(t.Context(), 5, time.Millisecond, instant, func(int) (bool, error) {
		calls++
		return false, final
	})
	if !errors.Is(err, final) {
		t.Fatalf("err = %v, want %v", err, final)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retryWithBackoff(t.Context(), 3, time.Millisecond, instant, func(int) (bool, error) {
		calls++
		return true, errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("err = %v, want %v", err, errTransient)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	calls := 0
	err := retryWithBackoff(ctx, 5, time.Hour, time.After, func(int) (bool, error) {
		calls++
		cancel()
		return true, errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
