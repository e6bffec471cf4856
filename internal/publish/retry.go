// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"context"
	"fmt"
	"time"
)

// retryWithBackoff retries op up to maxAttempts times, doubling the pause
// after each attempt. op reports whether its error is worth another try.
// Cancellation is checked before every retry and during the pause.
func retryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	after func(time.Duration) <-chan time.Time,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("retry aborted: %w", err)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-after(baseBackoff * time.Duration(1<<(attempt-1))):
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}
