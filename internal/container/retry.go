// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultPullAttempts bounds PullWithRetry when the caller passes zero.
const DefaultPullAttempts = 3

// pullBackoff is the first retry delay; it doubles per attempt.
var pullBackoff = 2 * time.Second

// RetryWithBackoff retries op up to maxAttempts times with exponential backoff.
// It checks ctx between retries so a cancelled caller is never retried.
//
// op returns (retry bool, err error). If retry is false, err is returned
// immediately (nil on success, non-nil on permanent failure).
// On retry exhaustion, the last error is returned.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			timer := time.NewTimer(baseBackoff * time.Duration(1<<(attempt-1)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-timer.C:
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

// PullWithRetry pulls image, retrying transient engine failures.
func PullWithRetry(ctx context.Context, engine Engine, image ImageTag, opts PullOptions, attempts int) error {
	if attempts <= 0 {
		attempts = DefaultPullAttempts
	}
	return RetryWithBackoff(ctx, attempts, pullBackoff, func(attempt int) (bool, error) {
		err := engine.PullImage(ctx, image, opts)
		if err != nil && IsTransientError(err) {
			slog.Debug("transient pull failure", "image", image, "attempt", attempt+1, "error", err)
			return true, err
		}
		return false, err
	})
}
