package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy bounds repeated attempts with a linear backoff: attempt k
// waits k*Step before the next try.
type RetryPolicy struct {
	MaxAttempts int
	Step        time.Duration
}

// DefaultRetryPolicy mirrors the collector's historical behaviour: up to 5
// attempts, waiting attempt*10s between them.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Step: 10 * time.Second}

// Do runs op until it succeeds, attempts are exhausted, or ctx is cancelled.
func (p RetryPolicy) Do(ctx context.Context, logger zerolog.Logger, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		wait := time.Duration(attempt) * p.Step
		logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("wait", wait).Msg("operation failed, backing off")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}
