package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
)

// Clock abstracts time for deterministic tests
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock uses the wall clock
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const (
	// DefaultAttempts bounds retries for admin submissions and polling
	DefaultAttempts = 3

	// DefaultDelay is the base of the linear backoff (delay × attempt)
	DefaultDelay = 5 * time.Second
)

// Do runs fn up to attempts times with linear backoff delay × attempt.
// The operation name is the correlation label in retry warnings.
func Do(ctx context.Context, name string, attempts uint, delay time.Duration, fn func() error) error {
	logger := log.WithOperation(name)
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			return delay * time.Duration(n+1)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Uint("attempt", n+1).Msg("operation failed, retrying")
		}),
	)
}
