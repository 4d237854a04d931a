package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDoSucceedsAfterFailures tests bounded retries with eventual success
func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "flaky", 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

// TestDoExhaustsAttempts tests that the last error is returned
func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "hopeless", 3, time.Millisecond, func() error {
		calls++
		return errors.New("still broken")
	})
	require.Error(t, err)
	assert.Equal(t, "still broken", err.Error(), "last error only, unwrapped")
	assert.Equal(t, 3, calls)
}

// TestDoContextCancel tests that cancellation stops further attempts
func TestDoContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, "cancelled", 10, 50*time.Millisecond, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}
