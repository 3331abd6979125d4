package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdaptiveRateLimiterBackoffOnRateLimited(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(100, 100)
	initial := limiter.currentRPS

	wrapped := limiter.Wrap(&fakeCompleter{err: ErrRateLimited})
	_, err := wrapped.Complete(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	require.ErrorIs(t, err, ErrRateLimited)

	require.Less(t, limiter.currentRPS, initial)
	require.GreaterOrEqual(t, limiter.currentRPS, limiter.minRPS)
}

func TestAdaptiveRateLimiterProbesUpOnSuccess(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(10, 20)
	limiter.currentRPS = 10
	limiter.limiter.SetLimit(10)

	wrapped := limiter.Wrap(&fakeCompleter{resp: &Response{Text: "ok"}})
	_, err := wrapped.Complete(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	require.NoError(t, err)

	require.Greater(t, limiter.currentRPS, 10.0)
	require.LessOrEqual(t, limiter.currentRPS, 20.0)
}

func TestAdaptiveRateLimiterNeverExceedsMax(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(1000, 1010)
	wrapped := limiter.Wrap(&fakeCompleter{resp: &Response{Text: "ok"}})

	for i := 0; i < 20; i++ {
		_, err := wrapped.Complete(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
		require.NoError(t, err)
	}

	require.LessOrEqual(t, limiter.currentRPS, 1010.0)
}
