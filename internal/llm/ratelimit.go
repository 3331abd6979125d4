package llm

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// AdaptiveRateLimiter wraps a Completer with the single outbound request
// queue spec §4.H calls for: a configurable inter-request delay throttles
// provider calls, backing off when the provider itself reports throttling
// and recovering gradually otherwise. It is process-local; a cluster-wide
// limiter would coordinate the same token bucket across replicas the way
// the teacher's middleware.AdaptiveRateLimiter does via a Pulse rmap, which
// this package does not need since a single PhaseClient instance owns one
// provider connection per process.
type AdaptiveRateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentRPS   float64
	minRPS       float64
	maxRPS       float64
	recoveryRate float64
}

// NewAdaptiveRateLimiter builds a limiter starting at initialRPS requests
// per second, backing off under throttling down to 10% of initialRPS and
// recovering by 5% of initialRPS per successful call, up to maxRPS.
func NewAdaptiveRateLimiter(initialRPS, maxRPS float64) *AdaptiveRateLimiter {
	if initialRPS <= 0 {
		initialRPS = 1
	}
	if maxRPS <= 0 || maxRPS < initialRPS {
		maxRPS = initialRPS
	}
	minRPS := initialRPS * 0.1
	if minRPS < 0.01 {
		minRPS = 0.01
	}
	recoveryRate := initialRPS * 0.05
	if recoveryRate < 0.01 {
		recoveryRate = 0.01
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialRPS), 1),
		currentRPS:   initialRPS,
		minRPS:       minRPS,
		maxRPS:       maxRPS,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a Completer that waits for the limiter's token before
// delegating to next, then adjusts the limit based on whether next returned
// ErrRateLimited.
func (l *AdaptiveRateLimiter) Wrap(next Completer) Completer {
	return &rateLimitedCompleter{limiter: l, next: next}
}

type rateLimitedCompleter struct {
	limiter *AdaptiveRateLimiter
	next    Completer
}

func (c *rateLimitedCompleter) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := c.limiter.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.adjust(l.recoveryRate, l.maxRPS)
		return
	}
	if errors.Is(err, ErrRateLimited) {
		l.mu.Lock()
		newRPS := l.currentRPS * 0.5
		l.mu.Unlock()
		l.adjust(newRPS-l.currentRPS, l.minRPS)
	}
}

func (l *AdaptiveRateLimiter) adjust(delta, bound float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	newRPS := l.currentRPS + delta
	if delta >= 0 && newRPS > bound {
		newRPS = bound
	}
	if delta < 0 && newRPS < bound {
		newRPS = bound
	}
	if newRPS == l.currentRPS {
		return
	}
	l.currentRPS = newRPS
	l.limiter.SetLimit(rate.Limit(newRPS))
}
