// Package backoff computes retry delays for transient provider failures.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines exponential backoff parameters.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Factor is the multiplier applied per attempt.
	Factor float64

	// Jitter is the randomization fraction (0.0 to 1.0) added on top of
	// the base delay.
	Jitter float64
}

// ProviderPolicy returns the policy used for LLM request retries.
// 1s initial, doubling, capped at 30s, 10% jitter.
func ProviderPolicy(initial time.Duration) Policy {
	if initial <= 0 {
		initial = time.Second
	}
	return Policy{
		Initial: initial,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay computes the delay for the given attempt. Attempts are 1-indexed;
// attempt 1 sleeps for roughly Initial.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64())
}

func (p Policy) delayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * randomValue

	total := base + jitter
	if max := float64(p.Max); p.Max > 0 && total > max {
		total = max
	}
	return time.Duration(total)
}

// Sleep waits out the delay for attempt, honoring context cancellation.
func Sleep(ctx context.Context, p Policy, attempt int) error {
	delay := p.Delay(attempt)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
