package fetch

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// ExponentialRetryPolicy decides retry eligibility with jittered backoff.
type ExponentialRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewExponentialRetryPolicy builds a policy. maxRetries counts retries
// after the first attempt, so a value of 3 allows 4 attempts total.
func NewExponentialRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &ExponentialRetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// ShouldRetry decides whether the error is retryable after the given
// number of completed retries.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, retries int) bool {
	if err == nil {
		return false
	}
	if retries >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(retries int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(retries))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
