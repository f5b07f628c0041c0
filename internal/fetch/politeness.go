package fetch

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openlexbr/douflow/internal/metrics"
)

// Politeness spaces requests to the same host. Each wait enforces at
// least the minimum interval since the previous request and adds a
// random extra delay up to the configured maximum, so request timing
// never forms a fixed pattern.
type Politeness struct {
	min time.Duration
	max time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPoliteness builds a per-host politeness gate. A zero or negative
// minimum disables spacing entirely.
func NewPoliteness(min, max time.Duration) *Politeness {
	if max < min {
		max = min
	}
	return &Politeness{
		min:      min,
		max:      max,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host may be contacted again.
func (p *Politeness) Wait(ctx context.Context, host string) error {
	if p.min <= 0 {
		return nil
	}
	start := time.Now()
	if err := p.limiterFor(host).Wait(ctx); err != nil {
		return err
	}
	if extra := p.randomExtra(); extra > 0 {
		timer := time.NewTimer(extra)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	metrics.ObservePolitenessDelay(host, time.Since(start))
	return nil
}

func (p *Politeness) limiterFor(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	limiter, ok := p.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.min), 1)
		p.limiters[host] = limiter
	}
	return limiter
}

func (p *Politeness) randomExtra() time.Duration {
	span := p.max - p.min
	if span <= 0 {
		return 0
	}
	bound := big.NewInt(int64(span))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return span / 2
	}
	return time.Duration(n.Int64())
}
