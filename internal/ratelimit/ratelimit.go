// Package ratelimit throttles outbound requests with token buckets.
// The web fetch tool keeps one bucket per host so an eager model cannot
// hammer a single site with back-to-back fetches.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a token bucket: it holds up to burst tokens and refills at
// rate tokens per second.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	rate       float64
	lastRefill time.Time
	now        func() time.Time
}

// NewBucket creates a full bucket.
func NewBucket(rate, burst float64) *Bucket {
	if burst < 1 {
		burst = 1
	}
	return &Bucket{
		tokens:     burst,
		burst:      burst,
		rate:       rate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now
}

// TryTake consumes one token if available.
func (b *Bucket) TryTake() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or the context ends.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		deficit := 1 - b.tokens
		wait := time.Duration(deficit / b.rate * float64(time.Second))
		b.mu.Unlock()

		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// maxHosts bounds the per-host map; beyond it, idle buckets are
// discarded arbitrarily.
const maxHosts = 256

// PerHost keeps an independent bucket per key.
type PerHost struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	rate    float64
	burst   float64
}

// NewPerHost creates a keyed limiter where each host gets a bucket of
// the given rate and burst.
func NewPerHost(rate, burst float64) *PerHost {
	return &PerHost{
		buckets: make(map[string]*Bucket),
		rate:    rate,
		burst:   burst,
	}
}

func (p *PerHost) bucket(host string) *Bucket {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[host]
	if !ok {
		if len(p.buckets) >= maxHosts {
			for k := range p.buckets {
				delete(p.buckets, k)
				break
			}
		}
		b = NewBucket(p.rate, p.burst)
		p.buckets[host] = b
	}
	return b
}

// Wait blocks until host's bucket yields a token or the context ends.
func (p *PerHost) Wait(ctx context.Context, host string) error {
	return p.bucket(host).Wait(ctx)
}
