// Package ratelimit applies per-principal request limits: a token
// bucket for rate plus a semaphore for concurrent requests. State is
// in-memory and single-process; webhook traffic never passes through
// here.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int

	// Bounds on the per-principal state map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket is one principal's limiter state: continuously refilled
// tokens for rate, a channel semaphore for concurrency.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	refilled time.Time

	inflight chan struct{}

	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// PrincipalKeyFromAPIKey derives a stable map key without holding the
// raw credential in memory.
func PrincipalKeyFromAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "k_" + hex.EncodeToString(sum[:16])
}

// Permit holds a concurrency slot until released. Release is
// idempotent.
type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	if principal == "" {
		principal = "anonymous"
	}
	b := l.bucketFor(principal, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		if retryAfter, ok := b.takeToken(now, l.cfg.RPS, l.cfg.Burst); !ok {
			return Decision{RetryAfter: retryAfter}
		}
	}

	if l.cfg.MaxConcurrentRequests > 0 {
		select {
		case b.inflight <- struct{}{}:
			return Decision{Allowed: true, Permit: &Permit{release: func() { <-b.inflight }}}
		default:
			return Decision{RetryAfter: 1}
		}
	}
	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

func (l *Limiter) bucketFor(principal string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[principal]; ok {
		b.lastSeen = now
		return b
	}

	if len(l.buckets) >= l.cfg.MaxEntries {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.cfg.EntryTTL {
				delete(l.buckets, k)
			}
		}
		// Still full after expiry: evict an arbitrary entry. Bounded
		// memory matters more than fairness to the evicted key.
		if len(l.buckets) >= l.cfg.MaxEntries {
			for k := range l.buckets {
				delete(l.buckets, k)
				break
			}
		}
	}

	b := &bucket{
		tokens:   float64(l.cfg.Burst),
		refilled: now,
		inflight: make(chan struct{}, max(1, l.cfg.MaxConcurrentRequests)),
		lastSeen: now,
	}
	l.buckets[principal] = b
	return b
}

// takeToken refills by elapsed time and spends one token. On refusal
// it returns the whole seconds until a token is available.
func (b *bucket) takeToken(now time.Time, rps float64, burst int) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := float64(burst)
	if elapsed := now.Sub(b.refilled).Seconds(); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*rps)
		b.refilled = now
	}
	if b.tokens > capacity {
		b.tokens = capacity
	}

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	wait := int(math.Ceil((1 - b.tokens) / rps))
	return max(wait, 1), false
}
