// Package cache holds the credential-validation result cache. Remote
// validation of provider credentials is slow and rate-limited, so its
// outcome is cached for a short TTL; execution contexts are ephemeral,
// so deployments share results through Redis, while tests and dev runs
// use the in-process implementation.
package cache

import (
	"context"
	"sync"
	"time"
)

// ValidationCache stores recent credential-validation verdicts.
type ValidationCache interface {
	// Get returns (verdict, found). A missing or expired entry is not
	// an error; the caller revalidates.
	Get(ctx context.Context, key string) (bool, bool, error)
	Set(ctx context.Context, key string, valid bool, ttl time.Duration) error
}

type memoryEntry struct {
	valid   bool
	expires time.Time
}

// Memory is a process-local ValidationCache.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return false, false, nil
	}
	if m.now().After(e.expires) {
		delete(m.entries, key)
		return false, false, nil
	}
	return e.valid, true, nil
}

func (m *Memory) Set(_ context.Context, key string, valid bool, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{valid: valid, expires: m.now().Add(ttl)}
	return nil
}
