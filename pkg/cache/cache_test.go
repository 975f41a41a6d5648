package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, found, err := m.Get(ctx, "k"); err != nil || found {
		t.Fatalf("empty cache: found=%v err=%v", found, err)
	}

	if err := m.Set(ctx, "k", true, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	valid, found, err := m.Get(ctx, "k")
	if err != nil || !found || !valid {
		t.Fatalf("Get = %v/%v/%v", valid, found, err)
	}
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if err := m.Set(ctx, "k", false, 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if valid, found, _ := m.Get(ctx, "k"); !found || valid {
		t.Fatalf("fresh entry: valid=%v found=%v", valid, found)
	}

	now = now.Add(6 * time.Minute)
	if _, found, _ := m.Get(ctx, "k"); found {
		t.Fatalf("expired entry should not be returned")
	}
}
