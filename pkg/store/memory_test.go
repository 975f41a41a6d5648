package store

import (
	"context"
	"testing"
	"time"

	"github.com/dialwire/dialwire/pkg/core/call"
)

func TestMemory_ActiveSessionGuard(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.ActiveSession(ctx, "u1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	s := &call.Session{LogID: "lg_1", UserID: "u1", Status: call.StatusInitiated, InitiatedAt: time.Now()}
	if err := m.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := m.ActiveSession(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if got.LogID != "lg_1" {
		t.Fatalf("active session = %q", got.LogID)
	}

	// Terminal status releases the guard.
	if err := got.ApplyStatus(call.StatusCompleted, time.Now()); err != nil {
		t.Fatalf("ApplyStatus: %v", err)
	}
	if err := m.UpdateSession(ctx, got); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if _, err := m.ActiveSession(ctx, "u1"); err != ErrNotFound {
		t.Fatalf("guard should be clear after terminal status, got %v", err)
	}
}

func TestMemory_SessionClonesAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := &call.Session{LogID: "lg_1", UserID: "u1", Status: call.StatusInitiated}
	if err := m.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := m.SessionByLogID(ctx, "lg_1")
	if err != nil {
		t.Fatalf("SessionByLogID: %v", err)
	}
	got.Append(call.RoleCaller, "mutating a copy", time.Now())

	again, err := m.SessionByLogID(ctx, "lg_1")
	if err != nil {
		t.Fatalf("SessionByLogID: %v", err)
	}
	if len(again.Transcript) != 0 {
		t.Fatalf("store copy was mutated through a read: %+v", again.Transcript)
	}
}

func TestMemory_ListSessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"lg_a", "lg_b", "lg_c"} {
		s := &call.Session{LogID: id, UserID: "u1", Status: call.StatusCompleted, InitiatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := m.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	got, err := m.ListSessions(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 2 || got[0].LogID != "lg_c" || got[1].LogID != "lg_b" {
		t.Fatalf("unexpected order: %v, %v", got[0].LogID, got[1].LogID)
	}
}

func TestMemory_SetProspectStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutProspect(Prospect{ID: "p1", UserID: "u1", Name: "Dana", Phone: "+15551234567", Status: "New"})

	if err := m.SetProspectStatus(ctx, "p1", "Completed"); err != nil {
		t.Fatalf("SetProspectStatus: %v", err)
	}
	p, err := m.Prospect(ctx, "p1")
	if err != nil {
		t.Fatalf("Prospect: %v", err)
	}
	if p.Status != "Completed" {
		t.Fatalf("status = %q", p.Status)
	}

	if err := m.SetProspectStatus(ctx, "nope", "Completed"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
