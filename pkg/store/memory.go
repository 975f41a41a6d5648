package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dialwire/dialwire/pkg/core/call"
)

// Memory is an in-process Store used by tests and single-node dev runs.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	prospect map[string]Prospect
	configs  map[string]AgentConfig
	sessions map[string]*call.Session // by LogID
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]Profile),
		prospect: make(map[string]Prospect),
		configs:  make(map[string]AgentConfig),
		sessions: make(map[string]*call.Session),
	}
}

// PutProfile seeds a profile.
func (m *Memory) PutProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
}

// PutProspect seeds a prospect.
func (m *Memory) PutProspect(p Prospect) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prospect[p.ID] = p
}

// PutAgentConfig seeds an agent configuration.
func (m *Memory) PutAgentConfig(c AgentConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[c.ID] = c
}

func (m *Memory) Profile(_ context.Context, userID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) Prospect(_ context.Context, id string) (Prospect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prospect[id]
	if !ok {
		return Prospect{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) SetProspectStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prospect[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	m.prospect[id] = p
	return nil
}

func (m *Memory) AgentConfig(_ context.Context, id string) (AgentConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[id]
	if !ok {
		return AgentConfig{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) CreateSession(_ context.Context, s *call.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Active() {
		for _, existing := range m.sessions {
			if existing.UserID == s.UserID && existing.Active() {
				return ErrActiveConflict
			}
		}
	}
	m.sessions[s.LogID] = cloneSession(s)
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s *call.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.LogID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.LogID] = cloneSession(s)
	return nil
}

func (m *Memory) SessionByLogID(_ context.Context, logID string) (*call.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[logID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *Memory) SessionBySID(_ context.Context, callSID string) (*call.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.CallSID == callSID && callSID != "" {
			return cloneSession(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ActiveSession(_ context.Context, userID string) (*call.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.UserID == userID && s.Active() {
			return cloneSession(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListSessions(_ context.Context, userID string, limit int) ([]*call.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*call.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InitiatedAt.After(out[j].InitiatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneSession(s *call.Session) *call.Session {
	cp := *s
	if s.EndedAt != nil {
		at := *s.EndedAt
		cp.EndedAt = &at
	}
	if s.Transcript != nil {
		cp.Transcript = append([]call.Utterance(nil), s.Transcript...)
	}
	if s.Extracted != nil {
		cp.Extracted = make(map[string]string, len(s.Extracted))
		for k, v := range s.Extracted {
			cp.Extracted[k] = v
		}
	}
	return &cp
}
