// Package store defines the persistence boundary of the call
// orchestrator: user profiles (provider credentials), prospects, agent
// configurations, and call session logs. Implementations: an in-memory
// store for tests and single-process development, and a Postgres store
// for deployments.
package store

import (
	"context"
	"errors"

	"github.com/dialwire/dialwire/pkg/core/call"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrActiveConflict is returned by CreateSession when the user already
// holds a non-terminal session. Implementations must enforce this
// atomically so two racing dispatches cannot both succeed.
var ErrActiveConflict = errors.New("store: user already has an active session")

// Profile holds a user's provider credentials and billing linkage.
type Profile struct {
	UserID           string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	ElevenLabsAPIKey string
	StripeCustomerID string
}

// Prospect is a callable contact owned by a user.
type Prospect struct {
	ID     string
	UserID string
	Name   string
	Phone  string
	Status string
}

// AgentConfig is a saved conversational agent configuration.
type AgentConfig struct {
	ID                  string
	UserID              string
	Name                string
	VoiceID             string
	ConversationAgentID string
	Greeting            string
	Persona             string
}

// ProfileStore reads user profiles.
type ProfileStore interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

// ProspectStore reads prospects and records call outcomes on them.
type ProspectStore interface {
	Prospect(ctx context.Context, id string) (Prospect, error)
	SetProspectStatus(ctx context.Context, id, status string) error
}

// AgentConfigStore reads agent configurations.
type AgentConfigStore interface {
	AgentConfig(ctx context.Context, id string) (AgentConfig, error)
}

// CallLogStore owns call sessions. A user's in-flight guard is the
// existence of a non-terminal session, exposed via ActiveSession; there
// is deliberately no separate guard record to drift from.
type CallLogStore interface {
	CreateSession(ctx context.Context, s *call.Session) error
	UpdateSession(ctx context.Context, s *call.Session) error
	SessionByLogID(ctx context.Context, logID string) (*call.Session, error)
	SessionBySID(ctx context.Context, callSID string) (*call.Session, error)
	// ActiveSession returns the user's non-terminal session, or
	// ErrNotFound when the user has no call in flight.
	ActiveSession(ctx context.Context, userID string) (*call.Session, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]*call.Session, error)
}

// Store bundles the four record stores behind one value.
type Store interface {
	ProfileStore
	ProspectStore
	AgentConfigStore
	CallLogStore
}
