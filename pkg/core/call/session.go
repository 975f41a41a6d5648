package call

import (
	"errors"
	"time"
)

// ErrTerminal is returned when a status write would move a session out
// of a terminal state. Idempotent writes into the same terminal state
// are not an error.
var ErrTerminal = errors.New("call: session already terminal")

// Speaker roles for transcript entries.
const (
	RoleAgent  = "agent"
	RoleCaller = "caller"
)

// Utterance is one speaker-tagged line of the call transcript.
type Utterance struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is the canonical record of one outbound call attempt. It is
// identified both by an internally generated LogID and, once dispatch
// succeeds, by the provider-issued CallSID. A session with a
// non-terminal status IS the in-flight guard for its user: the stores
// expose an ActiveSession lookup rather than a separate counter.
type Session struct {
	LogID         string
	CallSID       string
	UserID        string
	ProspectID    string
	AgentConfigID string

	// Path records which provider combination placed the call.
	Path string
	// ConversationID is set on conversation-provider-bridged calls.
	ConversationID string

	Status Status
	// Unconfirmed is set when status polling gave up at its ceiling
	// while the session was still non-terminal. The last known status
	// stands, flagged so the dashboard can prompt a manual re-check.
	Unconfirmed bool

	InitiatedAt time.Time
	EndedAt     *time.Time

	Transcript []Utterance
	Extracted  map[string]string
	Summary    string

	// Price is the provider-reported monetary cost, populated post-hoc.
	Price     string
	PriceUnit string
}

// ApplyStatus transitions the session to the given status at the given
// time. Terminal states are immutable: an identical terminal write is
// an idempotent no-op, any other write against a terminal session
// returns ErrTerminal.
func (s *Session) ApplyStatus(to Status, now time.Time) error {
	if s.Status.Terminal() {
		if to == s.Status {
			return nil
		}
		return ErrTerminal
	}
	s.Status = to
	if to.Terminal() {
		s.Unconfirmed = false
		if s.EndedAt == nil {
			at := now
			s.EndedAt = &at
		}
	}
	return nil
}

// Append adds an utterance to the transcript.
func (s *Session) Append(role, text string, at time.Time) {
	s.Transcript = append(s.Transcript, Utterance{Role: role, Text: text, At: at})
}

// Active reports whether the session still holds the in-flight guard.
func (s *Session) Active() bool {
	return !s.Status.Terminal()
}
