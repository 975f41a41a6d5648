// Package orchestrator implements the outbound call lifecycle: resolve
// credentials, build a normalized request, dispatch through a provider
// path, track status to a terminal state, allow early termination, and
// interpret the prospect's spoken response delivered by webhook.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dialwire/dialwire/pkg/cache"
	"github.com/dialwire/dialwire/pkg/core/call"
	"github.com/dialwire/dialwire/pkg/core/providers/elevenlabs"
	"github.com/dialwire/dialwire/pkg/core/providers/twilio"
	"github.com/dialwire/dialwire/pkg/core/summarize"
	"github.com/dialwire/dialwire/pkg/store"
)

// Path selects which combination of telephony and conversation
// back-ends places a call.
type Path string

const (
	// PathTelephony places the call through Twilio alone; the gateway's
	// webhook endpoints drive the conversation with TwiML.
	PathTelephony Path = "telephony"
	// PathBridged places the call through ElevenLabs conversational AI
	// bridged over Twilio.
	PathBridged Path = "telephony+conversation"
)

// ParsePath validates a provider path string.
func ParsePath(raw string) (Path, bool) {
	switch Path(raw) {
	case PathTelephony, PathBridged:
		return Path(raw), true
	}
	return "", false
}

// Telephony is the telephony provider surface the orchestrator uses.
type Telephony interface {
	Place(ctx context.Context, p twilio.PlaceParams) (string, error)
	Fetch(ctx context.Context, sid string) (twilio.CallState, error)
	Complete(ctx context.Context, sid string) error
}

// Conversation is the conversation provider surface.
type Conversation interface {
	StartOutboundCall(ctx context.Context, req elevenlabs.OutboundCallRequest) (elevenlabs.OutboundCallResult, error)
	ValidateKey(ctx context.Context) error
}

// TelephonyFactory builds a telephony client for one user's credentials.
type TelephonyFactory func(accountSID, authToken string) Telephony

// ConversationFactory builds a conversation client for one API key.
type ConversationFactory func(apiKey string) Conversation

// IdentityResolver supplies display names for acting users (optional;
// used to fill dynamic conversation variables).
type IdentityResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Config carries the orchestrator's operating knobs.
type Config struct {
	// PublicBaseURL is the externally reachable base for webhook URLs.
	PublicBaseURL string

	// Platform-level telephony credentials used on the bridged path
	// when the user has not supplied their own.
	PlatformTwilioAccountSID string
	PlatformTwilioAuthToken  string
	PlatformTwilioFromNumber string

	// AgentPhoneNumberID is the conversation provider's registered
	// outbound number for bridged calls.
	AgentPhoneNumberID string

	DispatchTimeout    time.Duration
	StatusTimeout      time.Duration
	PollInterval       time.Duration
	PollCeiling        time.Duration
	CredentialCacheTTL time.Duration
	// CredentialFetchAttempts bounds retries of transient profile-store
	// failures (total attempts, not extra retries).
	CredentialFetchAttempts uint64
}

func (c *Config) applyDefaults() {
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 30 * time.Second
	}
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = 15 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollCeiling <= 0 {
		c.PollCeiling = 3 * time.Minute
	}
	if c.CredentialCacheTTL <= 0 {
		c.CredentialCacheTTL = 5 * time.Minute
	}
	if c.CredentialFetchAttempts == 0 {
		c.CredentialFetchAttempts = 3
	}
}

// Orchestrator coordinates one user-facing call pipeline over the
// stores and provider clients.
type Orchestrator struct {
	store        store.Store
	validCache   cache.ValidationCache
	telephony    TelephonyFactory
	conversation ConversationFactory
	identity     IdentityResolver
	summarizer   summarize.Summarizer
	logger       *slog.Logger
	cfg          Config

	// OnTerminal runs when a session is first observed terminal (e.g.
	// cost metering). Best effort; failures are logged, never surfaced.
	onTerminal func(ctx context.Context, s *call.Session)

	now      func() time.Time
	newLogID func() string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithIdentity wires an identity resolver for dynamic variables.
func WithIdentity(r IdentityResolver) Option {
	return func(o *Orchestrator) { o.identity = r }
}

// WithSummarizer overrides the post-call summarizer.
func WithSummarizer(s summarize.Summarizer) Option {
	return func(o *Orchestrator) { o.summarizer = s }
}

// WithTerminalHook registers a callback for terminal transitions.
func WithTerminalHook(fn func(ctx context.Context, s *call.Session)) Option {
	return func(o *Orchestrator) { o.onTerminal = fn }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New assembles an Orchestrator.
func New(st store.Store, vc cache.ValidationCache, tf TelephonyFactory, cf ConversationFactory, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:        st,
		validCache:   vc,
		telephony:    tf,
		conversation: cf,
		summarizer:   summarize.Template{},
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
		newLogID:     func() string { return "lg_" + ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) fireTerminal(ctx context.Context, s *call.Session) {
	if o.onTerminal == nil {
		return
	}
	o.onTerminal(ctx, s)
}
