// Package server wires the HTTP surface: routes, middleware chain, and
// the orchestrator with its provider clients and stores.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dialwire/dialwire/pkg/cache"
	"github.com/dialwire/dialwire/pkg/core/providers/elevenlabs"
	"github.com/dialwire/dialwire/pkg/core/providers/twilio"
	"github.com/dialwire/dialwire/pkg/gateway/config"
	"github.com/dialwire/dialwire/pkg/gateway/handlers"
	"github.com/dialwire/dialwire/pkg/gateway/lifecycle"
	"github.com/dialwire/dialwire/pkg/gateway/mw"
	"github.com/dialwire/dialwire/pkg/gateway/ratelimit"
	"github.com/dialwire/dialwire/pkg/orchestrator"
	"github.com/dialwire/dialwire/pkg/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	orch      *orchestrator.Orchestrator
	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle

	// trackBase outlives individual requests so status polling keeps
	// running after the dispatch response is written; cancelled on
	// shutdown.
	trackBase context.Context
}

// Options carries the injectable pieces the command layer assembles.
type Options struct {
	Store store.Store
	Cache cache.ValidationCache
	// TrackBase bounds post-dispatch polling goroutines.
	TrackBase context.Context
	Lifecycle *lifecycle.Lifecycle

	// Orchestrator option hooks (identity, billing, summarizer).
	OrchestratorOpts []orchestrator.Option
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.TrackBase == nil {
		opts.TrackBase = context.Background()
	}
	if opts.Lifecycle == nil {
		opts.Lifecycle = &lifecycle.Lifecycle{}
	}

	orch := orchestrator.New(
		opts.Store,
		opts.Cache,
		func(accountSID, authToken string) orchestrator.Telephony {
			return twilio.New(accountSID, authToken)
		},
		func(apiKey string) orchestrator.Conversation {
			return elevenlabs.New(apiKey)
		},
		orchestrator.Config{
			PublicBaseURL:            cfg.PublicBaseURL,
			PlatformTwilioAccountSID: cfg.PlatformTwilioAccountSID,
			PlatformTwilioAuthToken:  cfg.PlatformTwilioAuthToken,
			PlatformTwilioFromNumber: cfg.PlatformTwilioFromNumber,
			AgentPhoneNumberID:       cfg.AgentPhoneNumberID,
			DispatchTimeout:          cfg.DispatchTimeout,
			StatusTimeout:            cfg.StatusTimeout,
			PollInterval:             cfg.PollInterval,
			PollCeiling:              cfg.PollCeiling,
			CredentialCacheTTL:       cfg.CredentialCacheTTL,
		},
		logger,
		opts.OrchestratorOpts...,
	)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		orch:   orch,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
		}),
		lifecycle: opts.Lifecycle,
		trackBase: opts.TrackBase,
	}

	s.routes()
	return s
}

// Orchestrator exposes the assembled orchestrator (command layer and
// tests).
func (s *Server) Orchestrator() *orchestrator.Orchestrator {
	return s.orch
}

// startTracking runs status polling for a dispatched call, counted so
// readiness can report calls still in flight.
func (s *Server) startTracking(logID string) {
	s.lifecycle.CallStarted()
	go func() {
		defer s.lifecycle.CallFinished()
		s.orch.Track(s.trackBase, logID)
	}()
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})

	s.mux.Handle("POST /v1/calls", handlers.DispatchHandler{
		Orchestrator:  s.orch,
		Logger:        s.logger,
		TrackBase:     s.trackBase,
		StartTracking: s.startTracking,
	})
	s.mux.Handle("GET /v1/calls", handlers.ListCallsHandler{Orchestrator: s.orch})
	s.mux.Handle("GET /v1/calls/{sid}", handlers.CallStatusHandler{Orchestrator: s.orch})
	s.mux.Handle("DELETE /v1/calls/{sid}", handlers.TerminateHandler{Orchestrator: s.orch})
	// POST alias for DELETE-averse clients: /v1/calls/{sid}:end.
	s.mux.Handle("POST /v1/calls/{sid}", handlers.TerminateHandler{Orchestrator: s.orch})

	s.mux.Handle("POST /v1/credentials/validate", handlers.ValidateCredentialsHandler{Orchestrator: s.orch})

	s.mux.Handle("POST /v1/webhooks/answer/{logID}", handlers.AnswerHandler{
		Orchestrator:  s.orch,
		Logger:        s.logger,
		PublicBaseURL: s.cfg.PublicBaseURL,
	})
	s.mux.Handle("POST /v1/webhooks/speech/{logID}", handlers.SpeechHandler{
		Orchestrator: s.orch,
		Logger:       s.logger,
	})
	s.mux.Handle("POST /v1/webhooks/status/{logID}", handlers.StatusHandler{
		Orchestrator: s.orch,
		Logger:       s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.MaxBody(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
