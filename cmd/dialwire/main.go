// Command dialwire runs the outbound call gateway: HTTP API, webhook
// endpoints for the telephony provider, and background status polling.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dialwire/dialwire/internal/dotenv"
	"github.com/dialwire/dialwire/pkg/cache"
	"github.com/dialwire/dialwire/pkg/core/summarize"
	"github.com/dialwire/dialwire/pkg/gateway/billing"
	"github.com/dialwire/dialwire/pkg/gateway/config"
	"github.com/dialwire/dialwire/pkg/gateway/identity"
	"github.com/dialwire/dialwire/pkg/gateway/lifecycle"
	gatewayserver "github.com/dialwire/dialwire/pkg/gateway/server"
	"github.com/dialwire/dialwire/pkg/orchestrator"
	"github.com/dialwire/dialwire/pkg/store"
	"github.com/dialwire/dialwire/pkg/store/postgres"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error)
	openCache    func(cfg config.Config) (cache.ValidationCache, func(), error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  openStore,
		openCache:  openCache,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// openStore picks PostgreSQL when a DSN is configured and falls back
// to the in-memory store for development.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	st, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return st, st.Close, nil
}

func openCache(cfg config.Config) (cache.ValidationCache, func(), error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemory(), func() {}, nil
	}
	c := cache.NewRedis(cfg.RedisAddr)
	return c, func() { _ = c.Close() }, nil
}

// orchestratorOpts wires the optional integrations: WorkOS display
// names, Stripe usage metering, and Gemini call summaries. Each one is
// skipped when its key is absent.
func orchestratorOpts(ctx context.Context, cfg config.Config, st store.Store, logger *slog.Logger) ([]orchestrator.Option, error) {
	var opts []orchestrator.Option

	if cfg.WorkOSAPIKey != "" {
		opts = append(opts, orchestrator.WithIdentity(identity.NewWorkOS(cfg.WorkOSAPIKey)))
	}
	if cfg.StripeAPIKey != "" {
		meter := billing.NewMeter(cfg.StripeAPIKey, cfg.StripeMeterName, st, logger)
		opts = append(opts, orchestrator.WithTerminalHook(meter.RecordTerminal))
	}
	if cfg.GeminiAPIKey != "" {
		g, err := summarize.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("init gemini summarizer: %w", err)
		}
		opts = append(opts, orchestrator.WithSummarizer(g))
	}
	return opts, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.openCache == nil {
		return errors.New("missing wiring dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, closeStore, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	vc, closeCache, err := deps.openCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	opts, err := orchestratorOpts(ctx, cfg, st, logger)
	if err != nil {
		return err
	}

	// trackBase outlives requests so status polling for in-flight calls
	// keeps running until shutdown.
	trackCtx, trackCancel := context.WithCancel(context.Background())
	defer trackCancel()

	lc := &lifecycle.Lifecycle{}
	gw := gatewayserver.New(cfg, logger, gatewayserver.Options{
		Store:            st,
		Cache:            vc,
		TrackBase:        trackCtx,
		Lifecycle:        lc,
		OrchestratorOpts: opts,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr, "auth_mode", cfg.AuthMode,
		"base_url", cfg.PublicBaseURL)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	lc.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Stop status polling last; in-flight calls keep settling while the
	// HTTP server drains.
	trackCancel()

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(stderr, nil))

	if err := dotenv.Load(); err != nil {
		fmt.Fprintf(stderr, "dialwire: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "dialwire: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
