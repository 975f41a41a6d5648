package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	// APIKeys maps a bearer token to the user it acts as.
	APIKeys map[string]string

	// PublicBaseURL is the externally reachable base the telephony
	// provider uses to call our webhooks back.
	PublicBaseURL string

	// DatabaseURL selects the PostgreSQL store; empty falls back to the
	// in-memory store (development only).
	DatabaseURL string
	// RedisAddr selects the Redis validation cache; empty falls back to
	// the in-process cache.
	RedisAddr string

	// Platform-level Twilio account used for bridged agent calls when
	// the user has not connected their own account.
	PlatformTwilioAccountSID string
	PlatformTwilioAuthToken  string
	PlatformTwilioFromNumber string
	AgentPhoneNumberID       string

	WorkOSAPIKey    string
	StripeAPIKey    string
	StripeMeterName string
	GeminiAPIKey    string
	GeminiModel     string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Call pipeline timing.
	DispatchTimeout    time.Duration
	StatusTimeout      time.Duration
	PollInterval       time.Duration
	PollCeiling        time.Duration
	CredentialCacheTTL time.Duration

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	// Operational defaults
	MaxBodyBytes        int64
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("DIALWIRE_ADDR", ":8080"),
		AuthMode:                   AuthMode(envOr("DIALWIRE_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                    make(map[string]string),
		PublicBaseURL:              strings.TrimRight(envOr("DIALWIRE_PUBLIC_BASE_URL", ""), "/"),
		DatabaseURL:                envOr("DIALWIRE_DATABASE_URL", ""),
		RedisAddr:                  envOr("DIALWIRE_REDIS_ADDR", ""),
		PlatformTwilioAccountSID:   envOr("DIALWIRE_TWILIO_ACCOUNT_SID", ""),
		PlatformTwilioAuthToken:    envOr("DIALWIRE_TWILIO_AUTH_TOKEN", ""),
		PlatformTwilioFromNumber:   envOr("DIALWIRE_TWILIO_FROM_NUMBER", ""),
		AgentPhoneNumberID:         envOr("DIALWIRE_AGENT_PHONE_NUMBER_ID", ""),
		WorkOSAPIKey:               envOr("DIALWIRE_WORKOS_API_KEY", ""),
		StripeAPIKey:               envOr("DIALWIRE_STRIPE_API_KEY", ""),
		StripeMeterName:            envOr("DIALWIRE_STRIPE_METER_NAME", "outbound_call_cost"),
		GeminiAPIKey:               envOr("DIALWIRE_GEMINI_API_KEY", ""),
		GeminiModel:                envOr("DIALWIRE_GEMINI_MODEL", "gemini-2.0-flash"),
		CORSAllowedOrigins:         make(map[string]struct{}),
		DispatchTimeout:            envDurationOr("DIALWIRE_DISPATCH_TIMEOUT", 30*time.Second),
		StatusTimeout:              envDurationOr("DIALWIRE_STATUS_TIMEOUT", 15*time.Second),
		PollInterval:               envDurationOr("DIALWIRE_POLL_INTERVAL", 5*time.Second),
		PollCeiling:                envDurationOr("DIALWIRE_POLL_CEILING", 3*time.Minute),
		CredentialCacheTTL:         envDurationOr("DIALWIRE_CREDENTIAL_CACHE_TTL", 5*time.Minute),
		LimitRPS:                   envFloat64Or("DIALWIRE_RATE_LIMIT_RPS", 5.0),
		LimitBurst:                 envIntOr("DIALWIRE_RATE_LIMIT_BURST", 10),
		LimitMaxConcurrentRequests: envIntOr("DIALWIRE_MAX_CONCURRENT_REQUESTS", 50),
		MaxBodyBytes:               envInt64Or("DIALWIRE_MAX_BODY_BYTES", 1<<20), // 1 MiB
		ReadHeaderTimeout:          envDurationOr("DIALWIRE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("DIALWIRE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:        envDurationOr("DIALWIRE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("DIALWIRE_AUTH_MODE must be one of required|disabled")
	}

	// Each entry is token:user_id.
	for _, pair := range splitCSV(os.Getenv("DIALWIRE_API_KEYS")) {
		token, userID, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(token) == "" || strings.TrimSpace(userID) == "" {
			return Config{}, fmt.Errorf("DIALWIRE_API_KEYS entries must be token:user_id")
		}
		cfg.APIKeys[strings.TrimSpace(token)] = strings.TrimSpace(userID)
	}

	for _, origin := range splitCSV(os.Getenv("DIALWIRE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.PublicBaseURL == "" {
		return Config{}, fmt.Errorf("DIALWIRE_PUBLIC_BASE_URL must be set")
	}
	if !strings.HasPrefix(cfg.PublicBaseURL, "http://") && !strings.HasPrefix(cfg.PublicBaseURL, "https://") {
		return Config{}, fmt.Errorf("DIALWIRE_PUBLIC_BASE_URL must be an http(s) URL")
	}
	if cfg.DispatchTimeout <= 0 {
		return Config{}, fmt.Errorf("DIALWIRE_DISPATCH_TIMEOUT must be > 0")
	}
	if cfg.StatusTimeout <= 0 {
		return Config{}, fmt.Errorf("DIALWIRE_STATUS_TIMEOUT must be > 0")
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("DIALWIRE_POLL_INTERVAL must be > 0")
	}
	if cfg.PollCeiling < cfg.PollInterval {
		return Config{}, fmt.Errorf("DIALWIRE_POLL_CEILING must be >= DIALWIRE_POLL_INTERVAL")
	}
	if cfg.CredentialCacheTTL <= 0 {
		return Config{}, fmt.Errorf("DIALWIRE_CREDENTIAL_CACHE_TTL must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("DIALWIRE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("DIALWIRE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("DIALWIRE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("DIALWIRE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("DIALWIRE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("DIALWIRE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("DIALWIRE_MAX_CONCURRENT_REQUESTS must be >= 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("DIALWIRE_API_KEYS must be set when DIALWIRE_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
