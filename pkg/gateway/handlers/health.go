package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dialwire/dialwire/pkg/gateway/config"
	"github.com/dialwire/dialwire/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		AuthMode      string   `json:"auth_mode"`
		Store         string   `json:"store"`
		Cache         string   `json:"cache"`
		LimitsEnabled bool     `json:"limits_enabled"`
		LiveCalls     int64    `json:"live_calls"`
		Draining      bool     `json:"draining,omitempty"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.PublicBaseURL == "" {
		issues = append(issues, "public_base_url not set")
	}
	if h.Config.DispatchTimeout <= 0 || h.Config.StatusTimeout <= 0 {
		issues = append(issues, "call timeouts must be > 0")
	}
	if h.Config.PollInterval <= 0 || h.Config.PollCeiling < h.Config.PollInterval {
		issues = append(issues, "poll interval/ceiling misconfigured")
	}

	storeKind := "memory"
	if h.Config.DatabaseURL != "" {
		storeKind = "postgres"
	}
	cacheKind := "memory"
	if h.Config.RedisAddr != "" {
		cacheKind = "redis"
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:            ok,
		AuthMode:      string(h.Config.AuthMode),
		Store:         storeKind,
		Cache:         cacheKind,
		LimitsEnabled: h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0,
		LiveCalls:     h.Lifecycle.LiveCalls(),
		Draining:      draining,
		Issues:        issues,
	})
}
