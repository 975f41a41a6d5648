package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/dialwire/dialwire/pkg/core"
	"github.com/dialwire/dialwire/pkg/store"
)

// Intent is the caller-supplied description of a call to place.
type Intent struct {
	UserID        string
	ProspectID    string
	AgentConfigID string
	Path          Path

	// Optional per-call overrides of the agent configuration.
	FirstMessage string
	Prompt       string
	VoiceID      string
	// ConversationAgentID overrides the configured provider-side agent.
	ConversationAgentID string
}

// Request is a fully resolved, dispatch-ready call. Everything needed
// to place the call is denormalized here so dispatch touches no stores.
type Request struct {
	Intent      Intent
	Credentials Credentials

	ToNumber     string
	ProspectName string

	AgentID      string
	FirstMessage string
	Prompt       string
	VoiceID      string

	// DynamicVariables substituted into conversation agent templates.
	DynamicVariables map[string]string
}

// BuildRequest resolves prospect, agent configuration, and credentials
// into a Request. All rejections here happen before any provider call.
func (o *Orchestrator) BuildRequest(ctx context.Context, intent Intent) (Request, error) {
	if intent.UserID == "" {
		return Request{}, core.NewInvalidRequestErrorWithParam("user id is required", "user_id")
	}
	if intent.Path == "" {
		intent.Path = PathBridged
	}
	if _, ok := ParsePath(string(intent.Path)); !ok {
		return Request{}, core.NewInvalidRequestErrorWithParam("unknown call path", "path")
	}

	prospect, err := o.store.Prospect(ctx, intent.ProspectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Request{}, core.NewNotFoundError(core.CodeProspectNotFound, "prospect not found")
		}
		return Request{}, core.NewProviderError(core.CodeCallLogError, "failed to load prospect", err)
	}
	if prospect.UserID != intent.UserID {
		return Request{}, core.NewNotFoundError(core.CodeProspectNotFound, "prospect not found")
	}

	to, err := NormalizeNumber(prospect.Phone)
	if err != nil {
		return Request{}, err
	}

	var agent store.AgentConfig
	if intent.AgentConfigID != "" {
		agent, err = o.store.AgentConfig(ctx, intent.AgentConfigID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Request{}, core.NewNotFoundError(core.CodeConfigNotFound, "agent configuration not found")
			}
			return Request{}, core.NewProviderError(core.CodeCallLogError, "failed to load agent configuration", err)
		}
		if agent.UserID != intent.UserID {
			return Request{}, core.NewNotFoundError(core.CodeConfigNotFound, "agent configuration not found")
		}
	} else if intent.Path == PathBridged {
		return Request{}, core.NewInvalidRequestErrorWithParam("agent configuration id is required for agent calls", "agent_config_id")
	}

	creds, err := o.ResolveCredentials(ctx, intent.UserID, intent.Path)
	if err != nil {
		return Request{}, err
	}

	req := Request{
		Intent:       intent,
		Credentials:  creds,
		ToNumber:     to,
		ProspectName: prospect.Name,
		AgentID:      firstNonEmpty(intent.ConversationAgentID, agent.ConversationAgentID),
		FirstMessage: firstNonEmpty(intent.FirstMessage, agent.Greeting),
		Prompt:       firstNonEmpty(intent.Prompt, agent.Persona),
		VoiceID:      firstNonEmpty(intent.VoiceID, agent.VoiceID),
		DynamicVariables: map[string]string{
			"prospect_name":  prospect.Name,
			"prospect_phone": to,
		},
	}

	// Caller display name is a nicety for the agent's templates; an
	// identity lookup failure never blocks the call.
	if o.identity != nil {
		if name, err := o.identity.DisplayName(ctx, intent.UserID); err == nil && name != "" {
			req.DynamicVariables["user_name"] = name
		} else if err != nil {
			o.logger.Warn("identity lookup failed", "user_id", intent.UserID, "error", err)
		}
	}
	return req, nil
}

// NormalizeNumber coerces a phone number to E.164-ish form: strip
// separators, then require a leading + with 8 to 15 digits. Bare
// 10-digit NANP numbers get +1 prepended.
func NormalizeNumber(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if cleaned == "" {
		return "", core.NewPreconditionError(core.CodeMissingPhoneNumber, "prospect has no phone number")
	}

	digits := cleaned
	if strings.HasPrefix(digits, "+") {
		digits = digits[1:]
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", core.NewInvalidRequestErrorWithParam("phone number contains non-digit characters", "phone")
		}
	}

	switch {
	case strings.HasPrefix(cleaned, "+"):
		if len(digits) < 8 || len(digits) > 15 {
			return "", core.NewInvalidRequestErrorWithParam("phone number must have 8 to 15 digits", "phone")
		}
		return cleaned, nil
	case len(digits) == 10:
		return "+1" + digits, nil
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits, nil
	default:
		return "", core.NewInvalidRequestErrorWithParam("phone number must be in international format", "phone")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
