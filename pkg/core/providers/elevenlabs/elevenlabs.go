// Package elevenlabs is a client for the ElevenLabs conversational AI
// API: starting a Twilio-bridged outbound call against a configured
// agent, validating an API key, and streaming conversation events over
// a websocket.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dialwire/dialwire/pkg/core"
)

const defaultBaseURL = "https://api.elevenlabs.io"

// Client talks to the ElevenLabs API with one user's key.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	wsBaseURL  string
}

// New creates a client for the given API key.
func New(apiKey string) *Client {
	return NewWithClient(apiKey, nil)
}

// NewWithClient creates a client with a caller-supplied http.Client.
func NewWithClient(apiKey string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: client,
		baseURL:    defaultBaseURL,
	}
}

// WithBaseURL overrides the HTTP API base (used by tests).
func (c *Client) WithBaseURL(base string) *Client {
	base = strings.TrimSpace(base)
	if base != "" {
		c.baseURL = strings.TrimSuffix(base, "/")
	}
	return c
}

// WithWSBaseURL overrides the websocket base for conversation streams.
func (c *Client) WithWSBaseURL(base string) *Client {
	base = strings.TrimSpace(base)
	if base != "" {
		c.wsBaseURL = base
	}
	return c
}

// OutboundCallRequest starts one agent-driven phone call.
type OutboundCallRequest struct {
	AgentID            string
	AgentPhoneNumberID string
	ToNumber           string
	// Overrides applied on top of the agent's saved configuration.
	FirstMessage string
	Prompt       string
	VoiceID      string
	// DynamicVariables are substituted into the agent's templates.
	DynamicVariables map[string]string
}

// OutboundCallResult identifies the started call on both sides of the
// bridge.
type OutboundCallResult struct {
	ConversationID string
	CallSID        string
}

type outboundCallBody struct {
	AgentID            string                  `json:"agent_id"`
	AgentPhoneNumberID string                  `json:"agent_phone_number_id,omitempty"`
	ToNumber           string                  `json:"to_number"`
	ConversationConfig *conversationInitConfig `json:"conversation_initiation_client_data,omitempty"`
}

type conversationInitConfig struct {
	ConversationOverride *conversationOverride `json:"conversation_config_override,omitempty"`
	DynamicVariables     map[string]string     `json:"dynamic_variables,omitempty"`
}

type conversationOverride struct {
	Agent *agentOverride `json:"agent,omitempty"`
	TTS   *ttsOverride   `json:"tts,omitempty"`
}

type agentOverride struct {
	FirstMessage string        `json:"first_message,omitempty"`
	Prompt       *promptConfig `json:"prompt,omitempty"`
}

type promptConfig struct {
	Prompt string `json:"prompt,omitempty"`
}

type ttsOverride struct {
	VoiceID string `json:"voice_id,omitempty"`
}

type outboundCallResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"callSid"`
}

// StartOutboundCall places a Twilio-bridged call through the configured
// conversational agent.
func (c *Client) StartOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if c.apiKey == "" {
		return OutboundCallResult{}, core.NewPreconditionError(core.CodeElevenLabsKeyMissing,
			"elevenlabs api key is required for the conversation provider path")
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return OutboundCallResult{}, core.NewInvalidRequestErrorWithParam("conversation agent id is required", "agent_id")
	}

	body := outboundCallBody{
		AgentID:            req.AgentID,
		AgentPhoneNumberID: req.AgentPhoneNumberID,
		ToNumber:           req.ToNumber,
	}
	if init := buildInitConfig(req); init != nil {
		body.ConversationConfig = init
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return OutboundCallResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/convai/twilio/outbound-call", bytes.NewReader(payload))
	if err != nil {
		return OutboundCallResult{}, err
	}
	httpReq.Header.Set("xi-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return OutboundCallResult{}, core.NewTimeoutError("elevenlabs request did not complete; outcome unknown, re-query status")
		}
		return OutboundCallResult{}, core.NewProviderError(core.CodeCallError, err.Error(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return OutboundCallResult{}, core.NewProviderError(core.CodeCallError, "reading provider response", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return OutboundCallResult{}, core.NewProviderError(core.CodeCredentialsInvalid,
			"elevenlabs rejected the api key", fmt.Errorf("status %d: %s", resp.StatusCode, raw))
	}
	if resp.StatusCode >= 400 {
		return OutboundCallResult{}, core.NewProviderError(core.CodeCallError,
			fmt.Sprintf("elevenlabs call failed with status %d", resp.StatusCode),
			fmt.Errorf("%s", raw))
	}

	var decoded outboundCallResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return OutboundCallResult{}, core.NewProviderError(core.CodeCallError, "decoding provider response", err)
	}
	if decoded.CallSID == "" && decoded.ConversationID == "" {
		return OutboundCallResult{}, core.NewProviderError(core.CodeCallError,
			"provider returned neither call sid nor conversation id", nil)
	}
	return OutboundCallResult{ConversationID: decoded.ConversationID, CallSID: decoded.CallSID}, nil
}

// ValidateKey performs one authenticated read against the API to verify
// the key. Results should be cached by the caller; this contacts the
// remote provider on every invocation.
func (c *Client) ValidateKey(ctx context.Context) error {
	if c.apiKey == "" {
		return core.NewPreconditionError(core.CodeElevenLabsKeyMissing, "elevenlabs api key is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/user", nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return core.NewTimeoutError("elevenlabs validation did not complete")
		}
		return core.NewProviderError(core.CodeCallError, err.Error(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return core.NewProviderError(core.CodeCredentialsInvalid, "elevenlabs rejected the api key", nil)
	}
	if resp.StatusCode >= 400 {
		return core.NewProviderError(core.CodeCallError,
			fmt.Sprintf("elevenlabs validation failed with status %d", resp.StatusCode), nil)
	}
	return nil
}

func buildInitConfig(req OutboundCallRequest) *conversationInitConfig {
	var override *conversationOverride
	if req.FirstMessage != "" || req.Prompt != "" {
		agent := &agentOverride{FirstMessage: req.FirstMessage}
		if req.Prompt != "" {
			agent.Prompt = &promptConfig{Prompt: req.Prompt}
		}
		override = &conversationOverride{Agent: agent}
	}
	if req.VoiceID != "" {
		if override == nil {
			override = &conversationOverride{}
		}
		override.TTS = &ttsOverride{VoiceID: req.VoiceID}
	}
	if override == nil && len(req.DynamicVariables) == 0 {
		return nil
	}
	return &conversationInitConfig{
		ConversationOverride: override,
		DynamicVariables:     req.DynamicVariables,
	}
}
