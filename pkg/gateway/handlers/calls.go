package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dialwire/dialwire/pkg/core"
	"github.com/dialwire/dialwire/pkg/core/call"
	"github.com/dialwire/dialwire/pkg/gateway/auth"
	"github.com/dialwire/dialwire/pkg/gateway/mw"
	"github.com/dialwire/dialwire/pkg/orchestrator"
)

// dispatchRequest is the dashboard's call placement payload.
type dispatchRequest struct {
	ProspectID          string `json:"prospectId"`
	AgentConfigID       string `json:"agentConfigId"`
	UserID              string `json:"userId"`
	ProviderPath        string `json:"providerPath"`
	VoiceOverride       string `json:"voiceOverride"`
	ConversationAgentID string `json:"conversationAgentId"`
	FirstMessage        string `json:"firstMessage"`
	Prompt              string `json:"prompt"`
	DebugMode           bool   `json:"debugMode"`
	BypassValidation    bool   `json:"bypassValidation"`
}

type sessionView struct {
	CallLogID      string            `json:"callLogId"`
	CallSID        string            `json:"callSid,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	Status         string            `json:"status"`
	Unconfirmed    bool              `json:"unconfirmed,omitempty"`
	Path           string            `json:"path"`
	ProspectID     string            `json:"prospectId,omitempty"`
	InitiatedAt    string            `json:"initiatedAt"`
	EndedAt        string            `json:"endedAt,omitempty"`
	Transcript     []utteranceView   `json:"transcript,omitempty"`
	Extracted      map[string]string `json:"extracted,omitempty"`
	Summary        string            `json:"summary,omitempty"`
	Price          string            `json:"price,omitempty"`
	PriceUnit      string            `json:"priceUnit,omitempty"`
}

type utteranceView struct {
	Role string `json:"role"`
	Text string `json:"text"`
	At   string `json:"at"`
}

func viewOf(s *call.Session) sessionView {
	v := sessionView{
		CallLogID:      s.LogID,
		CallSID:        s.CallSID,
		ConversationID: s.ConversationID,
		Status:         string(s.Status),
		Unconfirmed:    s.Unconfirmed,
		Path:           s.Path,
		ProspectID:     s.ProspectID,
		InitiatedAt:    s.InitiatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Extracted:      s.Extracted,
		Summary:        s.Summary,
		Price:          s.Price,
		PriceUnit:      s.PriceUnit,
	}
	if s.EndedAt != nil {
		v.EndedAt = s.EndedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	for _, u := range s.Transcript {
		v.Transcript = append(v.Transcript, utteranceView{
			Role: u.Role,
			Text: u.Text,
			At:   u.At.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return v
}

// userIDFrom resolves the acting user: the authenticated principal
// wins; the body field only counts when auth is disabled (development).
func userIDFrom(r *http.Request, bodyUserID string) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p.UserID
	}
	return bodyUserID
}

// DispatchHandler places a call: POST /v1/calls.
type DispatchHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger

	// TrackBase is the base context for post-dispatch status polling;
	// it outlives the request so polling survives the HTTP exchange.
	TrackBase context.Context
	// StartTracking overrides the polling goroutine in tests.
	StartTracking func(logID string)
}

func (h DispatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	var body dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeCallError(w, reqID, core.NewInvalidRequestError("invalid JSON body"))
		return
	}
	userID := userIDFrom(r, body.UserID)
	if userID == "" {
		writeCallError(w, reqID, core.NewInvalidRequestErrorWithParam("user id is required", "userId"))
		return
	}

	path := orchestrator.Path(body.ProviderPath)
	if body.ProviderPath == "" {
		path = orchestrator.PathBridged
	}

	if path == orchestrator.PathBridged && !body.BypassValidation {
		valid, err := h.Orchestrator.ValidateCredentials(r.Context(), userID)
		if err != nil {
			writeCallError(w, reqID, err)
			return
		}
		if !valid {
			writeCallError(w, reqID, core.NewPreconditionError(core.CodeCredentialsInvalid,
				"saved ElevenLabs API key was rejected by the provider"))
			return
		}
	}

	req, err := h.Orchestrator.BuildRequest(r.Context(), orchestrator.Intent{
		UserID:              userID,
		ProspectID:          body.ProspectID,
		AgentConfigID:       body.AgentConfigID,
		Path:                path,
		FirstMessage:        body.FirstMessage,
		Prompt:              body.Prompt,
		VoiceID:             body.VoiceOverride,
		ConversationAgentID: body.ConversationAgentID,
	})
	if err != nil {
		writeCallError(w, reqID, err)
		return
	}
	if body.DebugMode {
		h.Logger.Info("dispatch request built",
			"request_id", reqID, "to", req.ToNumber, "path", req.Intent.Path,
			"platform_twilio", req.Credentials.UsingPlatformTwilio)
	}

	res, err := h.Orchestrator.Dispatch(r.Context(), req)
	if err != nil {
		writeCallError(w, reqID, err)
		return
	}

	if h.StartTracking != nil {
		h.StartTracking(res.LogID)
	} else {
		base := h.TrackBase
		if base == nil {
			base = context.Background()
		}
		go h.Orchestrator.Track(base, res.LogID)
	}

	writeJSON(w, http.StatusCreated, callResult{
		Success:    true,
		CallSID:    res.CallSID,
		CallLogID:  res.LogID,
		CallStatus: string(res.Status),
	})
}

// ListCallsHandler returns call history: GET /v1/calls.
type ListCallsHandler struct {
	Orchestrator *orchestrator.Orchestrator
}

func (h ListCallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	userID := userIDFrom(r, r.URL.Query().Get("userId"))
	if userID == "" {
		invalidRequest(w, reqID, "user id is required", "userId")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			invalidRequest(w, reqID, "limit must be between 1 and 500", "limit")
			return
		}
		limit = n
	}

	sessions, err := h.Orchestrator.Calls(r.Context(), userID, limit)
	if err != nil {
		writeErrorEnvelope(w, reqID, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": views})
}

// CallStatusHandler re-queries and returns one call's status:
// GET /v1/calls/{sid}.
type CallStatusHandler struct {
	Orchestrator *orchestrator.Orchestrator
}

func (h CallStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	userID := userIDFrom(r, r.URL.Query().Get("userId"))
	if userID == "" {
		invalidRequest(w, reqID, "user id is required", "userId")
		return
	}

	sess, err := h.Orchestrator.CallBySID(r.Context(), userID, r.PathValue("sid"))
	if err != nil {
		writeCallError(w, reqID, err)
		return
	}

	// Re-query the provider for live calls so the dashboard sees fresh
	// state; a timed-out query returns the last known status.
	if sess.Active() {
		fresh, err := h.Orchestrator.CheckStatus(r.Context(), sess.LogID)
		if err != nil {
			var ce *core.Error
			if !(errors.As(err, &ce) && ce.IsTimeout()) {
				writeCallError(w, reqID, err)
				return
			}
		} else {
			sess = fresh
		}
	}

	writeJSON(w, http.StatusOK, callResult{
		Success:    true,
		CallSID:    sess.CallSID,
		CallLogID:  sess.LogID,
		CallStatus: string(sess.Status),
		Data:       viewOf(sess),
	})
}

// TerminateHandler hangs up the user's in-flight call:
// DELETE /v1/calls/{sid}, with POST /v1/calls/{sid}:end as an alias
// for clients that cannot issue DELETE.
type TerminateHandler struct {
	Orchestrator *orchestrator.Orchestrator
}

func (h TerminateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	// The {sid} wildcard swallows the whole segment, so the POST alias
	// arrives here with the ":end" verb still attached.
	sid := r.PathValue("sid")
	if r.Method == http.MethodPost {
		var ok bool
		sid, ok = strings.CutSuffix(sid, ":end")
		if !ok {
			writeErrorEnvelope(w, reqID, core.NewNotFoundError(core.CodeCallError, "unknown call action"))
			return
		}
	}

	userID := userIDFrom(r, r.URL.Query().Get("userId"))
	if userID == "" {
		invalidRequest(w, reqID, "user id is required", "userId")
		return
	}

	// The sid must name the user's active call; anything else is the
	// same NO_ACTIVE_CALL the dashboard already handles.
	sess, err := h.Orchestrator.CallBySID(r.Context(), userID, sid)
	if err != nil || !sess.Active() {
		writeCallError(w, reqID, core.NewPreconditionError(core.CodeNoActiveCall, "no call is currently in progress"))
		return
	}

	ended, err := h.Orchestrator.EndCall(r.Context(), userID)
	if err != nil {
		writeCallError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, callResult{
		Success:    true,
		CallSID:    ended.CallSID,
		CallLogID:  ended.LogID,
		CallStatus: string(ended.Status),
		Message:    "call ended",
	})
}
