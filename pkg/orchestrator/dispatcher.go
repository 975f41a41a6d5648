package orchestrator

import (
	"context"
	"errors"

	"github.com/dialwire/dialwire/pkg/core"
	"github.com/dialwire/dialwire/pkg/core/call"
	"github.com/dialwire/dialwire/pkg/core/providers/elevenlabs"
	"github.com/dialwire/dialwire/pkg/core/providers/twilio"
	"github.com/dialwire/dialwire/pkg/store"
)

// DispatchResult reports a successful dispatch.
type DispatchResult struct {
	LogID          string
	CallSID        string
	ConversationID string
	Status         call.Status
}

// Dispatch places the call described by req. At most one call may be in
// flight per user: the non-terminal session row is the guard, created
// before the provider is touched so a timed-out provider call still
// leaves a queryable record. The provider call itself runs under the
// dispatch timeout; expiry surfaces as a timeout error with the session
// left pending, never as a failure verdict.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) (DispatchResult, error) {
	existing, err := o.store.ActiveSession(ctx, req.Intent.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return DispatchResult{}, core.NewProviderError(core.CodeCallLogError, "failed to check for active call", err)
	}
	if existing != nil {
		return DispatchResult{}, core.NewConflictError(core.CodeCallInProgress,
			"a call is already in progress; wait for it to finish or end it first")
	}

	sess := &call.Session{
		LogID:         o.newLogID(),
		UserID:        req.Intent.UserID,
		ProspectID:    req.Intent.ProspectID,
		AgentConfigID: req.Intent.AgentConfigID,
		Path:          string(req.Intent.Path),
		Status:        call.StatusInitiated,
		InitiatedAt:   o.now(),
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		// The concurrent-create race lands here via the store's
		// uniqueness guarantee on active sessions.
		if errors.Is(err, store.ErrActiveConflict) {
			return DispatchResult{}, core.NewConflictError(core.CodeCallInProgress,
				"a call is already in progress; wait for it to finish or end it first")
		}
		return DispatchResult{}, core.NewProviderError(core.CodeCallLogError, "failed to create call log", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
	defer cancel()

	switch req.Intent.Path {
	case PathBridged:
		err = o.dispatchBridged(callCtx, req, sess)
	default:
		err = o.dispatchTelephony(callCtx, req, sess)
	}
	if err != nil {
		var ce *core.Error
		if errors.As(err, &ce) && ce.IsTimeout() {
			// Outcome unknown: the call may be ringing right now. Keep
			// the session pending so status tracking can reconcile it.
			o.logger.Warn("dispatch timed out with outcome unknown",
				"log_id", sess.LogID, "user_id", sess.UserID)
			return DispatchResult{}, err
		}
		// Definite rejection: mark failed, which releases the guard.
		if applyErr := sess.ApplyStatus(call.StatusFailed, o.now()); applyErr == nil {
			if updErr := o.store.UpdateSession(ctx, sess); updErr != nil {
				o.logger.Error("failed to record dispatch failure", "log_id", sess.LogID, "error", updErr)
			}
		}
		return DispatchResult{}, err
	}

	if err := o.store.UpdateSession(ctx, sess); err != nil {
		o.logger.Error("failed to record dispatched call", "log_id", sess.LogID, "error", err)
		return DispatchResult{}, core.NewProviderError(core.CodeCallLogError, "call placed but log update failed", err)
	}

	o.logger.Info("call dispatched",
		"log_id", sess.LogID, "call_sid", sess.CallSID,
		"path", sess.Path, "user_id", sess.UserID)
	return DispatchResult{
		LogID:          sess.LogID,
		CallSID:        sess.CallSID,
		ConversationID: sess.ConversationID,
		Status:         sess.Status,
	}, nil
}

func (o *Orchestrator) dispatchTelephony(ctx context.Context, req Request, sess *call.Session) error {
	client := o.telephony(req.Credentials.TwilioAccountSID, req.Credentials.TwilioAuthToken)
	sid, err := client.Place(ctx, twilio.PlaceParams{
		To:                req.ToNumber,
		From:              req.Credentials.TwilioFromNumber,
		AnswerURL:         o.cfg.PublicBaseURL + "/v1/webhooks/answer/" + sess.LogID,
		StatusCallbackURL: o.cfg.PublicBaseURL + "/v1/webhooks/status/" + sess.LogID,
		TimeoutSeconds:    30,
	})
	if err != nil {
		return err
	}
	sess.CallSID = sid
	return nil
}

func (o *Orchestrator) dispatchBridged(ctx context.Context, req Request, sess *call.Session) error {
	client := o.conversation(req.Credentials.ElevenLabsAPIKey)
	res, err := client.StartOutboundCall(ctx, elevenlabs.OutboundCallRequest{
		AgentID:            req.AgentID,
		AgentPhoneNumberID: o.cfg.AgentPhoneNumberID,
		ToNumber:           req.ToNumber,
		FirstMessage:       req.FirstMessage,
		Prompt:             req.Prompt,
		VoiceID:            req.VoiceID,
		DynamicVariables:   req.DynamicVariables,
	})
	if err != nil {
		return err
	}
	sess.CallSID = res.CallSID
	sess.ConversationID = res.ConversationID
	return nil
}
