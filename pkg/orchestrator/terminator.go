package orchestrator

import (
	"context"
	"errors"

	"github.com/dialwire/dialwire/pkg/core"
	"github.com/dialwire/dialwire/pkg/core/call"
	"github.com/dialwire/dialwire/pkg/store"
)

// EndCall requests termination of the user's in-flight call. The local
// record is settled optimistically: even when the provider-side hangup
// fails, the session is marked canceled so the guard releases and the
// dashboard is never wedged by an unreachable provider.
func (o *Orchestrator) EndCall(ctx context.Context, userID string) (*call.Session, error) {
	sess, err := o.store.ActiveSession(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NewPreconditionError(core.CodeNoActiveCall, "no call is currently in progress")
		}
		return nil, core.NewProviderError(core.CodeCallLogError, "failed to look up active call", err)
	}
	if sess == nil {
		return nil, core.NewPreconditionError(core.CodeNoActiveCall, "no call is currently in progress")
	}

	if sess.CallSID != "" {
		creds, err := o.ResolveCredentials(ctx, sess.UserID, Path(sess.Path))
		if err != nil {
			return nil, err
		}
		hangupCtx, cancel := context.WithTimeout(ctx, o.cfg.StatusTimeout)
		defer cancel()
		if err := o.telephony(creds.TwilioAccountSID, creds.TwilioAuthToken).Complete(hangupCtx, sess.CallSID); err != nil {
			// Best effort. The provider's status callback will settle
			// the true outcome if the call is in fact still up.
			o.logger.Warn("provider hangup failed, settling locally",
				"log_id", sess.LogID, "call_sid", sess.CallSID, "error", err)
		}
	}

	if err := sess.ApplyStatus(call.StatusCanceled, o.now()); err != nil {
		if errors.Is(err, call.ErrTerminal) {
			// Settled between lookup and hangup; nothing left to do.
			return sess, nil
		}
		return nil, err
	}
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		return nil, core.NewProviderError(core.CodeCallLogError, "failed to record call termination", err)
	}
	o.logger.Info("call terminated by user", "log_id", sess.LogID, "user_id", userID)
	o.fireTerminal(ctx, sess)
	return sess, nil
}
