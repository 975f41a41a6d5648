package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/dialwire/dialwire/pkg/core"
	"github.com/dialwire/dialwire/pkg/core/call"
	"github.com/dialwire/dialwire/pkg/store"
)

// CheckStatus queries the telephony provider for the session's current
// status, applies it to the session, and persists the result. A status
// query that times out leaves the stored status untouched: absence of
// an answer is not a failure verdict.
func (o *Orchestrator) CheckStatus(ctx context.Context, logID string) (*call.Session, error) {
	sess, err := o.loadSession(ctx, logID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return sess, nil
	}
	if sess.CallSID == "" {
		// Dispatch never got a SID back (timed-out placement). Nothing
		// to query yet; the stored status stands.
		return sess, nil
	}

	creds, err := o.ResolveCredentials(ctx, sess.UserID, Path(sess.Path))
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.StatusTimeout)
	defer cancel()

	state, err := o.telephony(creds.TwilioAccountSID, creds.TwilioAuthToken).Fetch(fetchCtx, sess.CallSID)
	if err != nil {
		var ce *core.Error
		if errors.As(err, &ce) && ce.IsTimeout() {
			return sess, err
		}
		return nil, err
	}

	return sess, o.applyProviderState(ctx, sess, state.Status, state.Price, state.PriceUnit)
}

// ApplyReportedStatus records a provider-pushed status (the status
// callback webhook). Unknown status strings are rejected; writes
// against a terminal session are ignored unless identical.
func (o *Orchestrator) ApplyReportedStatus(ctx context.Context, logID, rawStatus string) (*call.Session, error) {
	sess, err := o.loadSession(ctx, logID)
	if err != nil {
		return nil, err
	}
	return sess, o.applyProviderState(ctx, sess, rawStatus, "", "")
}

func (o *Orchestrator) applyProviderState(ctx context.Context, sess *call.Session, rawStatus, price, priceUnit string) error {
	status, ok := call.ParseStatus(rawStatus)
	if !ok {
		return core.NewInvalidRequestErrorWithParam("unrecognized call status "+rawStatus, "status")
	}

	wasTerminal := sess.Status.Terminal()
	if err := sess.ApplyStatus(status, o.now()); err != nil {
		if errors.Is(err, call.ErrTerminal) {
			// Late or out-of-order report against a settled call.
			o.logger.Debug("ignoring status report against terminal session",
				"log_id", sess.LogID, "have", sess.Status, "reported", status)
			return nil
		}
		return err
	}
	if price != "" {
		sess.Price = price
		sess.PriceUnit = priceUnit
	}
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		return core.NewProviderError(core.CodeCallLogError, "failed to persist call status", err)
	}
	if !wasTerminal && sess.Status.Terminal() {
		o.logger.Info("call reached terminal status",
			"log_id", sess.LogID, "status", sess.Status)
		o.fireTerminal(ctx, sess)
	}
	return nil
}

// Track polls the provider until the session settles or the poll
// ceiling elapses. If the ceiling is hit first, the session keeps its
// last known status and is flagged unconfirmed rather than being
// guessed terminal. Intended to run in its own goroutine after
// dispatch; the passed context bounds the whole loop.
func (o *Orchestrator) Track(ctx context.Context, logID string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Bridged calls carry a live conversation stream; tap it for the
	// transcript while polling runs.
	if sess, err := o.loadSession(ctx, logID); err == nil &&
		Path(sess.Path) == PathBridged && sess.ConversationID != "" && !sess.Status.Terminal() {
		go o.monitorTranscript(ctx, sess)
	}

	deadline := o.now().Add(o.cfg.PollCeiling)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		sess, err := o.CheckStatus(ctx, logID)
		if err != nil {
			var ce *core.Error
			if !(errors.As(err, &ce) && ce.IsTimeout()) {
				o.logger.Error("status poll failed", "log_id", logID, "error", err)
				return
			}
			// Timed-out poll: try again on the next tick.
		} else if sess.Status.Terminal() {
			return
		}

		if o.now().After(deadline) {
			o.markUnconfirmed(ctx, logID)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) markUnconfirmed(ctx context.Context, logID string) {
	sess, err := o.loadSession(ctx, logID)
	if err != nil || sess.Status.Terminal() {
		return
	}
	sess.Unconfirmed = true
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		o.logger.Error("failed to flag session unconfirmed", "log_id", logID, "error", err)
		return
	}
	o.logger.Warn("status polling gave up before the call settled",
		"log_id", logID, "last_status", sess.Status)
}

func (o *Orchestrator) loadSession(ctx context.Context, logID string) (*call.Session, error) {
	sess, err := o.store.SessionByLogID(ctx, logID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NewNotFoundError(core.CodeCallError, "call log not found")
		}
		return nil, core.NewProviderError(core.CodeCallLogError, "failed to load call log", err)
	}
	return sess, nil
}
