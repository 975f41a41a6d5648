package orchestrator

import (
	"context"
	"errors"

	"github.com/dialwire/dialwire/pkg/core"
	"github.com/dialwire/dialwire/pkg/core/call"
	"github.com/dialwire/dialwire/pkg/store"
)

// Call returns one session by log ID, scoped to the owning user.
func (o *Orchestrator) Call(ctx context.Context, userID, logID string) (*call.Session, error) {
	sess, err := o.loadSession(ctx, logID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, core.NewNotFoundError(core.CodeCallError, "call log not found")
	}
	return sess, nil
}

// CallBySID returns one session by provider call SID, scoped to the
// owning user.
func (o *Orchestrator) CallBySID(ctx context.Context, userID, callSID string) (*call.Session, error) {
	sess, err := o.store.SessionBySID(ctx, callSID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NewNotFoundError(core.CodeCallError, "call log not found")
		}
		return nil, core.NewProviderError(core.CodeCallLogError, "failed to load call log", err)
	}
	if sess.UserID != userID {
		return nil, core.NewNotFoundError(core.CodeCallError, "call log not found")
	}
	return sess, nil
}

// Calls lists the user's sessions, newest first.
func (o *Orchestrator) Calls(ctx context.Context, userID string, limit int) ([]*call.Session, error) {
	sessions, err := o.store.ListSessions(ctx, userID, limit)
	if err != nil {
		return nil, core.NewProviderError(core.CodeCallLogError, "failed to list call logs", err)
	}
	return sessions, nil
}

// AppendTranscript records a transcript line pushed by the conversation
// provider's live monitor.
func (o *Orchestrator) AppendTranscript(ctx context.Context, logID, role, text string) error {
	sess, err := o.loadSession(ctx, logID)
	if err != nil {
		return err
	}
	sess.Append(role, text, o.now())
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.NewNotFoundError(core.CodeCallError, "call log not found")
		}
		return core.NewProviderError(core.CodeCallLogError, "failed to persist transcript", err)
	}
	return nil
}
