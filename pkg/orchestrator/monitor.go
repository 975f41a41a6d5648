package orchestrator

import (
	"context"
	"errors"

	"github.com/dialwire/dialwire/pkg/core/call"
	"github.com/dialwire/dialwire/pkg/core/providers/elevenlabs"
)

// ConversationMonitor is implemented by conversation clients that can
// tap the live transcript stream of a running call.
type ConversationMonitor interface {
	MonitorConversation(ctx context.Context, conversationID string) (*elevenlabs.Monitor, error)
}

// monitorTranscript streams live utterances into the session's call log
// while the call runs. Best-effort: a broken stream costs transcript
// lines, never the call.
func (o *Orchestrator) monitorTranscript(ctx context.Context, sess *call.Session) {
	creds, err := o.ResolveCredentials(ctx, sess.UserID, Path(sess.Path))
	if err != nil {
		o.logger.Warn("transcript monitor skipped, credential resolution failed",
			"log_id", sess.LogID, "error", err)
		return
	}

	client, ok := o.conversation(creds.ElevenLabsAPIKey).(ConversationMonitor)
	if !ok {
		return
	}

	m, err := client.MonitorConversation(ctx, sess.ConversationID)
	if err != nil {
		o.logger.Warn("transcript monitor failed to connect",
			"log_id", sess.LogID, "conversation_id", sess.ConversationID, "error", err)
		return
	}
	defer m.Close()

	for ev := range m.Events() {
		if err := o.AppendTranscript(ctx, sess.LogID, ev.Role, ev.Text); err != nil {
			o.logger.Warn("failed to append transcript line",
				"log_id", sess.LogID, "error", err)
			return
		}
	}
	if err := m.Err(); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Debug("transcript stream closed",
			"log_id", sess.LogID, "error", err)
	}
}
