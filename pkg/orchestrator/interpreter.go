package orchestrator

import (
	"context"
	"strings"

	"github.com/dialwire/dialwire/pkg/core/call"
)

// Interpretation is the outcome of the speech webhook turn: the
// classification of the prospect's answer and the closing line the
// agent speaks before the call hangs up.
type Interpretation struct {
	Classification Classification
	ReplyText      string
}

const (
	replyPositive = "That's great to hear! One of our team members will reach out to you shortly with more details. Thank you for your time, and have a wonderful day!"
	replyNegative = "I completely understand. Thank you for your time, and have a great day!"
	replyUnclear  = "No problem at all. Someone from our team will follow up with more information. Thank you for your time, and have a great day!"
	replyApology  = "I'm sorry, we're having a technical issue on our end. Someone will follow up with you. Thank you for your time, goodbye!"
)

// HandleAnswer produces the opening line for a just-answered telephony
// call. It never fails: when the agent configuration cannot be loaded
// a generic greeting is used.
func (o *Orchestrator) HandleAnswer(ctx context.Context, logID string) string {
	const fallback = "Hello! This is an automated call from our sales team. Do you have a quick moment?"

	sess, err := o.loadSession(ctx, logID)
	if err != nil {
		o.logger.Warn("answer webhook for unknown call", "log_id", logID, "error", err)
		return fallback
	}
	greeting := fallback
	if sess.AgentConfigID != "" {
		if agent, err := o.store.AgentConfig(ctx, sess.AgentConfigID); err == nil && strings.TrimSpace(agent.Greeting) != "" {
			greeting = agent.Greeting
		}
	}
	sess.Append("agent", greeting, o.now())
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		o.logger.Error("failed to record greeting", "log_id", logID, "error", err)
	}
	return greeting
}

// HandleSpeech interprets the transcribed prospect utterance and picks
// the closing line. The call concludes after this single exchange for
// every classification, so the prospect and session are finalized here
// regardless of how the answer classified. It never returns an error:
// any internal failure degrades to an apology reply, because the
// telephony provider is holding a live line open waiting for markup.
func (o *Orchestrator) HandleSpeech(ctx context.Context, logID, speech string) Interpretation {
	sess, err := o.loadSession(ctx, logID)
	if err != nil {
		o.logger.Error("speech webhook for unknown call", "log_id", logID, "error", err)
		return Interpretation{Classification: ClassUnclear, ReplyText: replyApology}
	}

	sess.Append("caller", speech, o.now())
	class := Classify(speech)

	out := Interpretation{Classification: class}
	switch class {
	case ClassPositive:
		out.ReplyText = replyPositive
	case ClassNegative:
		out.ReplyText = replyNegative
	default:
		out.ReplyText = replyUnclear
	}
	sess.Append("agent", out.ReplyText, o.now())

	if sess.Extracted == nil {
		sess.Extracted = map[string]string{}
	}
	sess.Extracted["interest"] = string(class)

	o.finalizeInterpretation(ctx, sess, class)

	if err := o.store.UpdateSession(ctx, sess); err != nil {
		o.logger.Error("failed to persist interpretation", "log_id", logID, "error", err)
		return Interpretation{Classification: class, ReplyText: replyApology}
	}

	o.logger.Info("speech interpreted", "log_id", logID, "classification", class)
	return out
}

// finalizeInterpretation runs the post-conversation bookkeeping for
// the closing reply: prospect status and transcript summary. Both are
// best effort.
func (o *Orchestrator) finalizeInterpretation(ctx context.Context, sess *call.Session, class Classification) {
	if sess.ProspectID != "" {
		if err := o.store.SetProspectStatus(ctx, sess.ProspectID, "Completed"); err != nil {
			o.logger.Warn("failed to update prospect status",
				"prospect_id", sess.ProspectID, "error", err)
		}
	}
	if o.summarizer != nil {
		if summary, err := o.summarizer.Summarize(ctx, sess.Transcript, string(class)); err == nil {
			sess.Summary = summary
		} else {
			o.logger.Warn("summarizer failed", "log_id", sess.LogID, "error", err)
		}
	}
}
