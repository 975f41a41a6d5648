package handlers

import (
	"log/slog"
	"net/http"

	"github.com/twilio/twilio-go/twiml"

	"github.com/dialwire/dialwire/pkg/gateway/mw"
	"github.com/dialwire/dialwire/pkg/orchestrator"
)

// Webhook handlers answer the telephony provider, not the dashboard.
// They are exempt from bearer auth: the unguessable log ID in the path
// is the capability, and every reply must be valid voice markup because
// the provider is holding a live line open.

func writeTwiML(w http.ResponseWriter, logger *slog.Logger, verbs []twiml.Element) {
	doc, err := twiml.Voice(verbs)
	if err != nil {
		if logger != nil {
			logger.Error("twiml render failed", "error", err)
		}
		// Bare hangup document; never 500 at the provider.
		doc = `<?xml version="1.0" encoding="UTF-8"?><Response><Hangup/></Response>`
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func gatherSpeech(action, prompt string) twiml.Element {
	return twiml.VoiceGather{
		Input:         "speech",
		Action:        action,
		Method:        "POST",
		SpeechTimeout: "auto",
		InnerElements: []twiml.Element{
			twiml.VoiceSay{Message: prompt},
		},
	}
}

// AnswerHandler speaks the opening line when the callee picks up:
// POST /v1/webhooks/answer/{logID}.
type AnswerHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
	// SpeechURL builds the action URL for the follow-up speech gather.
	PublicBaseURL string
}

func (h AnswerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logID := r.PathValue("logID")
	greeting := h.Orchestrator.HandleAnswer(r.Context(), logID)
	writeTwiML(w, h.Logger, []twiml.Element{
		gatherSpeech(h.PublicBaseURL+"/v1/webhooks/speech/"+logID, greeting),
		// Callee stayed silent through the whole gather.
		twiml.VoiceSay{Message: "We didn't catch that. We'll try again another time. Goodbye!"},
		twiml.VoiceHangup{},
	})
}

// SpeechHandler interprets a transcribed utterance and speaks the
// closing reply: POST /v1/webhooks/speech/{logID}. The conversation is
// one exchange long, so every reply ends with a hangup.
type SpeechHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
}

func (h SpeechHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logID := r.PathValue("logID")

	if err := r.ParseForm(); err != nil {
		h.Logger.Warn("unparseable webhook form", "request_id", reqID, "log_id", logID, "error", err)
	}
	speech := r.PostFormValue("SpeechResult")
	confidence := r.PostFormValue("Confidence")

	out := h.Orchestrator.HandleSpeech(r.Context(), logID, speech)
	h.Logger.Info("speech webhook",
		"request_id", reqID, "log_id", logID,
		"classification", out.Classification, "confidence", confidence)

	writeTwiML(w, h.Logger, []twiml.Element{
		twiml.VoiceSay{Message: out.ReplyText},
		twiml.VoiceHangup{},
	})
}

// StatusHandler records provider-pushed status transitions:
// POST /v1/webhooks/status/{logID}.
type StatusHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logID := r.PathValue("logID")

	if err := r.ParseForm(); err != nil {
		h.Logger.Warn("unparseable status callback", "request_id", reqID, "log_id", logID, "error", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	status := r.PostFormValue("CallStatus")
	if _, err := h.Orchestrator.ApplyReportedStatus(r.Context(), logID, status); err != nil {
		// Always 2xx: the provider retries non-2xx and a bad report
		// cannot be fixed by retrying.
		h.Logger.Warn("status callback not applied",
			"request_id", reqID, "log_id", logID, "status", status, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}
