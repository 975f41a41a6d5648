package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dialwire/dialwire/pkg/cache"
	"github.com/dialwire/dialwire/pkg/core"
	"github.com/dialwire/dialwire/pkg/core/call"
	"github.com/dialwire/dialwire/pkg/core/providers/elevenlabs"
	"github.com/dialwire/dialwire/pkg/core/providers/twilio"
	"github.com/dialwire/dialwire/pkg/gateway/auth"
	"github.com/dialwire/dialwire/pkg/orchestrator"
	"github.com/dialwire/dialwire/pkg/store"
)

type fakeTelephony struct {
	placeSID string
	placeErr error
	status   string
	complete int
}

func (f *fakeTelephony) Place(context.Context, twilio.PlaceParams) (string, error) {
	if f.placeErr != nil {
		return "", f.placeErr
	}
	return f.placeSID, nil
}

func (f *fakeTelephony) Fetch(_ context.Context, sid string) (twilio.CallState, error) {
	return twilio.CallState{SID: sid, Status: f.status}, nil
}

func (f *fakeTelephony) Complete(context.Context, string) error {
	f.complete++
	return nil
}

type fakeConversation struct{}

func (fakeConversation) StartOutboundCall(context.Context, elevenlabs.OutboundCallRequest) (elevenlabs.OutboundCallResult, error) {
	return elevenlabs.OutboundCallResult{ConversationID: "conv-1", CallSID: "CA900"}, nil
}

func (fakeConversation) ValidateKey(context.Context) error { return nil }

func testOrchestrator(tel *fakeTelephony) (*orchestrator.Orchestrator, *store.Memory) {
	st := store.NewMemory()
	st.PutProfile(store.Profile{
		UserID:           "u_1",
		TwilioAccountSID: "ACxxxx",
		TwilioAuthToken:  "token",
		TwilioFromNumber: "+15550001111",
		ElevenLabsAPIKey: "xi-key",
	})
	st.PutProspect(store.Prospect{ID: "p1", UserID: "u_1", Name: "Dana", Phone: "+15550102000"})
	st.PutAgentConfig(store.AgentConfig{ID: "a1", UserID: "u_1", ConversationAgentID: "agent-1", Greeting: "Hello from Dialwire."})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := orchestrator.New(st, cache.NewMemory(),
		func(_, _ string) orchestrator.Telephony { return tel },
		func(_ string) orchestrator.Conversation { return fakeConversation{} },
		orchestrator.Config{PublicBaseURL: "https://dialwire.test", PollInterval: time.Millisecond, PollCeiling: 5 * time.Millisecond},
		logger)
	return o, st
}

func authed(r *http.Request) *http.Request {
	return r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{APIKey: "sk-1", UserID: "u_1"}))
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dispatchBody(t *testing.T) io.Reader {
	t.Helper()
	return strings.NewReader(`{"prospectId":"p1","agentConfigId":"a1","providerPath":"telephony"}`)
}

func TestDispatchHandler(t *testing.T) {
	tel := &fakeTelephony{placeSID: "CA100"}
	orch, _ := testOrchestrator(tel)
	tracked := ""
	h := DispatchHandler{
		Orchestrator:  orch,
		Logger:        discard(),
		StartTracking: func(logID string) { tracked = logID },
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/calls", dispatchBody(t))))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}

	var out callResult
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.CallSID != "CA100" || out.CallLogID == "" {
		t.Fatalf("result=%+v", out)
	}
	if tracked != out.CallLogID {
		t.Fatalf("tracking not started for %q (got %q)", out.CallLogID, tracked)
	}

	// Second dispatch while the first is live: stable conflict code.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/calls", dispatchBody(t))))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second dispatch status=%d body=%q", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Success || out.Code != core.CodeCallInProgress {
		t.Fatalf("result=%+v, want success=false code=%s", out, core.CodeCallInProgress)
	}
}

func TestDispatchHandlerBadBody(t *testing.T) {
	orch, _ := testOrchestrator(&fakeTelephony{})
	h := DispatchHandler{Orchestrator: orch, Logger: discard(), StartTracking: func(string) {}}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader("{not json"))))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestCallStatusHandler(t *testing.T) {
	tel := &fakeTelephony{placeSID: "CA100", status: "completed"}
	orch, st := testOrchestrator(tel)
	dispatch := DispatchHandler{Orchestrator: orch, Logger: discard(), StartTracking: func(string) {}}

	rec := httptest.NewRecorder()
	dispatch.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/calls", dispatchBody(t))))
	if rec.Code != http.StatusCreated {
		t.Fatalf("dispatch: %d %q", rec.Code, rec.Body.String())
	}

	h := CallStatusHandler{Orchestrator: orch}
	req := authed(httptest.NewRequest(http.MethodGet, "/v1/calls/CA100", nil))
	req.SetPathValue("sid", "CA100")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
	var out callResult
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.CallStatus != "completed" {
		t.Fatalf("call_status=%q", out.CallStatus)
	}
	if sess, _ := st.SessionBySID(context.Background(), "CA100"); sess.Status != call.StatusCompleted {
		t.Fatalf("store not settled: %q", sess.Status)
	}

	// Unknown SID is a 404.
	req = authed(httptest.NewRequest(http.MethodGet, "/v1/calls/CA999", nil))
	req.SetPathValue("sid", "CA999")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown sid: status=%d", rec.Code)
	}
}

func TestTerminateHandler(t *testing.T) {
	tel := &fakeTelephony{placeSID: "CA100"}
	orch, _ := testOrchestrator(tel)
	dispatch := DispatchHandler{Orchestrator: orch, Logger: discard(), StartTracking: func(string) {}}

	// No active call yet.
	h := TerminateHandler{Orchestrator: orch}
	req := authed(httptest.NewRequest(http.MethodDelete, "/v1/calls/CA100", nil))
	req.SetPathValue("sid", "CA100")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		t.Fatalf("terminate without active call succeeded: %q", rec.Body.String())
	}
	var out callResult
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Code != core.CodeNoActiveCall {
		t.Fatalf("code=%q, want %s", out.Code, core.CodeNoActiveCall)
	}

	rec = httptest.NewRecorder()
	dispatch.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/calls", dispatchBody(t))))
	if rec.Code != http.StatusCreated {
		t.Fatalf("dispatch: %d", rec.Code)
	}

	req = authed(httptest.NewRequest(http.MethodDelete, "/v1/calls/CA100", nil))
	req.SetPathValue("sid", "CA100")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("terminate: status=%d body=%q", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.CallStatus != "canceled" {
		t.Fatalf("result=%+v", out)
	}
	if tel.complete != 1 {
		t.Fatalf("provider hangups=%d", tel.complete)
	}
}

func TestListCallsHandler(t *testing.T) {
	tel := &fakeTelephony{placeSID: "CA100", status: "completed"}
	orch, _ := testOrchestrator(tel)
	dispatch := DispatchHandler{Orchestrator: orch, Logger: discard(), StartTracking: func(string) {}}
	rec := httptest.NewRecorder()
	dispatch.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/calls", dispatchBody(t))))
	if rec.Code != http.StatusCreated {
		t.Fatalf("dispatch: %d", rec.Code)
	}

	h := ListCallsHandler{Orchestrator: orch}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/v1/calls", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
	var out struct {
		Calls []sessionView `json:"calls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Calls) != 1 || out.Calls[0].CallSID != "CA100" {
		t.Fatalf("calls=%+v", out.Calls)
	}
}

func webhookForm(values url.Values) io.Reader {
	return strings.NewReader(values.Encode())
}

func TestSpeechWebhookNegativeEndsCall(t *testing.T) {
	tel := &fakeTelephony{placeSID: "CA100"}
	orch, st := testOrchestrator(tel)
	dispatch := DispatchHandler{Orchestrator: orch, Logger: discard(), StartTracking: func(string) {}}
	rec := httptest.NewRecorder()
	dispatch.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/calls", dispatchBody(t))))
	sess, _ := st.SessionBySID(context.Background(), "CA100")

	h := SpeechHandler{Orchestrator: orch, Logger: discard()}
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/speech/"+sess.LogID,
		webhookForm(url.Values{"SpeechResult": {"No thanks"}, "Confidence": {"0.92"}}))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetPathValue("logID", sess.LogID)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("content-type=%q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Say>") || !strings.Contains(body, "<Hangup") {
		t.Fatalf("twiml=%q, want say+hangup", body)
	}
	if strings.Contains(body, "<Gather") {
		t.Fatalf("negative reply should not gather again: %q", body)
	}
}

func TestSpeechWebhookUnclearConcludesCall(t *testing.T) {
	tel := &fakeTelephony{placeSID: "CA100"}
	orch, st := testOrchestrator(tel)
	dispatch := DispatchHandler{Orchestrator: orch, Logger: discard(), StartTracking: func(string) {}}
	rec := httptest.NewRecorder()
	dispatch.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/calls", dispatchBody(t))))
	sess, _ := st.SessionBySID(context.Background(), "CA100")

	h := SpeechHandler{Orchestrator: orch, Logger: discard()}
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/speech/"+sess.LogID,
		webhookForm(url.Values{"SpeechResult": {"Maybe, I don't know"}}))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetPathValue("logID", sess.LogID)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// The conversation is one exchange: an ambiguous answer still gets
	// a closing line and a hangup, never another prompt.
	body := rec.Body.String()
	if !strings.Contains(body, "<Say>") || !strings.Contains(body, "<Hangup") {
		t.Fatalf("twiml=%q, want say+hangup", body)
	}
	if strings.Contains(body, "<Gather") {
		t.Fatalf("unclear reply should not gather again: %q", body)
	}

	// The callee hangs up after the reply, so the bookkeeping must
	// already be done.
	updated, _ := st.SessionByLogID(context.Background(), sess.LogID)
	if updated.Extracted["interest"] != "unclear" {
		t.Fatalf("extracted=%v", updated.Extracted)
	}
	if updated.Summary == "" {
		t.Fatalf("summary not generated")
	}
	prospect, _ := st.Prospect(context.Background(), updated.ProspectID)
	if prospect.Status != "Completed" {
		t.Fatalf("prospect status=%q, want Completed", prospect.Status)
	}
}

func TestStatusWebhook(t *testing.T) {
	tel := &fakeTelephony{placeSID: "CA100"}
	orch, st := testOrchestrator(tel)
	dispatch := DispatchHandler{Orchestrator: orch, Logger: discard(), StartTracking: func(string) {}}
	rec := httptest.NewRecorder()
	dispatch.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/calls", dispatchBody(t))))
	sess, _ := st.SessionBySID(context.Background(), "CA100")

	h := StatusHandler{Orchestrator: orch, Logger: discard()}
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/status/"+sess.LogID,
		webhookForm(url.Values{"CallStatus": {"Completed"}}))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetPathValue("logID", sess.LogID)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rec.Code)
	}

	updated, _ := st.SessionByLogID(context.Background(), sess.LogID)
	if updated.Status != call.StatusCompleted {
		t.Fatalf("session status=%q", updated.Status)
	}

	// Garbage status still answers 2xx so the provider stops retrying.
	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/status/"+sess.LogID,
		webhookForm(url.Values{"CallStatus": {"warp-speed"}}))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetPathValue("logID", sess.LogID)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("garbage status: %d", rec.Code)
	}
}

func TestAnswerWebhook(t *testing.T) {
	tel := &fakeTelephony{placeSID: "CA100"}
	orch, st := testOrchestrator(tel)
	dispatch := DispatchHandler{Orchestrator: orch, Logger: discard(), StartTracking: func(string) {}}
	rec := httptest.NewRecorder()
	dispatch.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/calls", dispatchBody(t))))
	sess, _ := st.SessionBySID(context.Background(), "CA100")

	h := AnswerHandler{Orchestrator: orch, Logger: discard(), PublicBaseURL: "https://dialwire.test"}
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/answer/"+sess.LogID, nil)
	req.SetPathValue("logID", sess.LogID)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "Hello from Dialwire.") {
		t.Fatalf("greeting missing: %q", body)
	}
	if !strings.Contains(body, "<Gather") {
		t.Fatalf("answer should gather speech: %q", body)
	}
}

func TestValidateCredentialsHandler(t *testing.T) {
	orch, _ := testOrchestrator(&fakeTelephony{})
	h := ValidateCredentialsHandler{Orchestrator: orch}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/credentials/validate", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Valid {
		t.Fatalf("valid=false")
	}
}

func TestTerminatePostAlias(t *testing.T) {
	tel := &fakeTelephony{placeSID: "CA100"}
	orch, _ := testOrchestrator(tel)
	dispatch := DispatchHandler{Orchestrator: orch, Logger: discard(), StartTracking: func(string) {}}
	rec := httptest.NewRecorder()
	dispatch.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/calls", dispatchBody(t))))
	if rec.Code != http.StatusCreated {
		t.Fatalf("dispatch: %d", rec.Code)
	}

	h := TerminateHandler{Orchestrator: orch}

	// POST without the :end verb is not a terminate.
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/calls/CA100", nil))
	req.SetPathValue("sid", "CA100")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("bare POST: status=%d", rec.Code)
	}

	req = authed(httptest.NewRequest(http.MethodPost, "/v1/calls/CA100:end", nil))
	req.SetPathValue("sid", "CA100:end")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("alias: status=%d body=%q", rec.Code, rec.Body.String())
	}
	if tel.complete != 1 {
		t.Fatalf("provider hangups=%d", tel.complete)
	}
}
