package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/dialwire/dialwire/pkg/core"
)

func TestStartOutboundCall_Success(t *testing.T) {
	var gotBody outboundCallBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/convai/twilio/outbound-call" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "xi_test" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(outboundCallResponse{Success: true, ConversationID: "conv_1", CallSID: "CA42"})
	}))
	defer srv.Close()

	c := New("xi_test").WithBaseURL(srv.URL)
	res, err := c.StartOutboundCall(context.Background(), OutboundCallRequest{
		AgentID:          "agent_1",
		ToNumber:         "+15551234567",
		FirstMessage:     "Hi Dana!",
		VoiceID:          "voice_9",
		DynamicVariables: map[string]string{"prospect_name": "Dana"},
	})
	if err != nil {
		t.Fatalf("StartOutboundCall: %v", err)
	}
	if res.CallSID != "CA42" || res.ConversationID != "conv_1" {
		t.Fatalf("result = %+v", res)
	}
	if gotBody.ToNumber != "+15551234567" || gotBody.AgentID != "agent_1" {
		t.Fatalf("body = %+v", gotBody)
	}
	if gotBody.ConversationConfig == nil ||
		gotBody.ConversationConfig.DynamicVariables["prospect_name"] != "Dana" ||
		gotBody.ConversationConfig.ConversationOverride.TTS.VoiceID != "voice_9" {
		t.Fatalf("init config = %+v", gotBody.ConversationConfig)
	}
}

func TestStartOutboundCall_MissingKey(t *testing.T) {
	c := New("")
	_, err := c.StartOutboundCall(context.Background(), OutboundCallRequest{AgentID: "a", ToNumber: "+1555"})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Code != core.CodeElevenLabsKeyMissing {
		t.Fatalf("expected ELEVENLABS_API_KEY_MISSING, got %v", err)
	}
}

func TestStartOutboundCall_RejectedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("xi_bad").WithBaseURL(srv.URL)
	_, err := c.StartOutboundCall(context.Background(), OutboundCallRequest{AgentID: "a", ToNumber: "+1555"})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Code != core.CodeCredentialsInvalid {
		t.Fatalf("expected CREDENTIALS_INVALID, got %v", err)
	}
}

func TestValidateKey(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/user" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := New("xi_test").WithBaseURL(srv.URL)
	if err := c.ValidateKey(context.Background()); err != nil {
		t.Fatalf("ValidateKey: %v", err)
	}

	status = http.StatusUnauthorized
	err := c.ValidateKey(context.Background())
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Code != core.CodeCredentialsInvalid {
		t.Fatalf("expected CREDENTIALS_INVALID, got %v", err)
	}
}

func TestMonitorConversation_StreamsTranscript(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		msgs := []string{
			`{"type":"user_transcript","user_transcription_event":{"user_transcript":"yes I am interested"}}`,
			`{"type":"agent_response","agent_response_event":{"agent_response":"great, let me explain"}}`,
			`{"type":"ping"}`,
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/{conversation_id}"
	c := New("xi_test").WithWSBaseURL(wsURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m, err := c.MonitorConversation(ctx, "conv_1")
	if err != nil {
		t.Fatalf("MonitorConversation: %v", err)
	}
	defer m.Close()

	var got []TranscriptEvent
	for ev := range m.Events() {
		got = append(got, ev)
		if len(got) == 2 {
			break
		}
	}
	if len(got) != 2 {
		t.Fatalf("events = %d", len(got))
	}
	if got[0].Role != "caller" || got[0].Text != "yes I am interested" {
		t.Fatalf("first event = %+v", got[0])
	}
	if got[1].Role != "agent" {
		t.Fatalf("second event = %+v", got[1])
	}
}
