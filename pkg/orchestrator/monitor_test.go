package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/dialwire/dialwire/pkg/core/call"
	"github.com/dialwire/dialwire/pkg/core/providers/elevenlabs"
)

type monitoringConversation struct {
	*fakeConversation
	client *elevenlabs.Client
}

func (m monitoringConversation) MonitorConversation(ctx context.Context, conversationID string) (*elevenlabs.Monitor, error) {
	return m.client.MonitorConversation(ctx, conversationID)
}

func TestMonitorTranscriptAppendsUtterances(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		msgs := []string{
			`{"type":"agent_response","agent_response_event":{"agent_response":"Hi Dana, this is Sam."}}`,
			`{"type":"user_transcript","user_transcription_event":{"user_transcript":"tell me more"}}`,
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/{conversation_id}"
	conv := monitoringConversation{
		fakeConversation: &fakeConversation{},
		client:           elevenlabs.New("xi-key").WithWSBaseURL(wsURL),
	}

	st := seedStore()
	o := newTestOrchestrator(st, &fakeTelephony{}, conv.fakeConversation)
	o.conversation = func(string) Conversation { return conv }

	sess := &call.Session{
		LogID:          "lg_01MONITORMONITORMONITOR00",
		UserID:         "u1",
		CallSID:        "CA900",
		ConversationID: "conv-1",
		Status:         call.StatusInProgress,
		Path:           string(PathBridged),
	}
	if err := st.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	// The stream ends when the server closes the socket; the call
	// returns after draining every event.
	o.monitorTranscript(context.Background(), sess)

	got, err := st.SessionByLogID(context.Background(), sess.LogID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.Transcript) != 2 {
		t.Fatalf("transcript len=%d, want 2: %+v", len(got.Transcript), got.Transcript)
	}
	if got.Transcript[0].Role != "agent" || got.Transcript[1].Role != "caller" {
		t.Fatalf("roles=%q,%q", got.Transcript[0].Role, got.Transcript[1].Role)
	}
	if got.Transcript[1].Text != "tell me more" {
		t.Fatalf("text=%q", got.Transcript[1].Text)
	}
}
