package elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWSBase = "wss://api.elevenlabs.io/v1/convai/conversations/{conversation_id}/ws"

// TranscriptEvent is one utterance observed on the live conversation
// stream.
type TranscriptEvent struct {
	Role string // "agent" or "caller"
	Text string
	At   time.Time
}

// Monitor is a live tap on a conversation's event stream. Events arrive
// on Events until the conversation ends, the context is cancelled, or
// the stream errors; Err reports the cause after Events closes.
type Monitor struct {
	events chan TranscriptEvent

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	closed    chan struct{}
	conn      *websocket.Conn
}

// Events returns the transcript event channel.
func (m *Monitor) Events() <-chan TranscriptEvent {
	return m.events
}

// Err returns the terminal stream error, if any.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Monitor) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil {
		m.err = err
	}
}

// Close tears down the stream.
func (m *Monitor) Close() error {
	var closeErr error
	m.closeOnce.Do(func() {
		close(m.closed)
		closeErr = m.conn.Close()
	})
	return closeErr
}

type wsEvent struct {
	Type                   string          `json:"type"`
	UserTranscriptionEvent json.RawMessage `json:"user_transcription_event"`
	AgentResponseEvent     json.RawMessage `json:"agent_response_event"`
}

type userTranscription struct {
	UserTranscript string `json:"user_transcript"`
}

type agentResponse struct {
	AgentResponse string `json:"agent_response"`
}

// MonitorConversation opens the conversation event stream. The caller
// owns the returned monitor and must Close it.
func (c *Client) MonitorConversation(ctx context.Context, conversationID string) (*Monitor, error) {
	base := c.wsBaseURL
	if base == "" {
		base = defaultWSBase
	}
	wsURL := strings.ReplaceAll(base, "{conversation_id}", url.PathEscape(conversationID))

	header := http.Header{}
	header.Set("xi-api-key", c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		events: make(chan TranscriptEvent, 16),
		closed: make(chan struct{}),
		conn:   conn,
	}

	go func() {
		defer close(m.events)
		defer m.Close()
		for {
			select {
			case <-ctx.Done():
				m.setErr(ctx.Err())
				return
			case <-m.closed:
				return
			default:
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-m.closed:
				default:
					m.setErr(err)
				}
				return
			}
			ev, ok := decodeEvent(data)
			if !ok {
				continue
			}
			select {
			case m.events <- ev:
			case <-ctx.Done():
				m.setErr(ctx.Err())
				return
			case <-m.closed:
				return
			}
		}
	}()

	return m, nil
}

func decodeEvent(data []byte) (TranscriptEvent, bool) {
	var raw wsEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return TranscriptEvent{}, false
	}
	switch raw.Type {
	case "user_transcript":
		var ut userTranscription
		if err := json.Unmarshal(raw.UserTranscriptionEvent, &ut); err != nil || strings.TrimSpace(ut.UserTranscript) == "" {
			return TranscriptEvent{}, false
		}
		return TranscriptEvent{Role: "caller", Text: ut.UserTranscript, At: time.Now()}, true
	case "agent_response":
		var ar agentResponse
		if err := json.Unmarshal(raw.AgentResponseEvent, &ar); err != nil || strings.TrimSpace(ar.AgentResponse) == "" {
			return TranscriptEvent{}, false
		}
		return TranscriptEvent{Role: "agent", Text: ar.AgentResponse, At: time.Now()}, true
	}
	return TranscriptEvent{}, false
}
