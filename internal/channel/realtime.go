package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmertens/parley/internal/reliability"
	"github.com/jmertens/parley/internal/transcript"
)

// realtimeAdapter implements the direct and relay transports. The relay
// speaks the same wire protocol as the agent endpoint; only the URL and
// auth headers differ.
type realtimeAdapter struct {
	mode       Mode
	wsURL      string
	apiKey     string
	relayToken string

	writeMu   sync.Mutex
	closeOnce sync.Once
	conn      *websocket.Conn
	events    chan Event

	mu             sync.Mutex
	conversationID string
	muted          bool
}

func newRealtimeAdapter(mode Mode, wsURL, apiKey, relayToken string) *realtimeAdapter {
	return &realtimeAdapter{
		mode:       mode,
		wsURL:      strings.TrimRight(strings.TrimSpace(wsURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		relayToken: strings.TrimSpace(relayToken),
	}
}

func (a *realtimeAdapter) Mode() Mode { return a.mode }

func (a *realtimeAdapter) Connect(ctx context.Context, agentID string, scenario ScenarioContext, deviceID string) (<-chan Event, error) {
	u, err := url.Parse(a.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s url: %w", a.mode, err)
	}
	q := u.Query()
	q.Set("agent_id", agentID)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if a.apiKey != "" {
		headers.Set("xi-api-key", a.apiKey)
	}
	if a.mode == ModeRelay && a.relayToken != "" {
		headers.Set("Authorization", "Bearer "+a.relayToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial %s channel: %w", a.mode, err)
	}

	a.conn = conn
	a.events = make(chan Event, 256)

	if err := a.writeJSON(map[string]any{
		"message_type": "session_init",
		"agent_id":     agentID,
		"scenario_id":  scenario.ScenarioID,
		"variables":    scenario.Variables,
		"device_id":    deviceID,
	}); err != nil {
		a.closeConn()
		return nil, fmt.Errorf("init %s channel: %w", a.mode, err)
	}

	go a.readLoop()
	return a.events, nil
}

// readLoop is the only goroutine that sends on a.events, so it alone
// closes the channel. Disconnect tears down the conn and lets the
// resulting read error end the loop.
func (a *realtimeAdapter) readLoop() {
	defer close(a.events)
	defer a.closeConn()
	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		messageType := asString(raw["message_type"])
		switch messageType {
		case "conversation_initiated":
			id := asString(raw["conversation_id"])
			a.mu.Lock()
			a.conversationID = id
			a.mu.Unlock()
			a.events <- Event{Type: EventConnected, ConversationID: id}
		case "agent_transcript":
			a.events <- Event{Type: EventTranscript, Role: transcript.RoleAgent, Text: asString(raw["text"])}
		case "user_transcript":
			a.events <- Event{Type: EventTranscript, Role: transcript.RoleUser, Text: asString(raw["text"])}
		case "session_closed":
			a.events <- Event{Type: EventDisconnected, Detail: asString(raw["reason"])}
		case "", "ping", "pong", "input_audio_chunk":
			// ignore control noise
		default:
			a.events <- Event{
				Type:      EventError,
				Code:      messageType,
				Detail:    asString(raw["error"]),
				Retryable: reliability.IsRetryableRealtimeMessageType(messageType),
			}
		}
	}
}

func (a *realtimeAdapter) SendAudioChunk(_ context.Context, audioBase64 string, sampleRate int) error {
	a.mu.Lock()
	muted := a.muted
	a.mu.Unlock()
	if muted {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return a.writeJSON(map[string]any{
		"message_type":  "input_audio_chunk",
		"audio_base_64": audioBase64,
		"sample_rate":   sampleRate,
	})
}

func (a *realtimeAdapter) SendUserText(_ context.Context, text string) error {
	return a.writeJSON(map[string]any{
		"message_type": "user_text",
		"text":         text,
	})
}

func (a *realtimeAdapter) SetMuted(muted bool) error {
	a.mu.Lock()
	a.muted = muted
	a.mu.Unlock()
	return a.writeJSON(map[string]any{
		"message_type": "set_muted",
		"muted":        muted,
	})
}

func (a *realtimeAdapter) Disconnect() error {
	if a.conn != nil {
		// Best effort: tell the agent we are done so it finalizes the recording.
		_ = a.writeJSON(map[string]any{"message_type": "session_end"})
	}
	a.closeConn()
	return nil
}

func (a *realtimeAdapter) ConversationID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversationID
}

func (a *realtimeAdapter) writeJSON(v any) error {
	if a.conn == nil {
		return fmt.Errorf("%s channel not connected", a.mode)
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = a.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return a.conn.WriteJSON(v)
}

func (a *realtimeAdapter) closeConn() {
	a.closeOnce.Do(func() {
		if a.conn != nil {
			_ = a.conn.Close()
		}
	})
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
