package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jmertens/parley/internal/reliability"
	"github.com/jmertens/parley/internal/transcript"
)

// TurnBasedAdapter exchanges discrete request/response turns over HTTP.
// It is the universally-reachable fallback: no websocket, no microphone
// stream, visible pauses between turns.
type TurnBasedAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client

	closeOnce sync.Once
	events    chan Event

	mu             sync.Mutex
	conversationID string
	closed         bool
}

func NewTurnBasedAdapter(baseURL, apiKey string) *TurnBasedAdapter {
	return &TurnBasedAdapter{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *TurnBasedAdapter) Mode() Mode { return ModeTurnBased }

func (a *TurnBasedAdapter) Connect(ctx context.Context, agentID string, scenario ScenarioContext, _ string) (<-chan Event, error) {
	body := map[string]any{
		"agent_id":    agentID,
		"scenario_id": scenario.ScenarioID,
		"variables":   scenario.Variables,
	}
	var resp struct {
		ConversationID string `json:"conversation_id"`
		Greeting       string `json:"greeting"`
	}
	if err := a.postJSON(ctx, "/v1/conversations", body, &resp); err != nil {
		return nil, fmt.Errorf("open turn-based conversation: %w", err)
	}

	a.mu.Lock()
	a.conversationID = resp.ConversationID
	a.mu.Unlock()

	a.events = make(chan Event, 64)
	a.events <- Event{Type: EventConnected, ConversationID: resp.ConversationID}
	if strings.TrimSpace(resp.Greeting) != "" {
		a.events <- Event{Type: EventTranscript, Role: transcript.RoleAgent, Text: resp.Greeting}
	}
	return a.events, nil
}

// SendAudioChunk always fails: this transport carries typed turns only.
func (a *TurnBasedAdapter) SendAudioChunk(_ context.Context, _ string, _ int) error {
	return ErrAudioUnsupported
}

func (a *TurnBasedAdapter) SendUserText(ctx context.Context, text string) error {
	a.mu.Lock()
	convID := a.conversationID
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil
	}
	if convID == "" {
		return fmt.Errorf("turn-based channel not connected")
	}

	var resp struct {
		Reply string `json:"reply"`
	}
	if err := a.postJSON(ctx, "/v1/conversations/"+convID+"/turns", map[string]any{"text": text}, &resp); err != nil {
		return fmt.Errorf("send turn: %w", err)
	}

	// The agent service has no audio to transcribe here, so the adapter
	// itself emits both sides of the exchange in conversational order.
	a.emit(Event{Type: EventTranscript, Role: transcript.RoleUser, Text: text})
	if strings.TrimSpace(resp.Reply) != "" {
		a.emit(Event{Type: EventTranscript, Role: transcript.RoleAgent, Text: resp.Reply})
	}
	return nil
}

// SetMuted is a no-op: there is no open microphone stream to mute.
func (a *TurnBasedAdapter) SetMuted(bool) error { return nil }

func (a *TurnBasedAdapter) Disconnect() error {
	a.mu.Lock()
	convID := a.conversationID
	a.closed = true
	a.mu.Unlock()

	if convID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.postJSON(ctx, "/v1/conversations/"+convID+"/end", map[string]any{}, nil)
	}
	a.closeOnce.Do(func() {
		if a.events != nil {
			close(a.events)
		}
	})
	return nil
}

func (a *TurnBasedAdapter) ConversationID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversationID
}

func (a *TurnBasedAdapter) emit(evt Event) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}
	a.events <- evt
}

func (a *TurnBasedAdapter) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("xi-api-key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("agent returned %d (retryable=%v): %s",
			resp.StatusCode, reliability.IsRetryableHTTPStatus(resp.StatusCode), strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
