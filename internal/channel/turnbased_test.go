package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jmertens/parley/internal/transcript"
)

func TestTurnBasedAdapterConversation(t *testing.T) {
	var ended atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/conversations":
			var body struct {
				AgentID    string `json:"agent_id"`
				ScenarioID string `json:"scenario_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode open request: %v", err)
			}
			if body.AgentID != "agent-7" || body.ScenarioID != "negotiation" {
				t.Errorf("unexpected open request: %+v", body)
			}
			json.NewEncoder(w).Encode(map[string]string{
				"conversation_id": "conv-42",
				"greeting":        "Let's begin. What is your opening offer?",
			})
		case "/v1/conversations/conv-42/turns":
			json.NewEncoder(w).Encode(map[string]string{"reply": "That seems low. Why?"})
		case "/v1/conversations/conv-42/end":
			ended.Store(true)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := NewTurnBasedAdapter(srv.URL, "key")
	events, err := a.Connect(context.Background(), "agent-7", ScenarioContext{ScenarioID: "negotiation"}, "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	connected := <-events
	if connected.Type != EventConnected || connected.ConversationID != "conv-42" {
		t.Fatalf("connected event = %+v", connected)
	}
	greeting := <-events
	if greeting.Role != transcript.RoleAgent {
		t.Fatalf("greeting = %+v", greeting)
	}

	if err := a.SendUserText(context.Background(), "I offer 40k."); err != nil {
		t.Fatalf("SendUserText() error = %v", err)
	}
	user := <-events
	agent := <-events
	if user.Role != transcript.RoleUser || user.Text != "I offer 40k." {
		t.Fatalf("user event = %+v", user)
	}
	if agent.Role != transcript.RoleAgent || agent.Text != "That seems low. Why?" {
		t.Fatalf("agent event = %+v", agent)
	}

	if err := a.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if !ended.Load() {
		t.Fatalf("end endpoint not called")
	}
	if _, open := <-events; open {
		t.Fatalf("events channel still open")
	}
}

func TestTurnBasedAdapterRejectsAudio(t *testing.T) {
	a := NewTurnBasedAdapter("http://127.0.0.1:0", "")
	if err := a.SendAudioChunk(context.Background(), "AAAA", 16000); !errors.Is(err, ErrAudioUnsupported) {
		t.Fatalf("SendAudioChunk() error = %v, want ErrAudioUnsupported", err)
	}
}

func TestTurnBasedAdapterServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewTurnBasedAdapter(srv.URL, "")
	if _, err := a.Connect(context.Background(), "agent-7", ScenarioContext{}, ""); err == nil {
		t.Fatalf("expected error from Connect")
	}
}
