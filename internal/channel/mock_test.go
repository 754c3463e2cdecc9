package channel

import (
	"context"
	"strings"
	"testing"

	"github.com/jmertens/parley/internal/transcript"
)

func TestMockAdapterLifecycle(t *testing.T) {
	a := NewMockAdapter()
	events, err := a.Connect(context.Background(), "agent-1", ScenarioContext{ScenarioID: "interview"}, "dev-1")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	first := <-events
	if first.Type != EventConnected {
		t.Fatalf("first event = %v, want connected", first.Type)
	}
	if !strings.HasPrefix(first.ConversationID, "mock-") {
		t.Fatalf("ConversationID = %q, want mock- prefix", first.ConversationID)
	}
	if a.ConversationID() != first.ConversationID {
		t.Fatalf("ConversationID() = %q, want %q", a.ConversationID(), first.ConversationID)
	}

	greeting := <-events
	if greeting.Type != EventTranscript || greeting.Role != transcript.RoleAgent {
		t.Fatalf("greeting = %+v", greeting)
	}

	if err := a.SendUserText(context.Background(), "hello"); err != nil {
		t.Fatalf("SendUserText() error = %v", err)
	}
	user := <-events
	if user.Role != transcript.RoleUser || user.Text != "hello" {
		t.Fatalf("user event = %+v", user)
	}
	reply := <-events
	if reply.Role != transcript.RoleAgent || reply.Text == "" {
		t.Fatalf("reply event = %+v", reply)
	}

	if err := a.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := a.Disconnect(); err != nil {
		t.Fatalf("second Disconnect() error = %v", err)
	}
	if _, open := <-events; open {
		t.Fatalf("events channel still open after disconnect")
	}
}

func TestMockAdapterSimulatesSpeechEveryEighthChunk(t *testing.T) {
	a := NewMockAdapter()
	events, err := a.Connect(context.Background(), "agent-1", ScenarioContext{}, "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	<-events // connected
	<-events // greeting

	for i := 0; i < 7; i++ {
		if err := a.SendAudioChunk(context.Background(), "AAAA", 16000); err != nil {
			t.Fatalf("SendAudioChunk() error = %v", err)
		}
	}
	select {
	case evt := <-events:
		t.Fatalf("unexpected event before eighth chunk: %+v", evt)
	default:
	}

	if err := a.SendAudioChunk(context.Background(), "AAAA", 16000); err != nil {
		t.Fatalf("SendAudioChunk() error = %v", err)
	}
	user := <-events
	agent := <-events
	if user.Role != transcript.RoleUser || agent.Role != transcript.RoleAgent {
		t.Fatalf("simulated exchange = %+v / %+v", user, agent)
	}
}

func TestMockAdapterMutedChunksIgnored(t *testing.T) {
	a := NewMockAdapter()
	events, _ := a.Connect(context.Background(), "agent-1", ScenarioContext{}, "")
	<-events
	<-events

	if err := a.SetMuted(true); err != nil {
		t.Fatalf("SetMuted() error = %v", err)
	}
	for i := 0; i < 16; i++ {
		if err := a.SendAudioChunk(context.Background(), "AAAA", 16000); err != nil {
			t.Fatalf("SendAudioChunk() error = %v", err)
		}
	}
	select {
	case evt := <-events:
		t.Fatalf("muted chunk produced event: %+v", evt)
	default:
	}
}
