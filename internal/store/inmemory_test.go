package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jmertens/parley/internal/analysis"
	"github.com/jmertens/parley/internal/channel"
	"github.com/jmertens/parley/internal/transcript"
)

func TestInMemoryStoreSessionLifecycle(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	id, err := s.CreateSession(ctx, CreateSessionParams{
		UserID:     "u1",
		AgentID:    "agent-1",
		ScenarioID: "interview",
		Mode:       channel.ModeDirect,
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if id == "" {
		t.Fatalf("empty record id")
	}

	if err := s.UpdateConversationID(ctx, id, "conv-1"); err != nil {
		t.Fatalf("UpdateConversationID() error = %v", err)
	}
	if err := s.UpdateConversationID(ctx, "missing", "conv-1"); err == nil {
		t.Fatalf("expected error for unknown record")
	}

	params := analysis.SaveParams{
		SessionRecordID: id,
		ConversationID:  "conv-1",
		Transcript:      []transcript.Entry{{Role: transcript.RoleUser, Text: "hi"}},
		DurationSeconds: 42,
		Artifact:        analysis.Artifact{OverallScore: 80},
	}
	if err := s.SaveAnalysis(ctx, params); err != nil {
		t.Fatalf("SaveAnalysis() error = %v", err)
	}
	saved, ok := s.SavedAnalysis(id)
	if !ok || saved.Artifact.OverallScore != 80 || len(saved.Transcript) != 1 {
		t.Fatalf("saved = %+v ok=%v", saved, ok)
	}

	if err := s.SaveAnalysis(ctx, analysis.SaveParams{SessionRecordID: "missing"}); err == nil {
		t.Fatalf("expected error saving unknown record")
	}
}

func TestInMemoryStoreRecordings(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.FetchRecording(ctx, "conv-9"); !errors.Is(err, analysis.ErrRecordingNotReady) {
		t.Fatalf("FetchRecording() error = %v, want ErrRecordingNotReady", err)
	}

	s.PutRecording("conv-9", []byte{0x01, 0x02})
	pcm, err := s.FetchRecording(ctx, "conv-9")
	if err != nil {
		t.Fatalf("FetchRecording() error = %v", err)
	}
	if len(pcm) != 2 {
		t.Fatalf("pcm = %v", pcm)
	}
}

func TestNewStoreDefaultsToInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("store type = %T, want *InMemoryStore", s)
	}
}
