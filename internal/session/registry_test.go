package session

import (
	"context"
	"testing"
	"time"

	"github.com/jmertens/parley/internal/analysis"
	"github.com/jmertens/parley/internal/channel"
	"github.com/jmertens/parley/internal/transcript"
)

func TestRegistryLifecycleTransitions(t *testing.T) {
	r := NewRegistry(time.Minute)
	s := r.Create("u1", "agent-1", channel.ScenarioContext{ScenarioID: "interview"}, channel.ModeMock)

	if s.Status != StatusIdle {
		t.Fatalf("initial status = %s", s.Status)
	}
	if err := r.SetStatus(s.ID, StatusConnected); err == nil {
		t.Fatalf("idle -> connected should be rejected")
	}
	if err := r.SetStatus(s.ID, StatusStarting); err != nil {
		t.Fatalf("idle -> starting: %v", err)
	}
	if err := r.MarkConnected(s.ID, "conv-1", time.Now()); err != nil {
		t.Fatalf("starting -> connected: %v", err)
	}
	if err := r.SetStatus(s.ID, StatusComplete); err == nil {
		t.Fatalf("connected -> complete should be rejected")
	}
	if err := r.SetStatus(s.ID, StatusEnding); err != nil {
		t.Fatalf("connected -> ending: %v", err)
	}
	if err := r.SetStatus(s.ID, StatusAnalyzing); err != nil {
		t.Fatalf("ending -> analyzing: %v", err)
	}
	if err := r.SetStatus(s.ID, StatusComplete); err != nil {
		t.Fatalf("analyzing -> complete: %v", err)
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusComplete || got.ConversationID != "conv-1" {
		t.Fatalf("session = %+v", got)
	}
}

func TestRegistryFailIsTerminalAndIdempotent(t *testing.T) {
	r := NewRegistry(time.Minute)
	s := r.Create("u1", "agent-1", channel.ScenarioContext{}, channel.ModeDirect)
	r.SetStatus(s.ID, StatusStarting)

	if err := r.Fail(s.ID, "connect_failed", "dial refused"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	// Second failure must not overwrite the first.
	if err := r.Fail(s.ID, "other", "later"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	got, _ := r.Get(s.ID)
	if got.Status != StatusFailed || got.ErrorCode != "connect_failed" {
		t.Fatalf("session = %+v", got)
	}
	if err := r.SetStatus(s.ID, StatusConnected); err == nil {
		t.Fatalf("failed session accepted a transition")
	}
}

func TestRegistryClockStartsAtConnectAndFreezesOnce(t *testing.T) {
	r := NewRegistry(time.Minute)
	s := r.Create("u1", "agent-1", channel.ScenarioContext{}, channel.ModeMock)
	r.SetStatus(s.ID, StatusStarting)

	connectedAt := time.Now().Add(-30 * time.Second)
	if err := r.MarkConnected(s.ID, "conv-1", connectedAt); err != nil {
		t.Fatalf("MarkConnected() error = %v", err)
	}

	entry, err := r.AppendEntry(s.ID, transcript.RoleAgent, "hello", connectedAt.Add(5*time.Second))
	if err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}
	if entry.ElapsedTime < 4.9 || entry.ElapsedTime > 5.1 {
		t.Fatalf("ElapsedTime = %v, want ~5", entry.ElapsedTime)
	}

	d1, err := r.StopClock(s.ID, connectedAt.Add(20*time.Second))
	if err != nil {
		t.Fatalf("StopClock() error = %v", err)
	}
	if d1 < 19.9 || d1 > 20.1 {
		t.Fatalf("duration = %v, want ~20", d1)
	}
	// Later calls must return the frozen value.
	d2, _ := r.StopClock(s.ID, connectedAt.Add(90*time.Second))
	if d2 != d1 {
		t.Fatalf("duration changed after freeze: %v != %v", d2, d1)
	}
	got, _ := r.Get(s.ID)
	if got.Elapsed(time.Now()) != d1 {
		t.Fatalf("Elapsed after freeze = %v, want %v", got.Elapsed(time.Now()), d1)
	}
}

func TestRegistryAttachAnalysisOnce(t *testing.T) {
	r := NewRegistry(time.Minute)
	s := r.Create("u1", "agent-1", channel.ScenarioContext{}, channel.ModeMock)

	if err := r.AttachAnalysis(s.ID, analysis.Artifact{OverallScore: 70}); err != nil {
		t.Fatalf("AttachAnalysis() error = %v", err)
	}
	if err := r.AttachAnalysis(s.ID, analysis.Artifact{OverallScore: 99}); err == nil {
		t.Fatalf("second AttachAnalysis should fail")
	}
	got, _ := r.Get(s.ID)
	if got.Analysis == nil || got.Analysis.OverallScore != 70 {
		t.Fatalf("analysis = %+v", got.Analysis)
	}
}

func TestRegistrySnapshotsAreIsolated(t *testing.T) {
	r := NewRegistry(time.Minute)
	s := r.Create("u1", "agent-1", channel.ScenarioContext{Variables: map[string]string{"k": "v"}}, channel.ModeMock)
	r.SetStatus(s.ID, StatusStarting)
	r.MarkConnected(s.ID, "conv-1", time.Now())
	r.AppendEntry(s.ID, transcript.RoleUser, "original", time.Now())

	snap, _ := r.Get(s.ID)
	snap.Transcript[0].Text = "mutated"
	snap.Scenario.Variables["k"] = "mutated"

	fresh, _ := r.Get(s.ID)
	if fresh.Transcript[0].Text != "original" {
		t.Fatalf("registry transcript mutated through snapshot")
	}
	if fresh.Scenario.Variables["k"] != "v" {
		t.Fatalf("registry variables mutated through snapshot")
	}
}

func TestRegistryJanitorExpiresInactiveSessions(t *testing.T) {
	r := NewRegistry(30 * time.Millisecond)
	s := r.Create("u1", "agent-1", channel.ScenarioContext{}, channel.ModeMock)
	r.SetStatus(s.ID, StatusStarting)

	expired := make(chan *Session, 1)
	r.SetExpireHook(func(s *Session) { expired <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case got := <-expired:
		if got.ID != s.ID || got.Status != StatusFailed || got.ErrorCode != "session_inactive" {
			t.Fatalf("expired session = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("janitor never expired the session")
	}
	if r.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", r.ActiveCount())
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry(time.Minute)
	if _, err := r.Get("missing"); err != ErrNotFound {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
