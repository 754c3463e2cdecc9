package coach

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmertens/parley/internal/channel"
	"github.com/jmertens/parley/internal/transcript"
)

func TestWorth(t *testing.T) {
	cases := []struct {
		utterance string
		want      bool
	}{
		{"", false},
		{"   ", false},
		{"ok", false},
		{"Okay.", false},
		{"I see", false},
		{"go ahead", false},
		{"tell me more", false},
		{"What would you do differently next time?", true},
		{"Why did the project slip by two months?", true},
	}
	for _, tc := range cases {
		if got := Worth(tc.utterance); got != tc.want {
			t.Errorf("Worth(%q) = %v, want %v", tc.utterance, got, tc.want)
		}
	}
}

func TestHTTPGeneratorGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/hints" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Transcript []transcript.Entry `json:"transcript"`
			ScenarioID string             `json:"scenario_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.ScenarioID != "salary" || len(body.Transcript) != 2 {
			t.Errorf("unexpected request: %+v", body)
		}
		json.NewEncoder(w).Encode(Hint{
			ContentImpulses: []string{"Anchor high"},
			BehavioralCue:   "Keep eye contact.",
			StrategicBridge: "Tie the number to market data.",
		})
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, 2*time.Second)
	entries := []transcript.Entry{
		{Role: transcript.RoleAgent, Text: "What salary do you expect?"},
		{Role: transcript.RoleUser, Text: "Somewhere around market rate."},
	}
	hint, err := g.Generate(context.Background(), entries, channel.ScenarioContext{ScenarioID: "salary"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if hint.BehavioralCue != "Keep eye contact." || len(hint.ContentImpulses) != 1 {
		t.Fatalf("hint = %+v", hint)
	}
}

func TestHTTPGeneratorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, time.Second)
	if _, err := g.Generate(context.Background(), nil, channel.ScenarioContext{}); err == nil {
		t.Fatalf("expected error for 503")
	}
}

func TestMockGeneratorHonorsContext(t *testing.T) {
	g := MockGenerator{Delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Generate(ctx, nil, channel.ScenarioContext{}); err == nil {
		t.Fatalf("expected context error")
	}
}
