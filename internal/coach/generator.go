package coach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmertens/parley/internal/channel"
	"github.com/jmertens/parley/internal/reliability"
	"github.com/jmertens/parley/internal/transcript"
)

// Hint is the structured coaching guidance pushed to the client while a
// conversation is live.
type Hint struct {
	ContentImpulses []string `json:"content_impulses"`
	BehavioralCue   string   `json:"behavioral_cue"`
	StrategicBridge string   `json:"strategic_bridge"`
}

// Generator produces a hint from the conversation so far. Generate is
// expected to be slow (an LLM call); callers enforce latest-wins.
type Generator interface {
	Generate(ctx context.Context, entries []transcript.Entry, scenario channel.ScenarioContext) (Hint, error)
}

// HTTPGenerator calls the coaching service.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGenerator(baseURL string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HTTPGenerator{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, entries []transcript.Entry, scenario channel.ScenarioContext) (Hint, error) {
	// The coaching model wants a plain prompt block next to the
	// structured entries.
	payload, err := json.Marshal(map[string]any{
		"transcript":      entries,
		"transcript_text": strings.Join(transcript.Lines(entries), "\n"),
		"scenario_id":     scenario.ScenarioID,
		"variables":       scenario.Variables,
	})
	if err != nil {
		return Hint{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/hints", bytes.NewReader(payload))
	if err != nil {
		return Hint{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Hint{}, fmt.Errorf("call coach: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Hint{}, fmt.Errorf("coach returned %d (retryable=%v): %s",
			resp.StatusCode, reliability.IsRetryableHTTPStatus(resp.StatusCode), strings.TrimSpace(string(detail)))
	}

	var hint Hint
	if err := json.NewDecoder(resp.Body).Decode(&hint); err != nil {
		return Hint{}, fmt.Errorf("decode hint: %w", err)
	}
	return hint, nil
}

var fillerUtterances = map[string]struct{}{
	"ok":       {},
	"okay":     {},
	"yes":      {},
	"no":       {},
	"sure":     {},
	"right":    {},
	"mhm":      {},
	"uh-huh":   {},
	"thanks":   {},
	"go on":    {},
	"i see":    {},
	"alright":  {},
	"one sec":  {},
	"hold on":  {},
	"go ahead": {},
}

// Worth reports whether an agent utterance is substantial enough to
// justify a hint generation round trip. Short acknowledgements and
// filler are skipped so the coach is not called on every turn.
func Worth(utterance string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(utterance))
	trimmed = strings.Trim(trimmed, ".!?,")
	if trimmed == "" {
		return false
	}
	if _, filler := fillerUtterances[trimmed]; filler {
		return false
	}
	return len(strings.Fields(trimmed)) >= 4
}

// MockGenerator returns canned hints, used in development and tests.
type MockGenerator struct {
	Delay time.Duration
}

func (g MockGenerator) Generate(ctx context.Context, entries []transcript.Entry, _ channel.ScenarioContext) (Hint, error) {
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return Hint{}, ctx.Err()
		}
	}
	last := ""
	if len(entries) > 0 {
		last = entries[len(entries)-1].Text
	}
	return Hint{
		ContentImpulses: []string{"Name one concrete example", "Quantify the impact"},
		BehavioralCue:   "Slow down and pause before answering.",
		StrategicBridge: "Connect your answer back to: " + last,
	}, nil
}
