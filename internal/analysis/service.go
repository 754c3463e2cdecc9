package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
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

// HTTPService calls the evaluation service. The WAV recording, when
// present, rides along base64-encoded in the same request.
type HTTPService struct {
	baseURL string
	client  *http.Client
}

func NewHTTPService(baseURL string, timeout time.Duration) *HTTPService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPService{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPService) AnalyzeConversation(ctx context.Context, entries []transcript.Entry, scenario channel.ScenarioContext, audioWAV []byte) (Artifact, error) {
	body := map[string]any{
		"transcript":  entries,
		"scenario_id": scenario.ScenarioID,
		"variables":   scenario.Variables,
	}
	if len(audioWAV) > 0 {
		body["audio_wav_base64"] = base64.StdEncoding.EncodeToString(audioWAV)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Artifact{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/evaluations", bytes.NewReader(payload))
	if err != nil {
		return Artifact{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Artifact{}, fmt.Errorf("call analysis service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Artifact{}, fmt.Errorf("analysis service returned %d (retryable=%v): %s",
			resp.StatusCode, reliability.IsRetryableHTTPStatus(resp.StatusCode), strings.TrimSpace(string(detail)))
	}

	var artifact Artifact
	if err := json.NewDecoder(resp.Body).Decode(&artifact); err != nil {
		return Artifact{}, fmt.Errorf("decode evaluation: %w", err)
	}
	return artifact, nil
}

// MockService scores by transcript volume, used in development when no
// analysis endpoint is configured.
type MockService struct{}

func (MockService) AnalyzeConversation(_ context.Context, entries []transcript.Entry, _ channel.ScenarioContext, _ []byte) (Artifact, error) {
	var spoken []transcript.Entry
	for _, e := range entries {
		if e.Role == transcript.RoleUser {
			spoken = append(spoken, e)
		}
	}
	score := 40 + transcript.WordCount(spoken)/5
	if score > 95 {
		score = 95
	}
	return Artifact{
		OverallScore: score,
		Dimensions:   map[string]int{"clarity": score, "structure": score - 5, "engagement": score + 2},
		Summary:      fmt.Sprintf("Session covered %d exchanges.", len(entries)),
		Strengths:    []string{"Stayed on topic"},
		Improvements: []string{"Give more concrete examples"},
	}, nil
}
