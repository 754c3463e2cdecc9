// Command parley-probe exercises a running engine end to end: it runs a
// connectivity probe, drives a synthetic typed session over the
// websocket, and reports per-turn latencies.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmertens/parley/internal/protocol"
)

type options struct {
	baseURL        string
	userID         string
	agentID        string
	scenarioID     string
	mode           string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	probeOnly      bool
	texts          []string
	verbose        bool
}

var defaultUtterances = []string{
	"I would start by restating the problem in my own words.",
	"My main concern is the timeline, so I would negotiate scope first.",
	"Last time this happened I brought data to the conversation.",
	"I think the fair outcome is a staged compromise on both sides.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley-probe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parley-probe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "engine base URL")
	flag.StringVar(&cfg.userID, "user-id", "probe-replay", "user_id for the synthetic session")
	flag.StringVar(&cfg.agentID, "agent-id", "", "agent_id to converse with (server default when empty)")
	flag.StringVar(&cfg.scenarioID, "scenario-id", "probe", "scenario_id for the synthetic session")
	flag.StringVar(&cfg.mode, "mode", "", "force a connection mode instead of probing")
	flag.IntVar(&cfg.turns, "turns", 4, "number of typed turns to send")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 500, "pause between turns")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "max wait for an agent reply per turn")
	flag.BoolVar(&cfg.probeOnly, "probe-only", false, "run the connectivity probe and exit")
	flag.StringVar(&textsRaw, "texts", "", "pipe-separated turn texts (defaults to built-ins)")
	flag.BoolVar(&cfg.verbose, "v", false, "log every websocket event")
	flag.Parse()

	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("-turns must be positive")
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	if strings.TrimSpace(textsRaw) != "" {
		for _, t := range strings.Split(textsRaw, "|") {
			if s := strings.TrimSpace(t); s != "" {
				cfg.texts = append(cfg.texts, s)
			}
		}
	}
	if len(cfg.texts) == 0 {
		cfg.texts = defaultUtterances
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	return cfg, nil
}

func run(cfg options) error {
	client := &http.Client{Timeout: 30 * time.Second}

	probeResult, err := runProbe(client, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("probe: mode=%s direct=%v (%dms) relay=%v (%dms)\n",
		probeResult.Mode, probeResult.DirectAvailable, probeResult.DirectLatencyMS,
		probeResult.ProxyAvailable, probeResult.ProxyLatencyMS)
	if cfg.probeOnly {
		return nil
	}

	mode := cfg.mode
	if mode == "" {
		mode = probeResult.Mode
	}

	sessionID, err := createSession(client, cfg, mode)
	if err != nil {
		return err
	}
	fmt.Printf("session: %s (mode=%s)\n", sessionID, mode)

	return driveSession(cfg, sessionID)
}

type probeResponse struct {
	Mode            string `json:"mode"`
	DirectAvailable bool   `json:"direct_available"`
	ProxyAvailable  bool   `json:"proxy_available"`
	DirectLatencyMS int64  `json:"direct_latency_ms"`
	ProxyLatencyMS  int64  `json:"proxy_latency_ms"`
}

func runProbe(client *http.Client, cfg options) (probeResponse, error) {
	payload, _ := json.Marshal(map[string]string{"agent_id": cfg.agentID})
	resp, err := client.Post(cfg.baseURL+"/v1/connectivity/probe", "application/json", bytes.NewReader(payload))
	if err != nil {
		return probeResponse{}, fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return probeResponse{}, fmt.Errorf("probe returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out probeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return probeResponse{}, fmt.Errorf("decode probe response: %w", err)
	}
	return out, nil
}

func createSession(client *http.Client, cfg options, mode string) (string, error) {
	payload, _ := json.Marshal(map[string]string{
		"user_id":     cfg.userID,
		"agent_id":    cfg.agentID,
		"scenario_id": cfg.scenarioID,
		"mode":        mode,
	})
	resp, err := client.Post(cfg.baseURL+"/v1/sessions", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("create session returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("empty session_id in response")
	}
	return out.SessionID, nil
}

type wsEnvelope struct {
	Type   string `json:"type"`
	Role   string `json:"role,omitempty"`
	Text   string `json:"text,omitempty"`
	Status string `json:"status,omitempty"`
	Stage  string `json:"stage,omitempty"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func driveSession(cfg options, sessionID string) error {
	u, err := url.Parse(cfg.baseURL)
	if err != nil {
		return err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	wsURL := fmt.Sprintf("%s://%s/v1/sessions/ws?session_id=%s", scheme, u.Host, sessionID)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial session ws: %w", err)
	}
	defer conn.Close()

	var replyLatencies []time.Duration
	hints := 0

	readUntil := func(deadline time.Time, stop func(env wsEnvelope) bool) error {
		for {
			_ = conn.SetReadDeadline(deadline)
			var env wsEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				return err
			}
			if cfg.verbose {
				fmt.Printf("  << %s %s %s\n", env.Type, env.Status+env.Stage, env.Text)
			}
			if env.Type == string(protocol.TypeCoachingHint) {
				hints++
			}
			if stop(env) {
				return nil
			}
		}
	}

	// Wait for the channel to come up before the first turn.
	if err := readUntil(time.Now().Add(cfg.turnTimeout), func(env wsEnvelope) bool {
		return env.Type == string(protocol.TypeSessionState) && env.Status == "connected"
	}); err != nil {
		return fmt.Errorf("await connected: %w", err)
	}

	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()
		if err := conn.WriteJSON(protocol.ClientText{
			Type:      protocol.TypeClientText,
			SessionID: sessionID,
			Text:      text,
			TSMs:      start.UnixMilli(),
		}); err != nil {
			return fmt.Errorf("send turn %d: %w", i+1, err)
		}
		if err := readUntil(time.Now().Add(cfg.turnTimeout), func(env wsEnvelope) bool {
			return env.Type == string(protocol.TypeTranscriptEntry) && env.Role == "agent"
		}); err != nil {
			return fmt.Errorf("turn %d: no agent reply: %w", i+1, err)
		}
		latency := time.Since(start)
		replyLatencies = append(replyLatencies, latency)
		fmt.Printf("turn %d: agent reply in %s\n", i+1, latency.Round(time.Millisecond))
		time.Sleep(cfg.interTurnDelay)
	}

	if err := conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sessionID,
		Action:    protocol.ActionEnd,
	}); err != nil {
		return fmt.Errorf("send end: %w", err)
	}
	if err := readUntil(time.Now().Add(2*time.Minute), func(env wsEnvelope) bool {
		return env.Type == string(protocol.TypeSessionComplete) ||
			(env.Type == string(protocol.TypeSessionState) && env.Status == "failed")
	}); err != nil {
		return fmt.Errorf("await completion: %w", err)
	}

	printSummary(replyLatencies, hints)
	return nil
}

func printSummary(latencies []time.Duration, hints int) {
	if len(latencies) == 0 {
		fmt.Println("no turns completed")
		return
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	p95 := sorted[(len(sorted)*95)/100]
	if len(sorted) == 1 {
		p95 = sorted[0]
	}
	fmt.Printf("turns=%d avg=%s p95=%s max=%s hints=%d\n",
		len(sorted),
		(total / time.Duration(len(sorted))).Round(time.Millisecond),
		p95.Round(time.Millisecond),
		sorted[len(sorted)-1].Round(time.Millisecond),
		hints)
}
