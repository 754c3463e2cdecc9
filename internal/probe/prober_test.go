package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmertens/parley/internal/channel"
)

type stubChecker struct {
	latency time.Duration
	err     error
	delay   time.Duration
}

func (s stubChecker) Check(ctx context.Context, _ string) (time.Duration, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.latency, s.err
}

func TestProbePrefersDirect(t *testing.T) {
	p := NewProber(
		stubChecker{latency: 120 * time.Millisecond},
		stubChecker{latency: 60 * time.Millisecond},
		time.Second, nil)

	res := p.Probe(context.Background(), "agent-1")
	if res.Mode != channel.ModeDirect {
		t.Fatalf("Mode = %q, want direct", res.Mode)
	}
	if !res.DirectAvailable || !res.ProxyAvailable {
		t.Fatalf("availability = %+v", res)
	}
	if res.DirectLatencyMS != 120 || res.ProxyLatencyMS != 60 {
		t.Fatalf("latencies = %+v", res)
	}
}

func TestProbeFallsBackToRelay(t *testing.T) {
	p := NewProber(
		stubChecker{err: errors.New("handshake blocked")},
		stubChecker{latency: 180 * time.Millisecond},
		time.Second, nil)

	res := p.Probe(context.Background(), "agent-1")
	if res.Mode != channel.ModeRelay {
		t.Fatalf("Mode = %q, want relay", res.Mode)
	}
	if res.DirectAvailable {
		t.Fatalf("direct reported available: %+v", res)
	}
	if res.ProxyLatencyMS != 180 {
		t.Fatalf("ProxyLatencyMS = %d", res.ProxyLatencyMS)
	}
}

func TestProbeFallsBackToTurnBased(t *testing.T) {
	p := NewProber(
		stubChecker{err: errors.New("direct refused")},
		stubChecker{err: errors.New("relay refused")},
		time.Second, nil)

	res := p.Probe(context.Background(), "agent-1")
	if res.Mode != channel.ModeTurnBased {
		t.Fatalf("Mode = %q, want turnBased", res.Mode)
	}
	if res.Err == "" {
		t.Fatalf("expected error detail in result")
	}
}

func TestProbeTimesOutSlowCandidate(t *testing.T) {
	p := NewProber(
		stubChecker{delay: time.Second, latency: 10 * time.Millisecond},
		stubChecker{latency: 90 * time.Millisecond},
		50*time.Millisecond, nil)

	res := p.Probe(context.Background(), "agent-1")
	if res.Mode != channel.ModeRelay {
		t.Fatalf("Mode = %q, want relay when direct times out", res.Mode)
	}
}

func TestVerifyRelay(t *testing.T) {
	p := NewProber(
		stubChecker{latency: time.Millisecond},
		stubChecker{err: errors.New("relay down")},
		time.Second, nil)
	if err := p.VerifyRelay(context.Background(), "agent-1"); err == nil {
		t.Fatalf("expected relay verification failure")
	}

	p = NewProber(stubChecker{}, stubChecker{latency: time.Millisecond}, time.Second, nil)
	if err := p.VerifyRelay(context.Background(), "agent-1"); err != nil {
		t.Fatalf("VerifyRelay() error = %v", err)
	}
}

func TestWSCheckerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("agent_id"); got != "agent-1" {
			t.Errorf("agent_id = %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"message_type":"pong"}`))
	}))
	defer srv.Close()

	c := NewWSChecker("ws"+strings.TrimPrefix(srv.URL, "http"), "key", "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	latency, err := c.Check(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if latency <= 0 {
		t.Fatalf("latency = %v", latency)
	}
}

func TestWSCheckerUnreachable(t *testing.T) {
	c := NewWSChecker("ws://127.0.0.1:1/v1/realtime", "", "")
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := c.Check(ctx, "agent-1"); err == nil {
		t.Fatalf("expected dial failure")
	}
}
