package probe

import (
	"context"
	"time"

	"github.com/jmertens/parley/internal/channel"
	"github.com/jmertens/parley/internal/observability"
)

// Result is the outcome of a pre-session connectivity probe. It is
// returned to the client verbatim so the UI can explain the chosen mode.
type Result struct {
	Mode            channel.Mode `json:"mode"`
	DirectAvailable bool         `json:"direct_available"`
	ProxyAvailable  bool         `json:"proxy_available"`
	DirectLatencyMS int64        `json:"direct_latency_ms,omitempty"`
	ProxyLatencyMS  int64        `json:"proxy_latency_ms,omitempty"`
	Err             string       `json:"error,omitempty"`
}

// Checker performs a single round trip against one candidate endpoint
// and reports how long it took.
type Checker interface {
	Check(ctx context.Context, agentID string) (time.Duration, error)
}

// Prober races the direct and relay candidates concurrently and picks
// the best reachable mode: direct over relay over turn-based.
type Prober struct {
	direct  Checker
	relay   Checker
	timeout time.Duration
	metrics *observability.Metrics
}

func NewProber(direct, relay Checker, timeout time.Duration, metrics *observability.Metrics) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{direct: direct, relay: relay, timeout: timeout, metrics: metrics}
}

type candidateOutcome struct {
	latency time.Duration
	err     error
}

// Probe runs both candidates in parallel, each under its own deadline,
// and always returns a usable Result. Turn-based needs no probing: it
// is plain HTTPS and is assumed reachable whenever the client reached us.
func (p *Prober) Probe(ctx context.Context, agentID string) Result {
	directCh := p.runCandidate(ctx, "direct", p.direct, agentID)
	relayCh := p.runCandidate(ctx, "relay", p.relay, agentID)

	direct := <-directCh
	relay := <-relayCh

	res := Result{Mode: channel.ModeTurnBased}
	if direct.err == nil {
		res.DirectAvailable = true
		res.DirectLatencyMS = direct.latency.Milliseconds()
	}
	if relay.err == nil {
		res.ProxyAvailable = true
		res.ProxyLatencyMS = relay.latency.Milliseconds()
	}

	switch {
	case res.DirectAvailable:
		res.Mode = channel.ModeDirect
	case res.ProxyAvailable:
		res.Mode = channel.ModeRelay
	default:
		// Both failed; surface the direct error as the representative one.
		if direct.err != nil {
			res.Err = direct.err.Error()
		} else if relay.err != nil {
			res.Err = relay.err.Error()
		}
	}
	return res
}

// VerifyRelay confirms the relay candidate is reachable before a manual
// switch to relay mode is honored.
func (p *Prober) VerifyRelay(ctx context.Context, agentID string) error {
	outcome := <-p.runCandidate(ctx, "relay", p.relay, agentID)
	return outcome.err
}

func (p *Prober) runCandidate(ctx context.Context, name string, c Checker, agentID string) <-chan candidateOutcome {
	out := make(chan candidateOutcome, 1)
	go func() {
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		start := time.Now()
		latency, err := c.Check(cctx, agentID)
		if err != nil {
			p.metrics.ObserveIndicator("probe_" + name + "_failed")
			out <- candidateOutcome{err: err}
			return
		}
		if latency <= 0 {
			latency = time.Since(start)
		}
		p.metrics.ObserveProbeLatency(name, latency)
		out <- candidateOutcome{latency: latency}
	}()
	return out
}
