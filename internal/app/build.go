package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jmertens/parley/internal/analysis"
	"github.com/jmertens/parley/internal/channel"
	"github.com/jmertens/parley/internal/coach"
	"github.com/jmertens/parley/internal/config"
	"github.com/jmertens/parley/internal/httpapi"
	"github.com/jmertens/parley/internal/observability"
	"github.com/jmertens/parley/internal/probe"
	"github.com/jmertens/parley/internal/quota"
	"github.com/jmertens/parley/internal/session"
	"github.com/jmertens/parley/internal/store"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Registry     *session.Registry
	Orchestrator *session.Orchestrator
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	sessionStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	gate, err := quota.NewGate(ctx, cfg.DatabaseURL, cfg.QuotaAllowanceMinutes)
	if err != nil {
		_ = sessionStore.Close()
		return nil, fmt.Errorf("quota gate init failed: %w", err)
	}

	registry := session.NewRegistry(cfg.SessionInactivityTimeout)
	registry.SetExpireHook(func(_ *session.Session) {
		metrics.ObserveSessionEvent("expired")
		metrics.SetActiveSessions(registry.ActiveCount())
	})
	registry.StartJanitor(ctx, 15*time.Second)

	mockOnly := channelMockOnly(cfg)
	if mockOnly {
		log.Printf("channel: in-process mock (no agent credentials configured)")
	}
	channelCfg := channel.Config{
		AgentWSURL:   cfg.AgentWSURL,
		RelayWSURL:   cfg.AgentRelayURL,
		AgentHTTPURL: cfg.AgentHTTPURL,
		APIKey:       cfg.AgentAPIKey,
		RelayToken:   cfg.RelayToken,
	}
	channels := func(mode channel.Mode) (channel.Adapter, error) {
		if mockOnly {
			return channel.NewMockAdapter(), nil
		}
		return channel.New(mode, channelCfg)
	}

	var generator coach.Generator
	switch {
	case strings.TrimSpace(cfg.CoachURL) != "":
		generator = coach.NewHTTPGenerator(cfg.CoachURL, cfg.CoachTimeout)
	case mockOnly:
		generator = coach.MockGenerator{Delay: 300 * time.Millisecond}
	default:
		log.Printf("coach: no service configured, hints disabled")
	}

	var evaluator analysis.Service
	if strings.TrimSpace(cfg.AnalysisURL) != "" {
		evaluator = analysis.NewHTTPService(cfg.AnalysisURL, cfg.AnalysisTimeout)
	} else {
		log.Printf("analysis: no service configured, using transcript-volume scoring")
		evaluator = analysis.MockService{}
	}
	pipeline := analysis.NewPipeline(sessionStore, evaluator, cfg.AudioRetryAttempts, cfg.AudioRetryDelay, metrics)

	prober := probe.NewProber(
		probe.NewWSChecker(cfg.AgentWSURL, cfg.AgentAPIKey, ""),
		probe.NewWSChecker(cfg.AgentRelayURL, cfg.AgentAPIKey, cfg.RelayToken),
		cfg.ProbeTimeout,
		metrics,
	)

	// Worst case: every audio poll attempt plus the evaluation call, with
	// slack for persistence.
	analysisBudget := time.Duration(cfg.AudioRetryAttempts)*cfg.AudioRetryDelay + cfg.AnalysisTimeout + 30*time.Second

	orchestrator := session.NewOrchestrator(session.OrchestratorConfig{
		Registry:       registry,
		Store:          sessionStore,
		Channels:       channels,
		Coach:          generator,
		Analyzer:       pipeline,
		Quota:          gate,
		Metrics:        metrics,
		MinEntries:     cfg.MinTranscriptEntries,
		ClockTick:      cfg.ClockTick,
		SampleRate:     cfg.RecordingSampleRate,
		AnalysisBudget: analysisBudget,
	})

	api := httpapi.New(cfg, registry, orchestrator, prober, gate, metrics)

	cleanup := func() error {
		var errs []string
		if err := gate.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := sessionStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Registry:     registry,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}

// channelMockOnly reports whether every session should run on the
// in-process channel: either forced by config, or in auto mode without
// agent credentials.
func channelMockOnly(cfg config.Config) bool {
	mode := strings.ToLower(strings.TrimSpace(cfg.ChannelMode))
	if mode == "mock" {
		return true
	}
	return mode == "auto" && strings.TrimSpace(cfg.AgentAPIKey) == ""
}
