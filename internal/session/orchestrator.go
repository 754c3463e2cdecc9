package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmertens/parley/internal/analysis"
	"github.com/jmertens/parley/internal/channel"
	"github.com/jmertens/parley/internal/coach"
	"github.com/jmertens/parley/internal/observability"
	"github.com/jmertens/parley/internal/protocol"
	"github.com/jmertens/parley/internal/quota"
	"github.com/jmertens/parley/internal/store"
	"github.com/jmertens/parley/internal/transcript"
)

// ChannelFactory builds the adapter for a connection mode.
type ChannelFactory func(mode channel.Mode) (channel.Adapter, error)

// Analyzer runs the post-session pipeline.
type Analyzer interface {
	Run(ctx context.Context, in analysis.Input, progress func(analysis.Stage)) (analysis.Artifact, error)
}

// Failure codes surfaced in session state and error events.
const (
	FailSetup      = "setup_failed"
	FailConnect    = "connect_failed"
	FailTooShort   = "conversation_too_short"
	FailDropped    = "channel_dropped"
	FailAnalysis   = "analysis_failed"
	FailConnClosed = "connection_closed"
)

// OrchestratorConfig wires an Orchestrator. Coach and Quota may be nil.
type OrchestratorConfig struct {
	Registry   *Registry
	Store      store.Store
	Channels   ChannelFactory
	Coach      coach.Generator
	Analyzer   Analyzer
	Quota      quota.Gate
	Metrics    *observability.Metrics
	MinEntries int
	ClockTick  time.Duration
	SampleRate int
	// AnalysisBudget bounds the whole post-session pipeline, audio
	// polling included.
	AnalysisBudget time.Duration
}

// Orchestrator drives one session at a time through its lifecycle. It
// is shared across sessions; all per-session state lives in Run.
type Orchestrator struct {
	registry   *Registry
	store      store.Store
	channels   ChannelFactory
	coach      coach.Generator
	analyzer   Analyzer
	quota      quota.Gate
	metrics        *observability.Metrics
	minEntries     int
	clockTick      time.Duration
	sampleRate     int
	analysisBudget time.Duration
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.MinEntries < 1 {
		cfg.MinEntries = 2
	}
	if cfg.ClockTick <= 0 {
		cfg.ClockTick = time.Second
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.AnalysisBudget <= 0 {
		cfg.AnalysisBudget = 5 * time.Minute
	}
	return &Orchestrator{
		registry:       cfg.Registry,
		store:          cfg.Store,
		channels:       cfg.Channels,
		coach:          cfg.Coach,
		analyzer:       cfg.Analyzer,
		quota:          cfg.Quota,
		metrics:        cfg.Metrics,
		minEntries:     cfg.MinEntries,
		clockTick:      cfg.ClockTick,
		sampleRate:     cfg.SampleRate,
		analysisBudget: cfg.AnalysisBudget,
	}
}

// Run drives the session until it reaches a terminal state. inbound
// carries parsed client messages and is closed when the client goes
// away; everything for the client is sent on outbound.
func (o *Orchestrator) Run(ctx context.Context, s *Session, inbound <-chan any, outbound chan<- any) error {
	sessionID := s.ID

	emit := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}
	emitState := func() {
		snap, err := o.registry.Get(sessionID)
		if err != nil {
			return
		}
		emit(protocol.SessionState{
			Type:           protocol.TypeSessionState,
			SessionID:      sessionID,
			Status:         string(snap.Status),
			Mode:           string(snap.Mode),
			ConversationID: snap.ConversationID,
			ErrorCode:      snap.ErrorCode,
			ErrorDetail:    snap.ErrorDetail,
		})
	}
	fail := func(code, detail string) {
		if err := o.registry.Fail(sessionID, code, detail); err != nil {
			log.Printf("session %s: fail(%s): %v", sessionID, code, err)
		}
		o.metrics.ObserveSessionEvent("failed")
		o.metrics.SetActiveSessions(o.registry.ActiveCount())
		emitState()
	}

	if err := o.registry.SetStatus(sessionID, StatusStarting); err != nil {
		return err
	}
	o.metrics.ObserveSessionEvent("starting")
	o.metrics.SetActiveSessions(o.registry.ActiveCount())
	emitState()

	recordID, err := o.store.CreateSession(ctx, store.CreateSessionParams{
		UserID:     s.UserID,
		AgentID:    s.AgentID,
		ScenarioID: s.Scenario.ScenarioID,
		Variables:  s.Scenario.Variables,
		Mode:       s.Mode,
	})
	if err != nil {
		fail(FailSetup, err.Error())
		return fmt.Errorf("persist session: %w", err)
	}
	if err := o.registry.SetRecordID(sessionID, recordID); err != nil {
		return err
	}

	adapter, err := o.channels(s.Mode)
	if err != nil {
		fail(FailConnect, err.Error())
		return fmt.Errorf("build channel: %w", err)
	}
	events, err := adapter.Connect(ctx, s.AgentID, s.Scenario, "")
	if err != nil {
		fail(FailConnect, err.Error())
		return fmt.Errorf("connect channel: %w", err)
	}
	defer adapter.Disconnect()

	// Latest-wins coaching state. The sequence counter invalidates
	// in-flight generations; acceptingHints gates delivery once the
	// session starts winding down.
	var hintMu sync.Mutex
	var hintSeq uint64
	acceptingHints := false

	launchHint := func(seq uint64, entries []transcript.Entry) {
		start := time.Now()
		hint, err := o.coach.Generate(ctx, entries, s.Scenario)
		if err != nil {
			o.metrics.ObserveCollaboratorError("coach", "generate_failed")
			log.Printf("session %s: coaching hint: %v", sessionID, err)
			return
		}
		hintMu.Lock()
		deliver := seq == hintSeq && acceptingHints
		hintMu.Unlock()
		if !deliver {
			o.metrics.ObserveOutboundMessage(string(protocol.TypeCoachingHint), "superseded")
			return
		}
		o.metrics.ObserveHintLatency(time.Since(start))
		emit(protocol.CoachingHint{
			Type:            protocol.TypeCoachingHint,
			SessionID:       sessionID,
			ContentImpulses: hint.ContentImpulses,
			BehavioralCue:   hint.BehavioralCue,
			StrategicBridge: hint.StrategicBridge,
		})
	}

	var ticker *time.Ticker
	var tickerC <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	audioWarned := false
	sawDisconnect := false
	connected := false

	handleEntry := func(role transcript.Role, text string) {
		entry, err := o.registry.AppendEntry(sessionID, role, text, time.Now())
		if err != nil {
			return
		}
		emit(protocol.TranscriptEntry{
			Type:        protocol.TypeTranscriptEntry,
			SessionID:   sessionID,
			Role:        string(entry.Role),
			Text:        entry.Text,
			ElapsedTime: entry.ElapsedTime,
		})
		if o.coach == nil || role != transcript.RoleAgent || !coach.Worth(text) {
			return
		}
		snap, err := o.registry.Get(sessionID)
		if err != nil {
			return
		}
		hintMu.Lock()
		hintSeq++
		seq := hintSeq
		accepting := acceptingHints
		hintMu.Unlock()
		if accepting {
			go launchHint(seq, transcript.Tail(snap.Transcript, 12))
		}
	}

loop:
	for {
		select {
		case <-ctx.Done():
			fail(FailConnClosed, "server shutting down")
			return ctx.Err()

		case msg, ok := <-inbound:
			if !ok {
				fail(FailConnClosed, "client connection closed")
				return nil
			}
			_ = o.registry.Touch(sessionID)
			switch m := msg.(type) {
			case protocol.ClientAudioChunk:
				err := adapter.SendAudioChunk(ctx, m.PCM16Base64, m.SampleRate)
				if errors.Is(err, channel.ErrAudioUnsupported) {
					if !audioWarned {
						audioWarned = true
						emit(protocol.ErrorEvent{
							Type:      protocol.TypeErrorEvent,
							SessionID: sessionID,
							Code:      "audio_unsupported",
							Source:    "channel",
							Retryable: false,
							Detail:    "this channel accepts typed turns only",
						})
					}
				} else if err != nil {
					log.Printf("session %s: forward audio: %v", sessionID, err)
				}
			case protocol.ClientText:
				if err := adapter.SendUserText(ctx, m.Text); err != nil {
					log.Printf("session %s: forward text: %v", sessionID, err)
					emit(protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: sessionID,
						Code:      "send_failed",
						Source:    "channel",
						Retryable: true,
						Detail:    err.Error(),
					})
				}
			case protocol.ClientControl:
				switch m.Action {
				case protocol.ActionMute:
					_ = adapter.SetMuted(true)
				case protocol.ActionUnmute:
					_ = adapter.SetMuted(false)
				case protocol.ActionEnd:
					break loop
				}
			}

		case evt, ok := <-events:
			if !ok {
				if sawDisconnect || !connected {
					break loop
				}
				// Transport died without a close notice. Surface the error,
				// and when enough was said analyze the partial conversation
				// instead of discarding it.
				o.metrics.ObserveCollaboratorError("channel", FailDropped)
				if snap, serr := o.registry.Get(sessionID); serr == nil && len(snap.Transcript) >= o.minEntries {
					emit(protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: sessionID,
						Code:      FailDropped,
						Source:    "channel",
						Retryable: false,
						Detail:    "channel closed mid-conversation",
					})
					break loop
				}
				fail(FailDropped, "channel closed mid-conversation")
				return nil
			}
			switch evt.Type {
			case channel.EventConnected:
				connected = true
				if err := o.registry.MarkConnected(sessionID, evt.ConversationID, time.Now()); err != nil {
					log.Printf("session %s: mark connected: %v", sessionID, err)
					continue
				}
				o.metrics.ObserveSessionEvent("connected")
				hintMu.Lock()
				acceptingHints = true
				hintMu.Unlock()
				if evt.ConversationID != "" {
					if err := o.store.UpdateConversationID(ctx, recordID, evt.ConversationID); err != nil {
						log.Printf("session %s: update conversation id: %v", sessionID, err)
					}
				}
				ticker = time.NewTicker(o.clockTick)
				tickerC = ticker.C
				emitState()
			case channel.EventTranscript:
				handleEntry(evt.Role, evt.Text)
			case channel.EventError:
				emit(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      evt.Code,
					Source:    "channel",
					Retryable: evt.Retryable,
					Detail:    evt.Detail,
				})
				o.metrics.ObserveCollaboratorError("channel", evt.Code)
				if !evt.Retryable {
					if snap, serr := o.registry.Get(sessionID); serr == nil && connected && len(snap.Transcript) >= o.minEntries {
						break loop
					}
					fail(FailDropped, evt.Detail)
					return nil
				}
			case channel.EventDisconnected:
				// The agent ended the conversation; wind down normally.
				sawDisconnect = true
				break loop
			}

		case <-tickerC:
			snap, err := o.registry.Get(sessionID)
			if err != nil {
				continue
			}
			emit(protocol.ClockTick{
				Type:           protocol.TypeClockTick,
				SessionID:      sessionID,
				ElapsedSeconds: int64(snap.Elapsed(time.Now().UTC())),
			})
		}
	}

	return o.windDown(ctx, sessionID, recordID, adapter, connected, emit, emitState, fail, &hintMu, &acceptingHints)
}

// windDown runs the ending, analyzing and terminal phases.
func (o *Orchestrator) windDown(
	ctx context.Context,
	sessionID, recordID string,
	adapter channel.Adapter,
	connected bool,
	emit func(any),
	emitState func(),
	fail func(code, detail string),
	hintMu *sync.Mutex,
	acceptingHints *bool,
) error {
	if !connected {
		fail(FailConnect, "channel never connected")
		return nil
	}

	if err := o.registry.SetStatus(sessionID, StatusEnding); err != nil {
		return err
	}
	o.metrics.ObserveSessionEvent("ending")
	emitState()

	// Late hints are meaningless once the conversation is over.
	hintMu.Lock()
	*acceptingHints = false
	hintMu.Unlock()

	conversationID := adapter.ConversationID()
	duration, err := o.registry.StopClock(sessionID, time.Now())
	if err != nil {
		return err
	}
	if err := adapter.Disconnect(); err != nil {
		log.Printf("session %s: disconnect channel: %v", sessionID, err)
	}

	snap, err := o.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if len(snap.Transcript) < o.minEntries {
		fail(FailTooShort, fmt.Sprintf("only %d transcript entries", len(snap.Transcript)))
		return nil
	}

	if err := o.registry.SetStatus(sessionID, StatusAnalyzing); err != nil {
		return err
	}
	o.metrics.ObserveSessionEvent("analyzing")
	emitState()

	// Analysis stays abortable: a client navigating away cancels ctx and
	// with it the audio polling loop, so nothing keeps polling for a
	// viewer that is gone. The budget bounds a wedged collaborator.
	actx, acancel := context.WithTimeout(ctx, o.analysisBudget)
	defer acancel()
	artifact, err := o.analyzer.Run(actx, analysis.Input{
		SessionID:       sessionID,
		RecordID:        recordID,
		ConversationID:  conversationID,
		Entries:         snap.Transcript,
		Scenario:        snap.Scenario,
		DurationSeconds: duration,
		SampleRate:      o.sampleRate,
	}, func(stage analysis.Stage) {
		emit(protocol.AnalysisProgress{
			Type:      protocol.TypeAnalysisProgress,
			SessionID: sessionID,
			Stage:     string(stage),
		})
	})
	if err != nil {
		// The transcript stays on the session record in memory so the
		// client keeps what was said even without an evaluation.
		fail(FailAnalysis, err.Error())
		return nil
	}

	if err := o.registry.AttachAnalysis(sessionID, artifact); err != nil {
		log.Printf("session %s: attach analysis: %v", sessionID, err)
	}
	if err := o.registry.SetStatus(sessionID, StatusComplete); err != nil {
		return err
	}
	o.metrics.ObserveSessionEvent("complete")
	o.metrics.SetActiveSessions(o.registry.ActiveCount())

	if o.quota != nil && snap.UserID != "" {
		if err := o.quota.RecordUsage(actx, snap.UserID, duration/60); err != nil {
			log.Printf("session %s: record usage: %v", sessionID, err)
		}
	}

	emitState()
	payload, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	emit(protocol.SessionComplete{
		Type:      protocol.TypeSessionComplete,
		SessionID: sessionID,
		Artifact:  payload,
	})
	return nil
}
