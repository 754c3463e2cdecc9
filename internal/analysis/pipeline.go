package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmertens/parley/internal/audio"
	"github.com/jmertens/parley/internal/observability"
	"github.com/jmertens/parley/internal/policy"
	"github.com/jmertens/parley/internal/reliability"
)

// Pipeline runs the post-session stages in order: fetch the recording,
// evaluate the conversation, persist the artifact. Only the fetch stage
// is allowed to fail softly.
type Pipeline struct {
	store    Store
	service  Service
	attempts int
	delay    time.Duration
	metrics  *observability.Metrics
}

func NewPipeline(store Store, service Service, attempts int, delay time.Duration, metrics *observability.Metrics) *Pipeline {
	if attempts <= 0 {
		attempts = 10
	}
	if delay <= 0 {
		delay = 3 * time.Second
	}
	return &Pipeline{store: store, service: service, attempts: attempts, delay: delay, metrics: metrics}
}

// Run executes the pipeline. progress is called when each stage begins;
// it may be nil. The returned artifact has AudioBacked=false when the
// recording never became available within the retry budget.
func (p *Pipeline) Run(ctx context.Context, in Input, progress func(Stage)) (Artifact, error) {
	notify := func(stage Stage) {
		if progress != nil {
			progress(stage)
		}
	}

	notify(StageFetchingAudio)
	start := time.Now()
	wav, err := p.fetchAudio(ctx, in)
	p.metrics.ObserveAnalysisStage(string(StageFetchingAudio), time.Since(start))
	if err != nil {
		return Artifact{}, err
	}
	if wav == nil {
		p.metrics.ObserveIndicator("analysis_text_only")
		log.Printf("analysis: recording for conversation %s never became available, evaluating transcript only", in.ConversationID)
	}

	notify(StageAnalyzing)
	start = time.Now()
	artifact, err := p.service.AnalyzeConversation(ctx, in.Entries, in.Scenario, wav)
	p.metrics.ObserveAnalysisStage(string(StageAnalyzing), time.Since(start))
	if err != nil {
		p.metrics.ObserveCollaboratorError("analysis", "analyze_failed")
		return Artifact{}, fmt.Errorf("analyze conversation: %w", err)
	}
	artifact.AudioBacked = wav != nil

	notify(StageSaving)
	start = time.Now()
	redacted, changed := policy.RedactTranscript(in.Entries)
	if changed {
		p.metrics.ObserveIndicator("transcript_redacted")
	}
	err = p.store.SaveAnalysis(ctx, SaveParams{
		SessionRecordID: in.RecordID,
		ConversationID:  in.ConversationID,
		Transcript:      redacted,
		DurationSeconds: in.DurationSeconds,
		Artifact:        artifact,
	})
	p.metrics.ObserveAnalysisStage(string(StageSaving), time.Since(start))
	if err != nil {
		p.metrics.ObserveCollaboratorError("store", "save_failed")
		return Artifact{}, fmt.Errorf("save analysis: %w", err)
	}
	return artifact, nil
}

// fetchAudio polls the store until the recording is ready or the retry
// budget is spent. A nil, nil return means degrade to text-only.
func (p *Pipeline) fetchAudio(ctx context.Context, in Input) ([]byte, error) {
	if in.ConversationID == "" {
		return nil, nil
	}
	for attempt := 1; attempt <= p.attempts; attempt++ {
		pcm, err := p.store.FetchRecording(ctx, in.ConversationID)
		if err == nil {
			wav, encErr := audio.EncodeWAVPCM16LE(pcm, in.SampleRate)
			if encErr != nil {
				log.Printf("analysis: encode recording for conversation %s: %v", in.ConversationID, encErr)
				return nil, nil
			}
			return wav, nil
		}
		if !errors.Is(err, ErrRecordingNotReady) {
			log.Printf("analysis: fetch recording attempt %d/%d: %v", attempt, p.attempts, err)
		}
		if attempt == p.attempts {
			break
		}
		select {
		case <-time.After(reliability.FixedBackoff(attempt, p.delay)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, nil
}
