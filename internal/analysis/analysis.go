package analysis

import (
	"context"
	"errors"

	"github.com/jmertens/parley/internal/channel"
	"github.com/jmertens/parley/internal/transcript"
)

// Stage names the phases of the post-session pipeline, reported to the
// client as advisory progress markers.
type Stage string

const (
	StageFetchingAudio Stage = "fetching_audio"
	StageAnalyzing     Stage = "analyzing"
	StageSaving        Stage = "saving"
)

// Artifact is the evaluation produced for a finished conversation.
type Artifact struct {
	OverallScore int            `json:"overall_score"`
	Dimensions   map[string]int `json:"dimensions"`
	Summary      string         `json:"summary"`
	Strengths    []string       `json:"strengths"`
	Improvements []string       `json:"improvements"`
	// AudioBacked is false when the recording never became available and
	// the evaluation was computed from the transcript alone.
	AudioBacked bool `json:"audio_backed"`
}

// ErrRecordingNotReady is returned by a Store while the agent side is
// still finalizing the session recording.
var ErrRecordingNotReady = errors.New("recording not ready")

// SaveParams is everything persisted for a completed session.
type SaveParams struct {
	SessionRecordID string
	ConversationID  string
	Transcript      []transcript.Entry
	DurationSeconds float64
	Artifact        Artifact
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	// FetchRecording returns the raw PCM16LE recording for a conversation,
	// or ErrRecordingNotReady while it is still being finalized.
	FetchRecording(ctx context.Context, conversationID string) ([]byte, error)
	SaveAnalysis(ctx context.Context, params SaveParams) error
}

// Service evaluates a conversation. The audio argument is a complete
// WAV file, or nil for a text-only evaluation.
type Service interface {
	AnalyzeConversation(ctx context.Context, entries []transcript.Entry, scenario channel.ScenarioContext, audioWAV []byte) (Artifact, error)
}

// Input carries everything the pipeline needs about the ended session.
type Input struct {
	SessionID       string
	RecordID        string
	ConversationID  string
	Entries         []transcript.Entry
	Scenario        channel.ScenarioContext
	DurationSeconds float64
	SampleRate      int
}
