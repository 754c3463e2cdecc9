package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientText       MessageType = "client_text"
	TypeClientControl    MessageType = "client_control"
	TypeSessionState     MessageType = "session_state"
	TypeTranscriptEntry  MessageType = "transcript_entry"
	TypeCoachingHint     MessageType = "coaching_hint"
	TypeClockTick        MessageType = "clock_tick"
	TypeAnalysisProgress MessageType = "analysis_progress"
	TypeSessionComplete  MessageType = "session_complete"
	TypeErrorEvent       MessageType = "error_event"
)

// Client control actions accepted during a live session.
const (
	ActionEnd    = "end"
	ActionMute   = "mute"
	ActionUnmute = "unmute"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

// ClientText carries a typed user turn; used by the turn-based channel.
type ClientText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type SessionState struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"session_id"`
	Status         string      `json:"status"`
	Mode           string      `json:"mode"`
	ConversationID string      `json:"conversation_id,omitempty"`
	ErrorCode      string      `json:"error_code,omitempty"`
	ErrorDetail    string      `json:"error_detail,omitempty"`
}

type TranscriptEntry struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Role        string      `json:"role"`
	Text        string      `json:"text"`
	ElapsedTime float64     `json:"elapsed_time"`
}

type CoachingHint struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id"`
	ContentImpulses []string    `json:"content_impulses"`
	BehavioralCue   string      `json:"behavioral_cue"`
	StrategicBridge string      `json:"strategic_bridge"`
}

type ClockTick struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"session_id"`
	ElapsedSeconds int64       `json:"elapsed_seconds"`
}

type AnalysisProgress struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Stage     string      `json:"stage"`
}

type SessionComplete struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Artifact  json.RawMessage `json:"artifact"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionEnd, ActionMute, ActionUnmute:
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
