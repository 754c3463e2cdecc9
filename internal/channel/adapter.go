package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmertens/parley/internal/transcript"
)

// Mode selects the transport used to reach the conversational agent.
type Mode string

const (
	ModeDirect    Mode = "direct"
	ModeRelay     Mode = "relay"
	ModeTurnBased Mode = "turnBased"
	ModeMock      Mode = "mock"
)

// ParseMode validates a client-supplied connection mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(s)) {
	case ModeDirect:
		return ModeDirect, nil
	case ModeRelay:
		return ModeRelay, nil
	case ModeTurnBased:
		return ModeTurnBased, nil
	case ModeMock:
		return ModeMock, nil
	default:
		return "", fmt.Errorf("unsupported connection mode %q", s)
	}
}

type EventType string

const (
	EventConnected    EventType = "connected"
	EventTranscript   EventType = "transcript"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
)

// Event is emitted by an Adapter; entries arrive strictly in
// conversational order on a single channel.
type Event struct {
	Type           EventType
	ConversationID string
	Role           transcript.Role
	Text           string
	Code           string
	Detail         string
	Retryable      bool
}

// ScenarioContext describes the training scenario handed to the agent,
// the coach and the analysis service.
type ScenarioContext struct {
	ScenarioID string            `json:"scenario_id"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// ErrAudioUnsupported is returned by transports that exchange discrete
// text turns and cannot accept streamed microphone audio.
var ErrAudioUnsupported = errors.New("audio streaming not supported by this channel")

// Adapter is a uniform wrapper over one concrete transport to the
// conversational agent. The orchestrator never branches on mode after
// instantiation.
type Adapter interface {
	// Connect opens the channel and returns its event stream. The stream is
	// closed on teardown; a connected event carrying the conversation id is
	// the first lifecycle event on a healthy channel.
	Connect(ctx context.Context, agentID string, scenario ScenarioContext, deviceID string) (<-chan Event, error)
	SendAudioChunk(ctx context.Context, audioBase64 string, sampleRate int) error
	SendUserText(ctx context.Context, text string) error
	SetMuted(muted bool) error
	// Disconnect releases the transport (and with it the capture device held
	// on the client side). Idempotent.
	Disconnect() error
	ConversationID() string
	Mode() Mode
}

// Config controls adapter construction.
type Config struct {
	AgentWSURL   string
	RelayWSURL   string
	AgentHTTPURL string
	APIKey       string
	RelayToken   string
}

// New builds the adapter matching mode.
func New(mode Mode, cfg Config) (Adapter, error) {
	switch mode {
	case ModeDirect:
		if strings.TrimSpace(cfg.AgentWSURL) == "" {
			return nil, errors.New("agent websocket url is required for direct mode")
		}
		return newRealtimeAdapter(ModeDirect, cfg.AgentWSURL, cfg.APIKey, ""), nil
	case ModeRelay:
		if strings.TrimSpace(cfg.RelayWSURL) == "" {
			return nil, errors.New("relay websocket url is required for relay mode")
		}
		return newRealtimeAdapter(ModeRelay, cfg.RelayWSURL, cfg.APIKey, cfg.RelayToken), nil
	case ModeTurnBased:
		if strings.TrimSpace(cfg.AgentHTTPURL) == "" {
			return nil, errors.New("agent HTTP url is required for turn-based mode")
		}
		return NewTurnBasedAdapter(cfg.AgentHTTPURL, cfg.APIKey), nil
	case ModeMock:
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported connection mode %q", mode)
	}
}
