package channel

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jmertens/parley/internal/transcript"
)

// MockAdapter is an in-process channel used when no agent endpoint is
// configured and by tests.
type MockAdapter struct {
	mu             sync.Mutex
	events         chan Event
	conversationID string
	chunks         int
	replyIdx       int
	muted          bool
	closed         bool
}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

var mockReplies = []string{
	"Interesting. What was the hardest part of that?",
	"How did you measure whether it worked?",
	"If you had to do it again, what would you change?",
	"What did your stakeholders say about the outcome?",
}

func (a *MockAdapter) Mode() Mode { return ModeMock }

func (a *MockAdapter) Connect(_ context.Context, _ string, _ ScenarioContext, _ string) (<-chan Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversationID = "mock-" + uuid.NewString()
	a.events = make(chan Event, 64)
	a.events <- Event{Type: EventConnected, ConversationID: a.conversationID}
	a.events <- Event{Type: EventTranscript, Role: transcript.RoleAgent, Text: "Welcome. Walk me through your most recent project."}
	return a.events, nil
}

func (a *MockAdapter) SendAudioChunk(_ context.Context, audioBase64 string, _ int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.muted || audioBase64 == "" {
		return nil
	}
	a.chunks++
	if a.chunks%8 == 0 {
		a.events <- Event{Type: EventTranscript, Role: transcript.RoleUser, Text: "simulated spoken answer"}
		a.events <- Event{Type: EventTranscript, Role: transcript.RoleAgent, Text: a.nextReplyLocked()}
	}
	return nil
}

func (a *MockAdapter) SendUserText(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.events <- Event{Type: EventTranscript, Role: transcript.RoleUser, Text: text}
	a.events <- Event{Type: EventTranscript, Role: transcript.RoleAgent, Text: a.nextReplyLocked()}
	return nil
}

func (a *MockAdapter) nextReplyLocked() string {
	reply := mockReplies[a.replyIdx%len(mockReplies)]
	a.replyIdx++
	return reply
}

func (a *MockAdapter) SetMuted(muted bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted = muted
	return nil
}

func (a *MockAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.events)
	return nil
}

func (a *MockAdapter) ConversationID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversationID
}
