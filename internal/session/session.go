package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmertens/parley/internal/analysis"
	"github.com/jmertens/parley/internal/channel"
	"github.com/jmertens/parley/internal/transcript"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusStarting  Status = "starting"
	StatusConnected Status = "connected"
	StatusEnding    Status = "ending"
	StatusAnalyzing Status = "analyzing"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

var ErrNotFound = errors.New("session not found")

// validNext encodes the lifecycle: a session moves strictly forward,
// with failed reachable from every non-terminal state after idle.
var validNext = map[Status][]Status{
	StatusIdle:      {StatusStarting},
	StatusStarting:  {StatusConnected, StatusFailed},
	StatusConnected: {StatusEnding, StatusFailed},
	StatusEnding:    {StatusAnalyzing, StatusFailed},
	StatusAnalyzing: {StatusComplete, StatusFailed},
}

// Session is a live training conversation. RecordID is empty until the
// store has persisted the session.
type Session struct {
	ID             string                  `json:"session_id"`
	RecordID       string                  `json:"record_id,omitempty"`
	UserID         string                  `json:"user_id"`
	AgentID        string                  `json:"agent_id"`
	Scenario       channel.ScenarioContext `json:"scenario"`
	Mode           channel.Mode            `json:"mode"`
	Status         Status                  `json:"status"`
	ConversationID string                  `json:"conversation_id,omitempty"`
	Transcript     []transcript.Entry      `json:"transcript,omitempty"`
	// StartedAt is the connected instant; the elapsed clock and entry
	// timestamps are measured from it, never from session creation.
	StartedAt       time.Time          `json:"started_at,omitempty"`
	DurationSeconds float64            `json:"duration_seconds,omitempty"`
	ErrorCode       string             `json:"error_code,omitempty"`
	ErrorDetail     string             `json:"error_detail,omitempty"`
	Analysis        *analysis.Artifact `json:"analysis,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	LastActivityAt  time.Time          `json:"last_activity_at"`

	durationFrozen bool
}

// Active reports whether the session still occupies engine resources.
func (s *Session) Active() bool {
	switch s.Status {
	case StatusComplete, StatusFailed:
		return false
	default:
		return true
	}
}

// Elapsed returns conversation seconds at a given instant. Before the
// channel connects it is zero; after StopClock it stays frozen.
func (s *Session) Elapsed(at time.Time) float64 {
	if s.durationFrozen {
		return s.DurationSeconds
	}
	if s.StartedAt.IsZero() || at.Before(s.StartedAt) {
		return 0
	}
	return at.Sub(s.StartedAt).Seconds()
}

// Registry holds all sessions known to this process.
type Registry struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 5 * time.Minute
	}
	return &Registry{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (r *Registry) SetExpireHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

func (r *Registry) Create(userID, agentID string, scenario channel.ScenarioContext, mode channel.Mode) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		AgentID:        agentID,
		Scenario:       scenario,
		Mode:           mode,
		Status:         StatusIdle,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return clone(s)
}

func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// SetStatus advances the lifecycle. Invalid transitions are rejected so
// a racing late event can never resurrect a terminal session.
func (r *Registry) SetStatus(sessionID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !transitionAllowed(s.Status, status) {
		return fmt.Errorf("invalid transition %s -> %s", s.Status, status)
	}
	s.Status = status
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func transitionAllowed(from, to Status) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (r *Registry) SetRecordID(sessionID, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.RecordID = recordID
	return nil
}

// MarkConnected records the conversation id and starts the elapsed
// clock at the connected instant.
func (r *Registry) MarkConnected(sessionID, conversationID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !transitionAllowed(s.Status, StatusConnected) {
		return fmt.Errorf("invalid transition %s -> %s", s.Status, StatusConnected)
	}
	s.Status = StatusConnected
	s.ConversationID = conversationID
	s.StartedAt = at.UTC()
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// AppendEntry adds a transcript entry stamped with conversation-relative
// elapsed seconds, and returns the stamped entry.
func (r *Registry) AppendEntry(sessionID string, role transcript.Role, text string, at time.Time) (transcript.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return transcript.Entry{}, ErrNotFound
	}
	entry := transcript.Entry{Role: role, Text: text, ElapsedTime: s.Elapsed(at.UTC())}
	s.Transcript = append(s.Transcript, entry)
	s.LastActivityAt = time.Now().UTC()
	return entry, nil
}

// StopClock freezes the session duration. Only the first call takes
// effect; every later report of the duration sees the same value.
func (r *Registry) StopClock(sessionID string, at time.Time) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	if !s.durationFrozen {
		s.DurationSeconds = s.Elapsed(at.UTC())
		s.durationFrozen = true
	}
	return s.DurationSeconds, nil
}

// Fail moves a session to the failed terminal state. Failing an already
// terminal session is a no-op so the first failure wins.
func (r *Registry) Fail(sessionID, code, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status == StatusComplete || s.Status == StatusFailed {
		return nil
	}
	s.Status = StatusFailed
	s.ErrorCode = code
	s.ErrorDetail = detail
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// AttachAnalysis stores the artifact exactly once.
func (r *Registry) AttachAnalysis(sessionID string, artifact analysis.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Analysis != nil {
		return fmt.Errorf("analysis already attached to session %s", sessionID)
	}
	a := artifact
	s.Analysis = &a
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (r *Registry) Touch(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.sessions {
		if s.Active() {
			count++
		}
	}
	return count
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireInactive()
			}
		}
	}()
}

func (r *Registry) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	r.mu.Lock()
	for _, s := range r.sessions {
		if !s.Active() {
			continue
		}
		if now.Sub(s.LastActivityAt) < r.inactivityTimeout {
			continue
		}
		s.Status = StatusFailed
		s.ErrorCode = "session_inactive"
		s.ErrorDetail = "no activity within the inactivity timeout"
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := r.onExpire
	r.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	if s.Transcript != nil {
		c.Transcript = append([]transcript.Entry(nil), s.Transcript...)
	}
	if s.Analysis != nil {
		a := *s.Analysis
		c.Analysis = &a
	}
	if s.Scenario.Variables != nil {
		vars := make(map[string]string, len(s.Scenario.Variables))
		for k, v := range s.Scenario.Variables {
			vars[k] = v
		}
		c.Scenario.Variables = vars
	}
	return &c
}
