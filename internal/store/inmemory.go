package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jmertens/parley/internal/analysis"
)

// InMemoryStore is an in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*sessionRecord
	recordings map[string][]byte
}

type sessionRecord struct {
	params         CreateSessionParams
	conversationID string
	saved          *analysis.SaveParams
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:   make(map[string]*sessionRecord),
		recordings: make(map[string][]byte),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, params CreateSessionParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.sessions[id] = &sessionRecord{params: params}
	return id, nil
}

func (s *InMemoryStore) UpdateConversationID(_ context.Context, recordID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[recordID]
	if !ok {
		return fmt.Errorf("session %s not found", recordID)
	}
	rec.conversationID = conversationID
	return nil
}

func (s *InMemoryStore) FetchRecording(_ context.Context, conversationID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pcm, ok := s.recordings[conversationID]
	if !ok {
		return nil, analysis.ErrRecordingNotReady
	}
	return pcm, nil
}

func (s *InMemoryStore) SaveAnalysis(_ context.Context, params analysis.SaveParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[params.SessionRecordID]
	if !ok {
		return fmt.Errorf("session %s not found", params.SessionRecordID)
	}
	saved := params
	rec.saved = &saved
	return nil
}

// PutRecording makes a recording available for FetchRecording. Used by
// tests and the local agent stub.
func (s *InMemoryStore) PutRecording(conversationID string, pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[conversationID] = pcm
}

// SavedAnalysis returns what SaveAnalysis stored for a session, if anything.
func (s *InMemoryStore) SavedAnalysis(recordID string) (analysis.SaveParams, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[recordID]
	if !ok || rec.saved == nil {
		return analysis.SaveParams{}, false
	}
	return *rec.saved, true
}

func (s *InMemoryStore) Close() error { return nil }
