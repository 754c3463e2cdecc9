package store

import (
	"context"

	"github.com/jmertens/parley/internal/analysis"
	"github.com/jmertens/parley/internal/channel"
)

// CreateSessionParams describes a session record at creation time.
type CreateSessionParams struct {
	UserID     string
	AgentID    string
	ScenarioID string
	Variables  map[string]string
	Mode       channel.Mode
}

// Store persists training sessions and serves session recordings.
type Store interface {
	// CreateSession inserts a new record and returns its id.
	CreateSession(ctx context.Context, params CreateSessionParams) (string, error)
	// UpdateConversationID attaches the agent-side conversation id once known.
	UpdateConversationID(ctx context.Context, recordID, conversationID string) error

	analysis.Store

	Close() error
}
