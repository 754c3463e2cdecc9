package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmertens/parley/internal/analysis"
)

// PostgresStore persists sessions and recordings in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS training_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			scenario_id TEXT NOT NULL,
			variables JSONB NOT NULL DEFAULT '{}',
			mode TEXT NOT NULL,
			conversation_id TEXT,
			transcript JSONB,
			duration_seconds DOUBLE PRECISION,
			analysis JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			analyzed_at TIMESTAMPTZ
		);`,
		`CREATE INDEX IF NOT EXISTS idx_training_sessions_user_created ON training_sessions (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS session_recordings (
			conversation_id TEXT PRIMARY KEY,
			pcm BYTEA NOT NULL,
			sample_rate INTEGER NOT NULL DEFAULT 16000,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, params CreateSessionParams) (string, error) {
	id := uuid.NewString()
	variables, err := json.Marshal(params.Variables)
	if err != nil {
		return "", fmt.Errorf("encode variables: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO training_sessions (id, user_id, agent_id, scenario_id, variables, mode)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, params.UserID, params.AgentID, params.ScenarioID, variables, string(params.Mode),
	)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateConversationID(ctx context.Context, recordID, conversationID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE training_sessions SET conversation_id=$2 WHERE id=$1`,
		recordID, conversationID,
	)
	if err != nil {
		return fmt.Errorf("update conversation id: %w", err)
	}
	return nil
}

func (s *PostgresStore) FetchRecording(ctx context.Context, conversationID string) ([]byte, error) {
	var pcm []byte
	err := s.pool.QueryRow(ctx,
		`SELECT pcm FROM session_recordings WHERE conversation_id=$1`,
		conversationID,
	).Scan(&pcm)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, analysis.ErrRecordingNotReady
	}
	if err != nil {
		return nil, fmt.Errorf("fetch recording: %w", err)
	}
	return pcm, nil
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, params analysis.SaveParams) error {
	transcriptJSON, err := json.Marshal(params.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	artifactJSON, err := json.Marshal(params.Artifact)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE training_sessions
		 SET transcript=$2, duration_seconds=$3, analysis=$4, analyzed_at=$5
		 WHERE id=$1`,
		params.SessionRecordID, transcriptJSON, params.DurationSeconds, artifactJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save analysis: session %s not found", params.SessionRecordID)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
