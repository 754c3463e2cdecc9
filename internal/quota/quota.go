package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Gate answers how many practice minutes a user has left before a
// session is allowed to start.
type Gate interface {
	RemainingMinutes(ctx context.Context, userID string) (int, error)
	RecordUsage(ctx context.Context, userID string, minutes float64) error
	Close() error
}

// Unlimited never denies anyone; used when no database is configured.
type Unlimited struct{}

func (Unlimited) RemainingMinutes(context.Context, string) (int, error) { return 1 << 20, nil }
func (Unlimited) RecordUsage(context.Context, string, float64) error    { return nil }
func (Unlimited) Close() error                                          { return nil }

// PostgresGate tracks per-user usage against a monthly allowance.
type PostgresGate struct {
	pool      *pgxpool.Pool
	allowance int
}

func NewPostgresGate(ctx context.Context, databaseURL string, allowanceMinutes int) (*PostgresGate, error) {
	if allowanceMinutes <= 0 {
		allowanceMinutes = 120
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS usage_minutes (
			user_id TEXT NOT NULL,
			period TEXT NOT NULL,
			minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, period)
		);`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}
	return &PostgresGate{pool: pool, allowance: allowanceMinutes}, nil
}

func (g *PostgresGate) RemainingMinutes(ctx context.Context, userID string) (int, error) {
	var used float64
	err := g.pool.QueryRow(ctx,
		`SELECT minutes FROM usage_minutes WHERE user_id=$1 AND period=to_char(now(), 'YYYY-MM')`,
		userID,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return g.allowance, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query usage: %w", err)
	}
	remaining := g.allowance - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (g *PostgresGate) RecordUsage(ctx context.Context, userID string, minutes float64) error {
	if minutes <= 0 {
		return nil
	}
	_, err := g.pool.Exec(ctx,
		`INSERT INTO usage_minutes (user_id, period, minutes)
		 VALUES ($1, to_char(now(), 'YYYY-MM'), $2)
		 ON CONFLICT (user_id, period) DO UPDATE SET minutes = usage_minutes.minutes + EXCLUDED.minutes`,
		userID, minutes,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (g *PostgresGate) Close() error {
	g.pool.Close()
	return nil
}

// NewGate creates a postgres-backed gate when configured, otherwise unlimited.
func NewGate(ctx context.Context, databaseURL string, allowanceMinutes int) (Gate, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return Unlimited{}, nil
	}
	return NewPostgresGate(ctx, databaseURL, allowanceMinutes)
}
