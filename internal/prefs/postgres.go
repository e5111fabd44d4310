package prefs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists user preferences in PostgreSQL.
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
		`CREATE TABLE IF NOT EXISTS voice_preferences (
			user_id TEXT PRIMARY KEY,
			interruption_sensitivity TEXT NOT NULL,
			response_style TEXT NOT NULL,
			error_recovery TEXT NOT NULL,
			feedback_level TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, p Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_preferences (user_id, interruption_sensitivity, response_style, error_recovery, feedback_level, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
			interruption_sensitivity = EXCLUDED.interruption_sensitivity,
			response_style = EXCLUDED.response_style,
			error_recovery = EXCLUDED.error_recovery,
			feedback_level = EXCLUDED.feedback_level,
			updated_at = EXCLUDED.updated_at`,
		p.UserID,
		p.InterruptionSensitivity,
		p.ResponseStyle,
		p.ErrorRecovery,
		p.FeedbackLevel,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// Get returns the stored preferences, or defaults when the user has none.
func (s *PostgresStore) Get(ctx context.Context, userID string) (Preferences, error) {
	var p Preferences
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, interruption_sensitivity, response_style, error_recovery, feedback_level, updated_at
		 FROM voice_preferences WHERE user_id=$1`,
		userID,
	).Scan(&p.UserID, &p.InterruptionSensitivity, &p.ResponseStyle, &p.ErrorRecovery, &p.FeedbackLevel, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Defaults(userID), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("query preferences: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
