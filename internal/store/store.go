package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CallKind string

const (
	CallExtraction CallKind = "extraction"
	CallChat       CallKind = "chat"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Call is one round-trip to the model. Subject is the schema name for
// extractions and the session ID for chat turns.
type Call struct {
	ID        uuid.UUID     `json:"id"`
	Kind      CallKind      `json:"kind"`
	Subject   string        `json:"subject"`
	Model     string        `json:"model"`
	Prompt    string        `json:"prompt"`
	Response  string        `json:"response"`
	Status    string        `json:"status"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS model_calls (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	subject     TEXT NOT NULL,
	model       TEXT NOT NULL,
	prompt      TEXT NOT NULL,
	response    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_model_calls_kind_created ON model_calls (kind, created_at DESC);`

// Migrate creates the call log table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
