package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordCall appends a model call to the audit log. Calls are never read
// back into a chat session.
func (s *Store) RecordCall(ctx context.Context, call Call) error {
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO model_calls (id, kind, subject, model, prompt, response, status, error_kind, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		call.ID, string(call.Kind), call.Subject, call.Model, call.Prompt, call.Response,
		call.Status, call.ErrorKind, call.Error, call.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert model call: %w", err)
	}
	return nil
}

// RecentCalls returns up to limit calls, newest first. An empty kind
// matches every kind.
func (s *Store) RecentCalls(ctx context.Context, kind CallKind, limit int) ([]Call, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, subject, model, prompt, response, status, error_kind, error, duration_ms, created_at
		FROM model_calls
		WHERE ($1 = '' OR kind = $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query model calls: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var c Call
		var k string
		var ms int64
		if err := rows.Scan(&c.ID, &k, &c.Subject, &c.Model, &c.Prompt, &c.Response,
			&c.Status, &c.ErrorKind, &c.Error, &ms, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan model call: %w", err)
		}
		c.Kind = CallKind(k)
		c.Duration = time.Duration(ms) * time.Millisecond
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model calls: %w", err)
	}
	return calls, nil
}
