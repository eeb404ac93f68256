package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlProgress = `
CREATE TABLE IF NOT EXISTS progress (
    user_id    TEXT        PRIMARY KEY,
    day        INTEGER     NOT NULL DEFAULT 1,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Progress persists each patient's therapy day pointer. It shares the
// trial store's connection pool; all methods are safe for concurrent use.
type Progress struct {
	pool *pgxpool.Pool
}

// NewProgress ensures the progress table exists and returns a store backed
// by the given pool. The pool's lifetime is owned by the caller.
func NewProgress(ctx context.Context, pool *pgxpool.Pool) (*Progress, error) {
	if _, err := pool.Exec(ctx, ddlProgress); err != nil {
		return nil, fmt.Errorf("progress store: migrate: %w", err)
	}
	return &Progress{pool: pool}, nil
}

// Day returns the patient's current therapy day. Patients without a row
// start at day 1.
func (p *Progress) Day(ctx context.Context, userID string) (int, error) {
	const q = `SELECT day FROM progress WHERE user_id = $1`

	var day int
	err := p.pool.QueryRow(ctx, q, userID).Scan(&day)
	if errors.Is(err, pgx.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("progress store: day: %w", err)
	}
	return day, nil
}

// SetDay moves the patient's day pointer, creating the row if needed.
func (p *Progress) SetDay(ctx context.Context, userID string, day int) error {
	const q = `
		INSERT INTO progress (user_id, day, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET day = EXCLUDED.day, updated_at = now()`

	if _, err := p.pool.Exec(ctx, q, userID, day); err != nil {
		return fmt.Errorf("progress store: set day: %w", err)
	}
	return nil
}
