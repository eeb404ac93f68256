// Package postgres provides the PostgreSQL-backed implementation of the
// trial log ([trial.Store]).
//
// A single [pgxpool.Pool] is shared by all operations. [NewStore] runs
// [Migrate] so the trials table and its indexes always exist before the
// first write.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Record(ctx, attempt)
//	summary, _ := store.Summarize(ctx, userID)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aphelia-health/aphelia/internal/trial"
)

// Compile-time interface check.
var _ trial.Store = (*Store)(nil)

const ddlTrials = `
CREATE TABLE IF NOT EXISTS trials (
    id          BIGSERIAL    PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    task_id     TEXT         NOT NULL,
    target      TEXT         NOT NULL,
    perceived   TEXT         NOT NULL DEFAULT '',
    similarity  DOUBLE PRECISION NOT NULL,
    latency_ns  BIGINT       NOT NULL DEFAULT 0,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_trials_user_id
    ON trials (user_id);

CREATE INDEX IF NOT EXISTS idx_trials_user_timestamp
    ON trials (user_id, timestamp DESC);
`

// Store is the PostgreSQL trial log. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("trial store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("trial store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("trial store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate ensures the trials table and its indexes exist. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTrials); err != nil {
		return fmt.Errorf("trials ddl: %w", err)
	}
	return nil
}

// Pool exposes the underlying connection pool so sibling stores (such as
// [Progress]) can share it.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping probes the database connection. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Record implements [trial.Store].
func (s *Store) Record(ctx context.Context, a trial.Attempt) error {
	const q = `
		INSERT INTO trials
		    (user_id, task_id, target, perceived, similarity, latency_ns, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, q,
		a.UserID,
		a.TaskID,
		a.Target,
		a.Perceived,
		a.Similarity,
		a.Latency.Nanoseconds(),
		ts,
	)
	if err != nil {
		return fmt.Errorf("trial store: record: %w", err)
	}
	return nil
}

// Summarize implements [trial.Store]. The aggregation runs in Go over the
// most recent [trial.SummaryWindow] rows so the rules stay identical across
// store implementations.
func (s *Store) Summarize(ctx context.Context, userID string) (trial.Summary, error) {
	attempts, err := s.History(ctx, userID, trial.SummaryWindow)
	if err != nil {
		return trial.Summary{}, fmt.Errorf("trial store: summarize: %w", err)
	}
	return trial.Summarize(attempts), nil
}

// History implements [trial.Store], newest first.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]trial.Attempt, error) {
	if limit <= 0 {
		limit = trial.DefaultHistoryLimit
	}
	const q = `
		SELECT user_id, task_id, target, perceived, similarity, latency_ns, timestamp
		FROM   trials
		WHERE  user_id = $1
		ORDER  BY timestamp DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("trial store: history: %w", err)
	}
	defer rows.Close()

	var attempts []trial.Attempt
	for rows.Next() {
		var a trial.Attempt
		var latencyNs int64
		if err := rows.Scan(&a.UserID, &a.TaskID, &a.Target, &a.Perceived, &a.Similarity, &latencyNs, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("trial store: scan: %w", err)
		}
		a.Latency = time.Duration(latencyNs)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trial store: rows: %w", err)
	}
	return attempts, nil
}
