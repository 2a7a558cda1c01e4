package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/speedmon/internal/domain"
	"github.com/hamed0406/speedmon/internal/repo"
)

var _ repo.CycleStore = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cycles (
  id             TEXT PRIMARY KEY,
  kind           TEXT NOT NULL,
  state          TEXT NOT NULL,
  min_mbps       DOUBLE PRECISION NOT NULL,
  rate_mbps      DOUBLE PRECISION NOT NULL,
  error_kind     TEXT NOT NULL DEFAULT '',
  detail         TEXT NOT NULL DEFAULT '',
  bytes          BIGINT NOT NULL DEFAULT 0,
  elapsed_ms     BIGINT NOT NULL DEFAULT 0,
  alert_decision TEXT NOT NULL,
  started_at     TIMESTAMPTZ NOT NULL,
  finished_at    TIMESTAMPTZ NULL
);

CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles (started_at DESC);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the cycles table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Append upserts by id, so a cycle stored twice keeps its latest state.
func (s *Store) Append(ctx context.Context, r *domain.CycleRecord) error {
	var finished *time.Time
	if !r.FinishedAt.IsZero() {
		finished = &r.FinishedAt
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO cycles
  (id, kind, state, min_mbps, rate_mbps, error_kind, detail, bytes, elapsed_ms, alert_decision, started_at, finished_at)
VALUES
  ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  rate_mbps = EXCLUDED.rate_mbps,
  error_kind = EXCLUDED.error_kind,
  detail = EXCLUDED.detail,
  bytes = EXCLUDED.bytes,
  elapsed_ms = EXCLUDED.elapsed_ms,
  alert_decision = EXCLUDED.alert_decision,
  finished_at = EXCLUDED.finished_at`,
		r.ID, string(r.Kind), string(r.State), r.Threshold, r.Result.RateMbps,
		string(r.Result.Error), r.Result.Detail, r.Result.Bytes, r.Result.Elapsed.Milliseconds(),
		string(r.Decision), r.StartedAt, finished,
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

const selectCols = `id, kind, state, min_mbps, rate_mbps, error_kind, detail, bytes, elapsed_ms, alert_decision, started_at, finished_at`

func (s *Store) Recent(ctx context.Context, limit int) ([]domain.CycleRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectCols+`
		   FROM cycles
		  ORDER BY started_at DESC, id DESC
		  LIMIT $1`, repo.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("recent cycles: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleRecord
	for rows.Next() {
		r, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (*domain.CycleRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectCols+` FROM cycles WHERE id = $1`, id)
	r, err := scanCycle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanCycle(row pgx.Row) (domain.CycleRecord, error) {
	var (
		r                              domain.CycleRecord
		kind, state, errKind, decision string
		elapsedMS                      int64
		finished                       *time.Time
	)
	err := row.Scan(&r.ID, &kind, &state, &r.Threshold, &r.Result.RateMbps, &errKind,
		&r.Result.Detail, &r.Result.Bytes, &elapsedMS, &decision, &r.StartedAt, &finished)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan cycle: %w", err)
	}
	r.Kind = domain.Kind(kind)
	r.State = domain.CycleState(state)
	r.Decision = domain.AlertDecision(decision)
	r.Result.Kind = r.Kind
	r.Result.Error = domain.ErrorKind(errKind)
	r.Result.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if finished != nil {
		r.FinishedAt = *finished
		r.Result.CompletedAt = *finished
	}
	return r, nil
}
