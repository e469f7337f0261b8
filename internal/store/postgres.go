package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/protocol-education/school-intel/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS enrichment_cache (
	key         TEXT PRIMARY KEY,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	ttl_seconds INTEGER NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_counters (
	id     INTEGER PRIMARY KEY CHECK (id = 1),
	hits   BIGINT NOT NULL DEFAULT 0,
	misses BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS budget_state (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	ceiling_usd  DOUBLE PRECISION NOT NULL,
	spent_usd    DOUBLE PRECISION NOT NULL,
	overrun_usd  DOUBLE PRECISION NOT NULL DEFAULT 0,
	period_start TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	target      TEXT NOT NULL,
	status      TEXT NOT NULL,
	records     INTEGER NOT NULL DEFAULT 0,
	cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enrichment_cache_expires_at ON enrichment_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, key string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	err := s.pool.QueryRow(ctx,
		`SELECT key, payload, created_at, ttl_seconds FROM enrichment_cache WHERE key = $1`, key,
	).Scan(&e.Key, &e.Payload, &e.CreatedAt, &e.TTLSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cache entry %s", key)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func (s *PostgresStore) PutEntry(ctx context.Context, e model.CacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_cache (key, payload, created_at, ttl_seconds, expires_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at,
		 ttl_seconds = EXCLUDED.ttl_seconds, expires_at = EXCLUDED.expires_at`,
		e.Key, e.Payload, e.CreatedAt.UTC(), e.TTLSeconds, e.ExpiresAt().UTC(),
	)
	return eris.Wrapf(err, "postgres: put cache entry %s", e.Key)
}

func (s *PostgresStore) DeleteEntry(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM enrichment_cache WHERE key = $1`, key)
	return eris.Wrapf(err, "postgres: delete cache entry %s", key)
}

func (s *PostgresStore) CountEntries(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM enrichment_cache WHERE expires_at > $1`, now.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count cache entries")
}

func (s *PostgresStore) DeleteAllEntries(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM enrichment_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteExpiredEntries(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM enrichment_cache WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired entries")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) LoadCounters(ctx context.Context) (int64, int64, error) {
	var hits, misses int64
	err := s.pool.QueryRow(ctx, `SELECT hits, misses FROM cache_counters WHERE id = 1`).Scan(&hits, &misses)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, nil
	}
	return hits, misses, eris.Wrap(err, "postgres: load counters")
}

func (s *PostgresStore) AddCounters(ctx context.Context, hits, misses int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_counters (id, hits, misses) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET hits = cache_counters.hits + EXCLUDED.hits, misses = cache_counters.misses + EXCLUDED.misses`,
		hits, misses,
	)
	return eris.Wrap(err, "postgres: add counters")
}

func (s *PostgresStore) ResetCounters(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cache_counters`)
	return eris.Wrap(err, "postgres: reset counters")
}

func (s *PostgresStore) LoadBudget(ctx context.Context) (*model.BudgetState, error) {
	var st model.BudgetState
	err := s.pool.QueryRow(ctx,
		`SELECT ceiling_usd, spent_usd, overrun_usd, period_start FROM budget_state WHERE id = 1`,
	).Scan(&st.CeilingUSD, &st.SpentUSD, &st.OverrunUSD, &st.PeriodStart)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load budget")
	}
	st.PeriodStart = st.PeriodStart.UTC()
	return &st, nil
}

func (s *PostgresStore) SaveBudget(ctx context.Context, st model.BudgetState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO budget_state (id, ceiling_usd, spent_usd, overrun_usd, period_start, updated_at)
		 VALUES (1, $1, $2, $3, $4, now())
		 ON CONFLICT (id) DO UPDATE SET ceiling_usd = EXCLUDED.ceiling_usd, spent_usd = EXCLUDED.spent_usd,
		 overrun_usd = EXCLUDED.overrun_usd, period_start = EXCLUDED.period_start, updated_at = now()`,
		st.CeilingUSD, st.SpentUSD, st.OverrunUSD, st.PeriodStart.UTC(),
	)
	return eris.Wrap(err, "postgres: save budget")
}

func (s *PostgresStore) RecordRun(ctx context.Context, r model.RunRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, mode, target, status, records, cost_usd, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Mode, r.Target, string(r.Status), r.Records, r.CostUSD, r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record run %s", r.ID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, mode, target, status, records, cost_usd, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		var status string
		if err := rows.Scan(&r.ID, &r.Mode, &r.Target, &status, &r.Records, &r.CostUSD, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.Status(status)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
