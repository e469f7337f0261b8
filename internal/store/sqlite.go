package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/protocol-education/school-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrichment_cache (
	key         TEXT PRIMARY KEY,
	payload     BLOB NOT NULL,
	created_at  INTEGER NOT NULL,
	ttl_seconds INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_counters (
	id     INTEGER PRIMARY KEY CHECK (id = 1),
	hits   INTEGER NOT NULL DEFAULT 0,
	misses INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS budget_state (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	ceiling_usd  REAL NOT NULL,
	spent_usd    REAL NOT NULL,
	overrun_usd  REAL NOT NULL DEFAULT 0,
	period_start INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	target      TEXT NOT NULL,
	status      TEXT NOT NULL,
	records     INTEGER NOT NULL DEFAULT 0,
	cost_usd    REAL NOT NULL DEFAULT 0,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enrichment_cache_expires_at ON enrichment_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Timestamps are stored as unix nanoseconds so comparisons in SQL stay
// numeric.
func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetEntry(ctx context.Context, key string) (*model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, payload, created_at, ttl_seconds FROM enrichment_cache WHERE key = ?`,
		key,
	)
	var e model.CacheEntry
	var created int64
	err := row.Scan(&e.Key, &e.Payload, &created, &e.TTLSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cache entry %s", key)
	}
	e.CreatedAt = fromNanos(created)
	return &e, nil
}

func (s *SQLiteStore) PutEntry(ctx context.Context, e model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_cache (key, payload, created_at, ttl_seconds, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   payload = excluded.payload,
		   created_at = excluded.created_at,
		   ttl_seconds = excluded.ttl_seconds,
		   expires_at = excluded.expires_at`,
		e.Key, e.Payload, toNanos(e.CreatedAt), e.TTLSeconds, toNanos(e.ExpiresAt()),
	)
	return eris.Wrapf(err, "sqlite: put cache entry %s", e.Key)
}

func (s *SQLiteStore) DeleteEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM enrichment_cache WHERE key = ?`, key)
	return eris.Wrapf(err, "sqlite: delete cache entry %s", key)
}

func (s *SQLiteStore) CountEntries(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrichment_cache WHERE expires_at > ?`, toNanos(now),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count cache entries")
}

func (s *SQLiteStore) DeleteAllEntries(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM enrichment_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) DeleteExpiredEntries(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM enrichment_cache WHERE expires_at <= ?`, toNanos(now),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired entries")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) LoadCounters(ctx context.Context) (int64, int64, error) {
	var hits, misses int64
	err := s.db.QueryRowContext(ctx,
		`SELECT hits, misses FROM cache_counters WHERE id = 1`,
	).Scan(&hits, &misses)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	return hits, misses, eris.Wrap(err, "sqlite: load counters")
}

func (s *SQLiteStore) AddCounters(ctx context.Context, hits, misses int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_counters (id, hits, misses) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   hits = cache_counters.hits + excluded.hits,
		   misses = cache_counters.misses + excluded.misses`,
		hits, misses,
	)
	return eris.Wrap(err, "sqlite: add counters")
}

func (s *SQLiteStore) ResetCounters(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_counters`)
	return eris.Wrap(err, "sqlite: reset counters")
}

func (s *SQLiteStore) LoadBudget(ctx context.Context) (*model.BudgetState, error) {
	var st model.BudgetState
	var period int64
	err := s.db.QueryRowContext(ctx,
		`SELECT ceiling_usd, spent_usd, overrun_usd, period_start FROM budget_state WHERE id = 1`,
	).Scan(&st.CeilingUSD, &st.SpentUSD, &st.OverrunUSD, &period)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load budget")
	}
	st.PeriodStart = fromNanos(period)
	return &st, nil
}

func (s *SQLiteStore) SaveBudget(ctx context.Context, st model.BudgetState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_state (id, ceiling_usd, spent_usd, overrun_usd, period_start, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   ceiling_usd = excluded.ceiling_usd,
		   spent_usd = excluded.spent_usd,
		   overrun_usd = excluded.overrun_usd,
		   period_start = excluded.period_start,
		   updated_at = excluded.updated_at`,
		st.CeilingUSD, st.SpentUSD, st.OverrunUSD, toNanos(st.PeriodStart), toNanos(time.Now()),
	)
	return eris.Wrap(err, "sqlite: save budget")
}

func (s *SQLiteStore) RecordRun(ctx context.Context, r model.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, mode, target, status, records, cost_usd, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Mode, r.Target, string(r.Status), r.Records, r.CostUSD,
		toNanos(r.StartedAt), toNanos(r.FinishedAt),
	)
	return eris.Wrapf(err, "sqlite: record run %s", r.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, target, status, records, cost_usd, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.RunRecord, error) {
	var r model.RunRecord
	var status string
	var started, finished int64
	if err := row.Scan(&r.ID, &r.Mode, &r.Target, &status, &r.Records, &r.CostUSD, &started, &finished); err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}
	r.Status = model.Status(status)
	r.StartedAt = fromNanos(started)
	r.FinishedAt = fromNanos(finished)
	return &r, nil
}
