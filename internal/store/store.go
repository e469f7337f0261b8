package store

import (
	"context"
	"time"

	"github.com/protocol-education/school-intel/internal/model"
)

// Store defines the persistence interface for cached results, the budget
// ledger and the run log.
type Store interface {
	// Result cache. GetEntry returns nil, nil when the key is absent.
	GetEntry(ctx context.Context, key string) (*model.CacheEntry, error)
	PutEntry(ctx context.Context, entry model.CacheEntry) error
	DeleteEntry(ctx context.Context, key string) error
	CountEntries(ctx context.Context, now time.Time) (int, error)
	DeleteAllEntries(ctx context.Context) (int, error)
	DeleteExpiredEntries(ctx context.Context, now time.Time) (int, error)

	// Cache hit/miss counters, accumulated across processes.
	LoadCounters(ctx context.Context) (hits, misses int64, err error)
	AddCounters(ctx context.Context, hits, misses int64) error
	ResetCounters(ctx context.Context) error

	// Budget ledger. LoadBudget returns nil, nil when nothing was saved.
	LoadBudget(ctx context.Context) (*model.BudgetState, error)
	SaveBudget(ctx context.Context, state model.BudgetState) error

	// Run log
	RecordRun(ctx context.Context, run model.RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultRunLimit = 50
