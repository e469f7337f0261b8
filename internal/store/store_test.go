package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocol-education/school-intel/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

// backends runs fn against every Store implementation that needs no server.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLiteStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
}

func TestStore_EntryMissIsNilNil(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		e, err := s.GetEntry(context.Background(), "school:none:0")
		require.NoError(t, err)
		assert.Nil(t, e)
	})
}

func TestStore_PutGetOverwrite(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		created := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

		require.NoError(t, s.PutEntry(ctx, model.CacheEntry{
			Key: "k1", Payload: []byte(`{"v":1}`), CreatedAt: created, TTLSeconds: 60,
		}))
		require.NoError(t, s.PutEntry(ctx, model.CacheEntry{
			Key: "k1", Payload: []byte(`{"v":2}`), CreatedAt: created.Add(time.Minute), TTLSeconds: 120,
		}))

		got, err := s.GetEntry(ctx, "k1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.JSONEq(t, `{"v":2}`, string(got.Payload))
		assert.True(t, created.Add(time.Minute).Equal(got.CreatedAt))
		assert.Equal(t, 120, got.TTLSeconds)
	})
}

func TestStore_CountDeleteAndPurge(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, s.PutEntry(ctx, model.CacheEntry{Key: "live", Payload: []byte(`{}`), CreatedAt: now, TTLSeconds: 3600}))
		require.NoError(t, s.PutEntry(ctx, model.CacheEntry{Key: "old", Payload: []byte(`{}`), CreatedAt: now.Add(-2 * time.Hour), TTLSeconds: 3600}))
		require.NoError(t, s.PutEntry(ctx, model.CacheEntry{Key: "gone", Payload: []byte(`{}`), CreatedAt: now, TTLSeconds: 3600}))

		require.NoError(t, s.DeleteEntry(ctx, "gone"))
		require.NoError(t, s.DeleteEntry(ctx, "never-existed"))

		n, err := s.CountEntries(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		purged, err := s.DeleteExpiredEntries(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, purged)

		old, err := s.GetEntry(ctx, "old")
		require.NoError(t, err)
		assert.Nil(t, old)

		cleared, err := s.DeleteAllEntries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, cleared)
	})
}

func TestStore_Counters(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		hits, misses, err := s.LoadCounters(ctx)
		require.NoError(t, err)
		assert.Zero(t, hits)
		assert.Zero(t, misses)

		require.NoError(t, s.AddCounters(ctx, 3, 1))
		require.NoError(t, s.AddCounters(ctx, 2, 4))

		hits, misses, err = s.LoadCounters(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), hits)
		assert.Equal(t, int64(5), misses)

		require.NoError(t, s.ResetCounters(ctx))
		hits, _, err = s.LoadCounters(ctx)
		require.NoError(t, err)
		assert.Zero(t, hits)
	})
}

func TestStore_Budget(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		st, err := s.LoadBudget(ctx)
		require.NoError(t, err)
		assert.Nil(t, st)

		period := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.SaveBudget(ctx, model.BudgetState{CeilingUSD: 50, SpentUSD: 12.5, PeriodStart: period}))
		require.NoError(t, s.SaveBudget(ctx, model.BudgetState{CeilingUSD: 50, SpentUSD: 13.25, OverrunUSD: 0.1, PeriodStart: period}))

		st, err = s.LoadBudget(ctx)
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.InDelta(t, 13.25, st.SpentUSD, 1e-9)
		assert.InDelta(t, 0.1, st.OverrunUSD, 1e-9)
		assert.True(t, period.Equal(st.PeriodStart))
	})
}

func TestStore_Runs(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

		for i := 0; i < 3; i++ {
			require.NoError(t, s.RecordRun(ctx, model.RunRecord{
				ID:         fmt.Sprintf("run-%d", i),
				Mode:       "sweep",
				Target:     "Camden",
				Status:     model.StatusComplete,
				Records:    10 + i,
				CostUSD:    0.5,
				StartedAt:  base.Add(time.Duration(i) * time.Hour),
				FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			}))
		}

		runs, err := s.ListRuns(ctx, 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-2", runs[0].ID)
		assert.Equal(t, "run-1", runs[1].ID)
		assert.Equal(t, model.StatusComplete, runs[0].Status)
		assert.Equal(t, 12, runs[0].Records)
	})
}

func TestStore_ConcurrentPutsDifferentKeys(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("k%d", i)
				assert.NoError(t, s.PutEntry(ctx, model.CacheEntry{Key: key, Payload: []byte(`{}`), CreatedAt: now, TTLSeconds: 60}))
			}(i)
		}
		wg.Wait()

		n, err := s.CountEntries(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 20, n)
	})
}
