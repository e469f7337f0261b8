package main

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/internal/store"
)

// ctxStore refuses writes on a done context, as the SQL stores do.
type ctxStore struct {
	store.Store
}

func (s ctxStore) SaveBudget(ctx context.Context, st model.BudgetState) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "save budget")
	}
	return s.Store.SaveBudget(ctx, st)
}

func (s ctxStore) RecordRun(ctx context.Context, r model.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "record run")
	}
	return s.Store.RecordRun(ctx, r)
}

func TestRecordRun_SurvivesInterrupt(t *testing.T) {
	env := newTestEnv(t)
	env.Store = ctxStore{Store: env.Store}

	res, ok := env.Ledger.TryReserve(1)
	require.True(t, ok)
	env.Ledger.Commit(res, 0.5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := time.Now()
	recordRun(ctx, env, "lookup", "Oakfield Primary School", started, []*model.EnrichmentResult{{
		Record:  model.TargetRecord{Name: "Oakfield Primary School"},
		Status:  model.StatusComplete,
		CostUSD: 0.5,
	}})

	bg := context.Background()
	runs, err := env.Store.ListRuns(bg, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "lookup", runs[0].Mode)
	assert.InDelta(t, 0.5, runs[0].CostUSD, 1e-9)

	saved, err := env.Store.LoadBudget(bg)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.InDelta(t, 0.5, saved.SpentUSD, 1e-9)
}
