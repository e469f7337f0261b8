package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/protocol-education/school-intel/internal/fetch"
	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/internal/store"
)

func leedsSchools(n int) []model.TargetRecord {
	recs := make([]model.TargetRecord, n)
	for i := range recs {
		recs[i] = model.TargetRecord{
			Name:           fmt.Sprintf("Leeds School %02d", i),
			URL:            fmt.Sprintf("https://school%02d.leeds.sch.uk/", i),
			LocalAuthority: "Leeds",
		}
	}
	return recs
}

func TestSweep_TenSchoolsThreeUnreachable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50, headteacherOn)

	recs := leedsSchools(10)
	down := map[string]bool{recs[2].Name: true, recs[5].Name: true, recs[9].Name: true}
	f.collector.On("Collect", mock.Anything, mock.MatchedBy(func(r model.TargetRecord) bool { return down[r.Name] })).
		Return(nil, &fetch.FetchError{URL: "https://down.example/", Status: 503})
	f.collector.On("Collect", mock.Anything, mock.MatchedBy(func(r model.TargetRecord) bool { return !down[r.Name] })).
		Return(oakfieldSite(), nil)

	var progress atomic.Int32
	results := f.p.Sweep(ctx, recs, SweepOptions{
		Concurrency: 4,
		OnResult:    func(int, *model.EnrichmentResult) { progress.Add(1) },
	})

	require.Len(t, results, 10)
	assert.Equal(t, int32(10), progress.Load())
	noData := 0
	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, recs[i].Name, res.Record.Name, "results keep input order")
		if res.Status == model.StatusNoData {
			noData++
			assert.True(t, down[res.Record.Name])
			continue
		}
		assert.Equal(t, model.StatusComplete, res.Status)
	}
	assert.Equal(t, 3, noData)

	sum := Summarize("Leeds", results, 90)
	assert.Equal(t, 10, sum.Total)
	assert.Equal(t, 3, sum.ByStatus[model.StatusNoData])
	assert.Equal(t, 7, sum.ByStatus[model.StatusComplete])
	assert.Equal(t, 7, sum.WithContacts)
	assert.Equal(t, 7, sum.HighQuality)
	assert.InDelta(t, 7*0.06, sum.TotalCostUSD, 1e-9)
	assert.Zero(t, f.ledger.Snapshot().ReservedUSD)
}

func TestSweep_DeadlineLeavesRecordsNotStarted(t *testing.T) {
	f := newFixture(t, 50, headteacherOn)
	f.p.deps.Collector = slowCollector{delay: 200 * time.Millisecond}

	recs := leedsSchools(5)
	results := f.p.Sweep(context.Background(), recs, SweepOptions{Concurrency: 1, Timeout: 50 * time.Millisecond})

	require.Len(t, results, 5)
	assert.Equal(t, model.StatusComplete, results[0].Status, "in-flight record finishes")
	notStarted := 0
	for i, res := range results {
		assert.Equal(t, recs[i].Name, res.Record.Name)
		if res.Status == model.StatusNotStarted {
			notStarted++
			assert.Contains(t, res.Reason, "deadline")
			assert.Equal(t, recs[i].CacheKey(), res.CacheKey)
		}
	}
	assert.GreaterOrEqual(t, notStarted, 3)
}

func TestSweep_CancelledContext(t *testing.T) {
	f := newFixture(t, 50, headteacherOn)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := f.p.Sweep(ctx, leedsSchools(3), SweepOptions{Concurrency: 2})

	require.Len(t, results, 3)
	for _, res := range results {
		assert.Equal(t, model.StatusNotStarted, res.Status)
		assert.Contains(t, res.Reason, "cancelled")
	}
	f.collector.AssertNotCalled(t, "Collect", mock.Anything, mock.Anything)
}

func TestSweep_Empty(t *testing.T) {
	f := newFixture(t, 50, headteacherOn)
	assert.Empty(t, f.p.Sweep(context.Background(), nil, SweepOptions{Concurrency: 3}))
}

func TestSummarize(t *testing.T) {
	results := []*model.EnrichmentResult{
		{Status: model.StatusComplete, Confidence: 95, CostUSD: 0.1, Contacts: []model.ContactRecord{{Name: "A"}},
			Signals: []model.CompetitorSignal{{Agency: "Zen Educate"}}},
		{Status: model.StatusPartial, Confidence: 60, FromCache: true, CostUSD: 0.05, Contacts: []model.ContactRecord{{Name: "B"}}},
		{Status: model.StatusNoData},
		{Status: model.StatusNotStarted},
		nil,
	}

	sum := Summarize("Leeds", results, 90)

	assert.Equal(t, "Leeds", sum.Area)
	assert.Equal(t, 5, sum.Total)
	assert.Equal(t, 1, sum.HighQuality)
	assert.Equal(t, 2, sum.WithContacts)
	assert.Equal(t, 1, sum.WithCompetitors)
	assert.Equal(t, 1, sum.FromCache)
	assert.Equal(t, 1, sum.ByStatus[model.StatusNotStarted])
	assert.InDelta(t, (95+60+0)/3.0, sum.AverageConfidence, 1e-9)
	assert.InDelta(t, 0.1, sum.TotalCostUSD, 1e-9)
}

func TestRecord_PersistsRunAndBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50, headteacherOn)
	f.collector.On("Collect", mock.Anything, oakfield).Return(oakfieldSite(), nil)

	started := time.Now()
	res := f.p.Run(ctx, oakfield)

	log := store.NewMemory()
	run, err := f.p.Record(ctx, log, "lookup", oakfield.Name, started, []*model.EnrichmentResult{res})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.StatusComplete, run.Status)
	assert.InDelta(t, 0.06, run.CostUSD, 1e-9)

	runs, err := log.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "lookup", runs[0].Mode)

	st, err := log.LoadBudget(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.InDelta(t, 0.06, st.SpentUSD, 1e-6)
}

func TestRecord_CacheHitSpendsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50, headteacherOn)
	f.collector.On("Collect", mock.Anything, oakfield).Return(oakfieldSite(), nil).Once()

	first := f.p.Run(ctx, oakfield)
	require.Equal(t, model.StatusComplete, first.Status)
	spentBefore := f.ledger.Snapshot().SpentUSD

	hit := f.p.Run(ctx, oakfield)
	require.True(t, hit.FromCache)
	assert.InDelta(t, spentBefore, f.ledger.Snapshot().SpentUSD, 1e-9)

	run, err := f.p.Record(ctx, store.NewMemory(), "lookup", oakfield.Name, time.Now(), []*model.EnrichmentResult{hit})
	require.NoError(t, err)
	assert.Zero(t, run.CostUSD)

	sum := Summarize("Leeds", []*model.EnrichmentResult{first, hit}, 90)
	assert.Equal(t, 1, sum.FromCache)
	assert.InDelta(t, first.CostUSD, sum.TotalCostUSD, 1e-9)
}

func TestOverallStatus(t *testing.T) {
	done := &model.EnrichmentResult{Status: model.StatusComplete}
	limited := &model.EnrichmentResult{Status: model.StatusBudgetLimited}

	assert.Equal(t, model.StatusBudgetLimited, overallStatus([]*model.EnrichmentResult{limited}))
	assert.Equal(t, model.StatusComplete, overallStatus([]*model.EnrichmentResult{done, done}))
	assert.Equal(t, model.StatusPartial, overallStatus([]*model.EnrichmentResult{done, limited}))
}
