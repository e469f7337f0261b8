package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/protocol-education/school-intel/internal/model"
)

// SweepOptions configures a batch run.
type SweepOptions struct {
	// Concurrency is the number of workers. Values below 1 mean 1.
	Concurrency int
	// Timeout, when set, stops new records being started once it elapses.
	// Records already running finish on the caller's context.
	Timeout time.Duration
	// OnResult, when set, is called from a worker as each record finishes.
	OnResult func(index int, res *model.EnrichmentResult)
}

// Sweep runs every record through the pipeline on a fixed pool of workers
// and returns one result per record, in input order. Records never started
// because of the deadline or cancellation get status not-started.
func (p *Pipeline) Sweep(ctx context.Context, records []model.TargetRecord, opts SweepOptions) []*model.EnrichmentResult {
	results := make([]*model.EnrichmentResult, len(records))
	if len(records) == 0 {
		return results
	}

	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(records) {
		workers = len(records)
	}

	dispatchCtx, cancel := ctx, context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		dispatchCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	zap.L().Info("pipeline: sweep started",
		zap.Int("records", len(records)),
		zap.Int("workers", workers),
		zap.Duration("timeout", opts.Timeout),
	)

	jobs := make(chan int)
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for i := range jobs {
				res := p.Run(ctx, records[i])
				results[i] = res
				if opts.OnResult != nil {
					opts.OnResult(i, res)
				}
			}
			return nil
		})
	}

	dispatched := 0
dispatch:
	for i := range records {
		if dispatchCtx.Err() != nil {
			break
		}
		select {
		case jobs <- i:
			dispatched++
		case <-dispatchCtx.Done():
			break dispatch
		}
	}
	close(jobs)
	_ = g.Wait()

	if dispatched < len(records) {
		reason := "sweep deadline reached before this record started"
		if ctx.Err() != nil {
			reason = "sweep cancelled before this record started"
		}
		zap.L().Warn("pipeline: sweep stopped early",
			zap.Int("started", dispatched),
			zap.Int("not_started", len(records)-dispatched),
		)
		for i, res := range results {
			if res == nil {
				results[i] = p.notStarted(records[i], reason)
			}
		}
	}
	return results
}

func (p *Pipeline) notStarted(rec model.TargetRecord, reason string) *model.EnrichmentResult {
	return &model.EnrichmentResult{
		RunID:       uuid.NewString(),
		Record:      rec,
		CacheKey:    rec.CacheKey(),
		Status:      model.StatusNotStarted,
		Reason:      reason,
		CompletedAt: p.nowFunc().UTC(),
	}
}

// Summarize aggregates sweep results. Cache hits count towards FromCache but
// not towards TotalCostUSD. A result is high quality when its
// confidence is at least threshold; the average confidence ignores records
// that never started.
func Summarize(area string, results []*model.EnrichmentResult, threshold int) model.SweepSummary {
	s := model.SweepSummary{Area: area, Total: len(results), ByStatus: make(map[model.Status]int)}
	started, confSum := 0, 0
	for _, r := range results {
		if r == nil {
			continue
		}
		s.ByStatus[r.Status]++
		s.TotalCostUSD += spentUSD(r)
		if r.FromCache {
			s.FromCache++
		}
		if r.HasContacts() {
			s.WithContacts++
		}
		if len(r.Signals) > 0 {
			s.WithCompetitors++
		}
		if r.Status == model.StatusNotStarted {
			continue
		}
		started++
		confSum += r.Confidence
		if r.Confidence >= threshold {
			s.HighQuality++
		}
	}
	if started > 0 {
		s.AverageConfidence = float64(confSum) / float64(started)
	}
	return s
}

// spentUSD is what producing r cost this run. A cache hit carries the cost
// of the run that stored it and spends nothing now.
func spentUSD(r *model.EnrichmentResult) float64 {
	if r == nil || r.FromCache {
		return 0
	}
	return r.CostUSD
}

// RunLog persists run history and ledger state. store.Store satisfies it.
type RunLog interface {
	RecordRun(ctx context.Context, run model.RunRecord) error
	SaveBudget(ctx context.Context, state model.BudgetState) error
}

// Record appends a run-log line for a lookup or sweep and saves the budget
// ledger so spend survives the process.
func (p *Pipeline) Record(ctx context.Context, log RunLog, mode, target string, started time.Time, results []*model.EnrichmentResult) (model.RunRecord, error) {
	rec := model.RunRecord{
		ID:         uuid.NewString(),
		Mode:       mode,
		Target:     target,
		Status:     overallStatus(results),
		Records:    len(results),
		StartedAt:  started.UTC(),
		FinishedAt: p.nowFunc().UTC(),
	}
	for _, r := range results {
		rec.CostUSD += spentUSD(r)
	}

	if err := log.SaveBudget(ctx, p.deps.Ledger.Snapshot()); err != nil {
		return rec, eris.Wrap(err, "pipeline: save budget")
	}
	if err := log.RecordRun(ctx, rec); err != nil {
		return rec, eris.Wrap(err, "pipeline: record run")
	}
	return rec, nil
}

// overallStatus is the single result's status, or for a batch complete when
// every record was complete or served from cache, else partial.
func overallStatus(results []*model.EnrichmentResult) model.Status {
	if len(results) == 1 && results[0] != nil {
		return results[0].Status
	}
	for _, r := range results {
		if r == nil || r.Status != model.StatusComplete {
			return model.StatusPartial
		}
	}
	return model.StatusComplete
}
