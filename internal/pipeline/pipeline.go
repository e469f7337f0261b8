// Package pipeline runs the per-school enrichment state machine and the
// bounded-concurrency sweep over many schools.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/analysis"
	"github.com/protocol-education/school-intel/internal/budget"
	"github.com/protocol-education/school-intel/internal/cost"
	"github.com/protocol-education/school-intel/internal/extract"
	"github.com/protocol-education/school-intel/internal/fetch"
	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/internal/scorer"
	"github.com/protocol-education/school-intel/internal/tier"
	"github.com/protocol-education/school-intel/internal/verify"
)

// Collector gathers the content units for a school.
type Collector interface {
	Collect(ctx context.Context, rec model.TargetRecord) (*fetch.Collection, error)
}

// Extractor runs one AI extraction. Implementations return the result, with
// its cost, even when they also return an error.
type Extractor interface {
	Extract(ctx context.Context, school string, unit model.ContentUnit, t model.Tier) (*extract.Result, error)
}

// Verifier checks contacts in place and returns the school's email pattern.
type Verifier interface {
	VerifyAll(ctx context.Context, contacts []model.ContactRecord, websiteDomain string) verify.SchoolPattern
}

// ResultCache is the subset of cache.Cache the pipeline uses.
type ResultCache interface {
	Get(ctx context.Context, key string) (*model.EnrichmentResult, error)
	Stale(ctx context.Context, key string) (*model.EnrichmentResult, error)
	Put(ctx context.Context, key string, value *model.EnrichmentResult, ttl time.Duration) error
}

// FinancialLookup resolves benchmarking data for a school.
type FinancialLookup interface {
	Lookup(name, urn string) (*model.FinancialProfile, bool)
}

// Deps are the collaborators a Pipeline needs. Verifier and Financial are
// optional.
type Deps struct {
	Cache     ResultCache
	Collector Collector
	Extractor Extractor
	Ledger    *budget.Ledger
	Costs     *cost.Calculator
	Tiers     *tier.Selector
	Verifier  Verifier
	Scorer    *scorer.Scorer
	Analysis  *analysis.Engine
	Financial FinancialLookup
}

// Pipeline enriches schools. It is safe for concurrent use; the budget
// ledger is the only state shared between runs.
type Pipeline struct {
	deps     Deps
	cacheTTL time.Duration

	nowFunc func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCacheTTL sets the TTL for cache writes. Zero uses the cache default.
func WithCacheTTL(ttl time.Duration) Option {
	return func(p *Pipeline) { p.cacheTTL = ttl }
}

// New validates deps and creates a Pipeline.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Cache == nil:
		return nil, eris.New("pipeline: cache is required")
	case deps.Collector == nil:
		return nil, eris.New("pipeline: collector is required")
	case deps.Extractor == nil:
		return nil, eris.New("pipeline: extractor is required")
	case deps.Ledger == nil:
		return nil, eris.New("pipeline: budget ledger is required")
	case deps.Costs == nil || deps.Tiers == nil:
		return nil, eris.New("pipeline: cost calculator and tier selector are required")
	case deps.Scorer == nil:
		return nil, eris.New("pipeline: scorer is required")
	case deps.Analysis == nil:
		return nil, eris.New("pipeline: analysis engine is required")
	}
	p := &Pipeline{deps: deps, nowFunc: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Run enriches one school. It always returns a result: failures are
// recorded in Status and Reason, never returned.
func (p *Pipeline) Run(ctx context.Context, rec model.TargetRecord) *model.EnrichmentResult {
	r := &run{
		p:   p,
		rec: rec,
		log: zap.L().With(zap.String("school", rec.Name)),
		result: &model.EnrichmentResult{
			RunID:    uuid.NewString(),
			Record:   rec,
			CacheKey: rec.CacheKey(),
		},
	}
	r.log.Info("pipeline: run started", zap.String("run_id", r.result.RunID), zap.Bool("force", rec.ForceRefresh))

	st := stateCacheCheck
	for st != stateDone {
		start := p.nowFunc()
		next, note := r.step(ctx, st)
		r.result.Trace = append(r.result.Trace, model.StageRecord{
			Stage:      string(st),
			DurationMs: p.nowFunc().Sub(start).Milliseconds(),
			Note:       note,
		})
		r.log.Debug("pipeline: stage complete", zap.String("stage", string(st)), zap.String("note", note))
		st = next
	}

	if r.result.CompletedAt.IsZero() {
		r.result.CompletedAt = p.nowFunc().UTC()
	}
	r.log.Info("pipeline: run finished",
		zap.String("status", string(r.result.Status)),
		zap.Int("contacts", len(r.result.Contacts)),
		zap.Int("confidence", r.result.Confidence),
		zap.Float64("cost_usd", r.result.CostUSD),
		zap.Bool("from_cache", r.result.FromCache),
	)
	return r.result
}
