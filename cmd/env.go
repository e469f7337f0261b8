package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/analysis"
	"github.com/protocol-education/school-intel/internal/budget"
	"github.com/protocol-education/school-intel/internal/cache"
	"github.com/protocol-education/school-intel/internal/cost"
	"github.com/protocol-education/school-intel/internal/directory"
	"github.com/protocol-education/school-intel/internal/extract"
	"github.com/protocol-education/school-intel/internal/fetch"
	"github.com/protocol-education/school-intel/internal/financial"
	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/internal/pipeline"
	"github.com/protocol-education/school-intel/internal/scorer"
	"github.com/protocol-education/school-intel/internal/store"
	"github.com/protocol-education/school-intel/internal/tier"
	"github.com/protocol-education/school-intel/internal/verify"
	anthropicpkg "github.com/protocol-education/school-intel/pkg/anthropic"
)

// appEnv holds the store, cache, ledger and (for enrichment modes) the
// pipeline shared by the commands.
type appEnv struct {
	Store     store.Store
	Cache     *cache.Cache
	Ledger    *budget.Ledger
	Pipeline  *pipeline.Pipeline
	Directory *directory.Directory // may be nil
}

// Close persists cache counters and ledger state, then closes the store.
func (e *appEnv) Close() {
	ctx := context.Background()
	if e.Cache != nil {
		if err := e.Cache.Flush(ctx); err != nil {
			zap.L().Warn("flush cache counters", zap.Error(err))
		}
	}
	if e.Ledger != nil && e.Store != nil {
		if err := e.Store.SaveBudget(ctx, e.Ledger.Snapshot()); err != nil {
			zap.L().Warn("save budget", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "school-intel.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// loadLedger builds the ledger from config and restores this month's spend.
// Spend saved in an earlier calendar month is discarded.
func loadLedger(ctx context.Context, st store.Store) (*budget.Ledger, error) {
	l, err := budget.NewLedger(cfg.Budget.MonthlyCeilingUSD)
	if err != nil {
		return nil, eris.Wrap(err, "create budget ledger")
	}
	saved, err := st.LoadBudget(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load budget")
	}
	if saved != nil {
		l.Restore(*saved)
	}
	if l.RollOver(time.Now()) {
		zap.L().Info("budget period rolled over", zap.Time("period_start", l.Snapshot().PeriodStart))
	}
	return l, nil
}

// openEnv validates config for mode and opens the store, cache and ledger.
// Callers should defer env.Close().
func openEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	ledger, err := loadLedger(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &appEnv{
		Store:  st,
		Cache:  cache.New(st, time.Duration(cfg.Cache.TTLSeconds)*time.Second),
		Ledger: ledger,
	}, nil
}

// initPipeline opens the environment and builds the enrichment pipeline with
// every collaborator wired from config.
func initPipeline(ctx context.Context, mode string) (*appEnv, error) {
	env, err := openEnv(ctx, mode)
	if err != nil {
		return nil, err
	}

	calc := cost.NewCalculator(cost.FromConfig(cfg.Tiers))
	ai := anthropicpkg.NewClient(cfg.Anthropic.Key)

	sc, err := scorer.New(cfg.Scoring)
	if err != nil {
		env.Close()
		return nil, err
	}
	engine, err := analysis.FromConfig(cfg.Competitors)
	if err != nil {
		env.Close()
		return nil, err
	}

	deps := pipeline.Deps{
		Cache:     env.Cache,
		Collector: fetch.CollectorFromConfig(cfg.Fetch, cfg.Jina),
		Extractor: extract.FromConfig(ai, calc, cfg.Anthropic),
		Ledger:    env.Ledger,
		Costs:     calc,
		Tiers:     tier.FromConfig(cfg.Tiers),
		Verifier:  verify.FromConfig(cfg.Verify),
		Scorer:    sc,
		Analysis:  engine,
	}

	// Benchmarking data is optional; a bad file degrades to no financials.
	ix, err := financial.FromConfig(ctx, cfg.Financial)
	switch {
	case err != nil:
		zap.L().Warn("financial data unavailable", zap.String("path", cfg.Financial.CSVPath), zap.Error(err))
	case ix != nil:
		deps.Financial = ix
		zap.L().Info("financial data loaded", zap.Int("schools", ix.Len()))
	}

	if cfg.Sweep.DirectoryPath != "" {
		dir, err := directory.FromConfig(ctx, cfg.Sweep)
		switch {
		case err != nil && mode == "sweep":
			env.Close()
			return nil, err
		case err != nil:
			zap.L().Warn("school directory unavailable", zap.String("path", cfg.Sweep.DirectoryPath), zap.Error(err))
		default:
			env.Directory = dir
			zap.L().Info("school directory loaded", zap.Int("schools", dir.Len()))
		}
	}

	env.Pipeline, err = pipeline.New(deps, pipeline.WithCacheTTL(env.Cache.TTL()))
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// recordRun logs the run and saves the ledger. It detaches from ctx's
// cancellation so an interrupted command or dropped request still leaves
// its spend on disk.
func recordRun(ctx context.Context, env *appEnv, mode, target string, started time.Time, results []*model.EnrichmentResult) {
	if _, err := env.Pipeline.Record(context.WithoutCancel(ctx), env.Store, mode, target, started, results); err != nil {
		zap.L().Warn("record run", zap.String("mode", mode), zap.Error(err))
	}
}
