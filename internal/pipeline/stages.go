package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/analysis"
	"github.com/protocol-education/school-intel/internal/budget"
	"github.com/protocol-education/school-intel/internal/extract"
	"github.com/protocol-education/school-intel/internal/fetch"
	"github.com/protocol-education/school-intel/internal/model"
)

var errReservationDenied = eris.New("pipeline: budget reservation denied")

type state string

const (
	stateCacheCheck     state = "cache-check"
	stateFetch          state = "fetch"
	stateClassify       state = "classify"
	stateBudgetGate     state = "budget-gate"
	stateExtract        state = "extract"
	stateSkipExtraction state = "skip-extraction"
	stateVerify         state = "verify"
	stateScore          state = "score"
	stateAnalyze        state = "analyze"
	stateCacheWrite     state = "cache-write"
	stateNoData         state = "no-data"
	stateDone           state = "done"
)

// planned is a content unit that passed the budget gate.
type planned struct {
	unit model.ContentUnit
	tier model.Tier
	hold *budget.Reservation
}

// run is the mutable state of one Pipeline.Run.
type run struct {
	p      *Pipeline
	rec    model.TargetRecord
	log    *zap.Logger
	result *model.EnrichmentResult

	collection *fetch.Collection
	fetchErr   error
	plan       []planned
	hints      []analysis.Hint
	findings   []string
	skipped    bool
}

func (r *run) step(ctx context.Context, st state) (state, string) {
	switch st {
	case stateCacheCheck:
		return r.cacheCheck(ctx)
	case stateFetch:
		return r.fetch(ctx)
	case stateClassify:
		return r.classify()
	case stateBudgetGate:
		return r.budgetGate()
	case stateExtract:
		return r.extract(ctx)
	case stateSkipExtraction:
		return r.skipExtraction(ctx)
	case stateVerify:
		return r.verify(ctx)
	case stateScore:
		return r.score()
	case stateAnalyze:
		return r.analyze()
	case stateCacheWrite:
		return r.cacheWrite(ctx)
	case stateNoData:
		return r.noData()
	}
	return stateDone, "unknown state " + string(st)
}

func (r *run) cacheCheck(ctx context.Context) (state, string) {
	if r.rec.ForceRefresh {
		return stateFetch, "forced refresh"
	}
	cached, err := r.p.deps.Cache.Get(ctx, r.result.CacheKey)
	if err != nil {
		r.log.Warn("pipeline: cache read failed, treating as miss", zap.Error(err))
		return stateFetch, "cache error"
	}
	if cached == nil {
		return stateFetch, "miss"
	}
	cached.FromCache = true
	cached.Trace = nil
	r.result = cached
	return stateDone, "hit"
}

func (r *run) fetch(ctx context.Context) (state, string) {
	col, err := r.p.deps.Collector.Collect(ctx, r.rec)
	if err != nil {
		r.fetchErr = err
		return stateNoData, err.Error()
	}
	if len(col.Units) == 0 {
		r.fetchErr = &fetch.FetchError{URL: col.Website, Err: eris.New("no content units")}
		return stateNoData, "no content units"
	}
	// Later stages replace Units; keep the collector's value untouched.
	own := *col
	r.collection = &own
	r.result.Website = col.Website
	return stateClassify, fmt.Sprintf("%d units, %d failed", len(col.Units), len(col.Failed))
}

func (r *run) classify() (state, string) {
	counts := make(map[model.ContentClass]int)
	var kept []model.ContentUnit
	for _, u := range r.collection.Units {
		if !u.Class.Valid() {
			r.log.Warn("pipeline: dropping unclassified unit", zap.String("url", u.URL))
			continue
		}
		counts[u.Class]++
		kept = append(kept, u)
	}
	r.collection.Units = kept

	var parts []string
	for _, c := range model.AllContentClasses() {
		if counts[c] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", c, counts[c]))
		}
	}
	return stateBudgetGate, strings.Join(parts, " ")
}

// budgetGate picks a tier for each unit and reserves its estimated cost. A
// unit that cannot be reserved is skipped; if none can be, extraction is
// skipped altogether.
func (r *run) budgetGate() (state, string) {
	d := r.p.deps
	if d.Ledger.RollOver(r.p.nowFunc()) {
		r.log.Info("pipeline: budget period rolled over")
	}
	for _, u := range r.collection.Units {
		costs := d.Costs.Estimates(u)
		t, err := d.Tiers.Select(u.Class, d.Ledger.Remaining(), costs)
		if err == nil {
			if hold, ok := d.Ledger.TryReserve(costs[t]); ok {
				r.log.Debug("pipeline: reserved budget",
					zap.String("url", u.URL),
					zap.String("tier", string(t)),
					zap.Float64("reserved_usd", hold.Amount()),
				)
				r.plan = append(r.plan, planned{unit: u, tier: t, hold: hold})
				continue
			}
			err = errReservationDenied
		}
		r.result.Units = append(r.result.Units, model.UnitOutcome{
			URL:    u.URL,
			Class:  u.Class,
			Status: model.UnitSkippedBudget,
			Reason: err.Error(),
		})
	}

	note := fmt.Sprintf("%d of %d units reserved", len(r.plan), len(r.collection.Units))
	if len(r.plan) == 0 {
		return stateSkipExtraction, note
	}
	return stateExtract, note
}

func (r *run) extract(ctx context.Context) (state, string) {
	byKey := make(map[string]int)
	for _, pl := range r.plan {
		out := r.extractUnit(ctx, pl)
		r.result.Units = append(r.result.Units, out.UnitOutcome)
		for _, c := range out.contacts {
			if i, ok := byKey[c.Key()]; ok {
				r.result.Contacts[i].Merge(c)
				continue
			}
			byKey[c.Key()] = len(r.result.Contacts)
			r.result.Contacts = append(r.result.Contacts, c)
		}
		r.hints = append(r.hints, out.hints...)
		r.findings = append(r.findings, out.findings...)
	}
	return stateVerify, fmt.Sprintf("%d contacts, $%.4f", len(r.result.Contacts), r.result.CostUSD)
}

type unitOutput struct {
	model.UnitOutcome
	contacts []model.ContactRecord
	hints    []analysis.Hint
	findings []string
}

// extractUnit runs one unit through extraction. A malformed response is
// retried once at the fallback tier, which needs its own reservation.
func (r *run) extractUnit(ctx context.Context, pl planned) unitOutput {
	out := unitOutput{UnitOutcome: model.UnitOutcome{URL: pl.unit.URL, Class: pl.unit.Class, Tier: pl.tier}}

	res, err := r.attempt(ctx, pl.unit, pl.tier, pl.hold, &out)
	var xe *extract.ExtractionError
	if errors.As(err, &xe) {
		next, ok := r.p.deps.Tiers.Fallback(pl.tier)
		if !ok {
			return out.fail(model.UnitFailed, err)
		}
		est, _ := r.p.deps.Costs.Estimate(next, pl.unit)
		hold, granted := r.p.deps.Ledger.TryReserve(est)
		if !granted {
			return out.fail(model.UnitFailed, eris.Wrapf(err, "fallback tier %s over budget", next))
		}
		r.log.Info("pipeline: retrying unit at fallback tier",
			zap.String("url", pl.unit.URL),
			zap.String("from", string(pl.tier)),
			zap.String("to", string(next)),
			zap.String("reason", xe.Reason),
		)
		out.Tier = next
		res, err = r.attempt(ctx, pl.unit, next, hold, &out)
	}

	var rl *extract.RateLimitError
	switch {
	case errors.As(err, &rl):
		return out.fail(model.UnitRateLimited, err)
	case err != nil:
		return out.fail(model.UnitFailed, err)
	}

	out.Status = model.UnitExtracted
	out.Contacts = len(res.Contacts)
	out.contacts = res.Contacts
	out.hints = res.Hints
	out.findings = res.Findings
	return out
}

// attempt makes one extraction call and settles its reservation with the
// measured cost, which is charged even when the call fails.
func (r *run) attempt(ctx context.Context, unit model.ContentUnit, t model.Tier, hold *budget.Reservation, out *unitOutput) (*extract.Result, error) {
	res, err := r.p.deps.Extractor.Extract(ctx, r.rec.Name, unit, t)
	spent := 0.0
	if res != nil {
		spent = res.CostUSD
	}
	if spent > 0 {
		r.p.deps.Ledger.Commit(hold, spent)
	} else {
		r.p.deps.Ledger.Release(hold)
	}
	out.CostUSD += spent
	r.result.CostUSD += spent
	if err != nil {
		r.log.Warn("pipeline: extraction failed",
			zap.String("url", unit.URL),
			zap.String("tier", string(t)),
			zap.Error(err),
		)
	}
	return res, err
}

func (o unitOutput) fail(status string, err error) unitOutput {
	o.Status = status
	o.Reason = err.Error()
	return o
}

// skipExtraction falls back on contacts from an earlier, possibly expired,
// cached result. They are marked stale and re-verified.
func (r *run) skipExtraction(ctx context.Context) (state, string) {
	r.skipped = true
	prior, err := r.p.deps.Cache.Stale(ctx, r.result.CacheKey)
	if err != nil {
		r.log.Warn("pipeline: stale cache read failed", zap.Error(err))
	}
	if prior == nil || len(prior.Contacts) == 0 {
		return stateVerify, "no prior contacts"
	}
	for _, c := range prior.Contacts {
		c.Stale = true
		c.Verification = nil
		c.Confidence = nil
		r.result.Contacts = append(r.result.Contacts, c)
	}
	r.result.Signals = prior.Signals
	return stateVerify, fmt.Sprintf("%d stale contacts", len(r.result.Contacts))
}

func (r *run) verify(ctx context.Context) (state, string) {
	if r.p.deps.Verifier == nil {
		return stateScore, "disabled"
	}
	if len(r.result.Contacts) == 0 {
		return stateScore, "no contacts"
	}
	pattern := r.p.deps.Verifier.VerifyAll(ctx, r.result.Contacts, hostOf(r.result.Website))
	r.result.EmailPattern = pattern.Template
	return stateScore, "pattern " + orNone(pattern.Template)
}

func (r *run) score() (state, string) {
	r.result.Confidence = r.p.deps.Scorer.ScoreAll(r.result.Contacts)
	return stateAnalyze, fmt.Sprintf("confidence %d", r.result.Confidence)
}

// analyze looks for competitor mentions in the extraction hints and in the
// text of every fetched page, and for weaknesses in the inspection report.
func (r *run) analyze() (state, string) {
	hints := append([]analysis.Hint(nil), r.hints...)
	for _, u := range r.collection.Units {
		if u.Text != "" {
			hints = append(hints, analysis.Hint{Text: u.Text, SourceURL: u.URL})
		}
	}

	var inspection []string
	if in := r.collection.Inspection; in != nil && in.Text != "" {
		inspection = append(inspection, in.Text)
	}
	inspection = append(inspection, r.findings...)

	rep := r.p.deps.Analysis.Run(hints, strings.Join(inspection, "\n"))
	if len(rep.Signals) > 0 || !r.skipped {
		r.result.Signals = rep.Signals
	}
	r.result.Competitive = analysis.Summarize(r.result.Signals)
	r.result.Weaknesses = rep.Weaknesses
	r.result.Starters = rep.Starters
	r.attachFinancial()

	r.result.Status, r.result.Reason = r.status()
	return stateCacheWrite, fmt.Sprintf("%d signals, %d weaknesses", len(r.result.Signals), len(r.result.Weaknesses))
}

// status derives the run's disposition from its unit outcomes.
func (r *run) status() (model.Status, string) {
	var extracted, failed, limited, skipped int
	for _, u := range r.result.Units {
		switch u.Status {
		case model.UnitExtracted:
			extracted++
		case model.UnitFailed:
			failed++
		case model.UnitRateLimited:
			limited++
		case model.UnitSkippedBudget:
			skipped++
		}
	}

	if extracted == 0 {
		switch {
		case limited > 0:
			return model.StatusRateLimited, fmt.Sprintf("extraction rate limited on %d of %d units", limited, len(r.result.Units))
		case failed > 0:
			return model.StatusExtractionFailed, fmt.Sprintf("extraction failed on all %d attempted units", failed)
		}
		reason := "budget exhausted before extraction"
		if len(r.result.Contacts) > 0 {
			reason += "; using stale contacts"
		}
		return model.StatusBudgetLimited, reason
	}

	var gaps []string
	if failed > 0 {
		gaps = append(gaps, fmt.Sprintf("%d units failed extraction", failed))
	}
	if limited > 0 {
		gaps = append(gaps, fmt.Sprintf("%d units rate limited", limited))
	}
	if skipped > 0 {
		gaps = append(gaps, fmt.Sprintf("%d units skipped for budget", skipped))
	}
	if n := len(r.collection.Failed); n > 0 {
		gaps = append(gaps, fmt.Sprintf("%d pages could not be fetched", n))
	}
	if len(gaps) > 0 {
		return model.StatusPartial, strings.Join(gaps, "; ")
	}
	return model.StatusComplete, ""
}

func (r *run) cacheWrite(ctx context.Context) (state, string) {
	r.result.CompletedAt = r.p.nowFunc().UTC()
	if !r.result.Status.Cacheable() {
		return stateDone, "not cached: " + string(r.result.Status)
	}
	if err := r.p.deps.Cache.Put(ctx, r.result.CacheKey, r.result, r.p.cacheTTL); err != nil {
		r.log.Warn("pipeline: cache write failed", zap.Error(err))
		return stateDone, "write failed"
	}
	return stateDone, "written"
}

// noData ends a run whose school could not be fetched.
func (r *run) noData() (state, string) {
	r.result.Status = model.StatusNoData
	r.result.Confidence = 0
	if r.fetchErr != nil {
		r.result.Reason = r.fetchErr.Error()
	}
	r.attachFinancial()
	return stateDone, r.result.Reason
}

func (r *run) attachFinancial() {
	if r.p.deps.Financial == nil {
		return
	}
	if fp, ok := r.p.deps.Financial.Lookup(r.rec.Name, r.rec.URN); ok {
		r.result.Financial = fp
	}
}

func hostOf(website string) string {
	u, err := url.Parse(website)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
