// Package tier picks the extraction tier for a content unit.
package tier

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/model"
)

// ErrInsufficientBudget means no eligible tier fits the remaining budget. It
// is a policy outcome, not a failure.
var ErrInsufficientBudget = eris.New("tier: insufficient budget")

// ErrNoEligibleTier means the classification has no configured tier, or none
// of its tiers has a known cost.
var ErrNoEligibleTier = eris.New("tier: no eligible tier")

// Eligibility lists the tiers allowed for each classification.
type Eligibility map[model.ContentClass][]model.Tier

// DefaultEligibility routes web pages to the full vision tier, text PDFs to
// the cheap text tier and scans or photos to the vision tier.
func DefaultEligibility() Eligibility {
	return Eligibility{
		model.ClassHTML:     {model.TierFullVision},
		model.ClassPDFText:  {model.TierText},
		model.ClassPDFImage: {model.TierVision},
		model.ClassImage:    {model.TierVision},
	}
}

// DefaultFallback is the tier tried once after a malformed response.
func DefaultFallback() map[model.Tier]model.Tier {
	return map[model.Tier]model.Tier{
		model.TierText:       model.TierVision,
		model.TierVision:     model.TierFullVision,
		model.TierFullVision: model.TierVision,
	}
}

// Select returns the cheapest tier eligible for class whose estimated cost
// fits within remaining. Ties on cost keep the configured order.
func Select(class model.ContentClass, remaining float64, costs map[model.Tier]float64, eligibility Eligibility) (model.Tier, error) {
	type candidate struct {
		tier model.Tier
		cost float64
	}
	var cands []candidate
	for _, t := range eligibility[class] {
		c, ok := costs[t]
		if !ok {
			continue
		}
		cands = append(cands, candidate{tier: t, cost: c})
	}
	if len(cands) == 0 {
		return model.TierNone, ErrNoEligibleTier
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].cost < cands[j].cost })
	for _, c := range cands {
		if c.cost <= remaining {
			return c.tier, nil
		}
	}
	return model.TierNone, ErrInsufficientBudget
}

// Selector bundles the configured eligibility table and fallback order.
type Selector struct {
	eligibility Eligibility
	fallback    map[model.Tier]model.Tier
}

// NewSelector creates a Selector. Nil arguments take the defaults.
func NewSelector(eligibility Eligibility, fallback map[model.Tier]model.Tier) *Selector {
	if eligibility == nil {
		eligibility = DefaultEligibility()
	}
	if fallback == nil {
		fallback = DefaultFallback()
	}
	return &Selector{eligibility: eligibility, fallback: fallback}
}

// FromConfig builds a Selector from the tiers config section. Classes missing
// from the config keep their default eligibility.
func FromConfig(c config.TiersConfig) *Selector {
	elig := DefaultEligibility()
	for class, tiers := range c.Eligibility {
		cc := model.ContentClass(class)
		if !cc.Valid() {
			continue
		}
		var ts []model.Tier
		for _, t := range tiers {
			if mt := model.Tier(t); mt.Valid() {
				ts = append(ts, mt)
			}
		}
		elig[cc] = ts
	}
	fb := DefaultFallback()
	if len(c.Fallback) > 0 {
		fb = make(map[model.Tier]model.Tier, len(c.Fallback))
		for from, to := range c.Fallback {
			f, t := model.Tier(from), model.Tier(to)
			if f.Valid() && t.Valid() {
				fb[f] = t
			}
		}
	}
	return NewSelector(elig, fb)
}

// Select applies the configured eligibility table.
func (s *Selector) Select(class model.ContentClass, remaining float64, costs map[model.Tier]float64) (model.Tier, error) {
	return Select(class, remaining, costs, s.eligibility)
}

// Fallback returns the tier to retry with after a malformed response at t.
func (s *Selector) Fallback(t model.Tier) (model.Tier, bool) {
	next, ok := s.fallback[t]
	if !ok || next == t {
		return model.TierNone, false
	}
	return next, true
}
