// Package cost prices extraction calls per tier.
package cost

import (
	"math"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/model"
)

// MaxTextChars is the most page text sent to the extraction service in one
// call. Longer text is truncated before the call and before estimation.
const MaxTextChars = 48000

// promptOverheadTokens covers the system prompt and instructions.
const promptOverheadTokens = 900

// pdfBytesPerPage is a rough page size used to guess page counts for
// image-only PDFs.
const pdfBytesPerPage = 150_000

// TierRate holds the model and token pricing for one tier (USD per million
// tokens).
type TierRate struct {
	Model           string
	Input           float64
	Output          float64
	CacheWriteMul   float64
	CacheReadMul    float64
	MaxOutputTokens int
	ImageTokens     int
}

// Rates maps each tier to its pricing.
type Rates map[model.Tier]TierRate

// FromConfig converts the tiers config section into Rates.
func FromConfig(c config.TiersConfig) Rates {
	conv := func(t config.TierConfig) TierRate {
		return TierRate{
			Model:           t.Model,
			Input:           t.Input,
			Output:          t.Output,
			CacheWriteMul:   t.CacheWriteMul,
			CacheReadMul:    t.CacheReadMul,
			MaxOutputTokens: t.MaxOutputTokens,
			ImageTokens:     t.ImageTokens,
		}
	}
	return Rates{
		model.TierText:       conv(c.Text),
		model.TierVision:     conv(c.Vision),
		model.TierFullVision: conv(c.FullVision),
	}
}

// Calculator computes estimated and actual costs for extraction calls.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rate returns the pricing for tier.
func (c *Calculator) Rate(tier model.Tier) (TierRate, bool) {
	r, ok := c.rates[tier]
	return r, ok
}

// Model returns the model ID configured for tier.
func (c *Calculator) Model(tier model.Tier) string {
	return c.rates[tier].Model
}

// Actual computes the cost of a completed call from its token usage.
func (c *Calculator) Actual(tier model.Tier, u model.TokenUsage) float64 {
	rate, ok := c.rates[tier]
	if !ok {
		return 0
	}

	inCost := (float64(u.InputTokens) / 1e6) * rate.Input
	outCost := (float64(u.OutputTokens) / 1e6) * rate.Output
	cwCost := (float64(u.CacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(u.CacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// InputTokens estimates the input tokens a unit will consume at tier.
func (c *Calculator) InputTokens(tier model.Tier, unit model.ContentUnit) int {
	rate := c.rates[tier]
	tokens := promptOverheadTokens
	switch unit.Class {
	case model.ClassHTML, model.ClassPDFText:
		chars := len(unit.Text)
		if chars > MaxTextChars {
			chars = MaxTextChars
		}
		tokens += (chars + 3) / 4
	case model.ClassImage:
		tokens += rate.ImageTokens
	case model.ClassPDFImage:
		pages := int(math.Ceil(float64(unit.Size()) / pdfBytesPerPage))
		if pages < 1 {
			pages = 1
		}
		tokens += pages * rate.ImageTokens
	}
	return tokens
}

// Estimate is the worst-case cost of extracting unit at tier: estimated input
// plus the full output allowance. Reservations use this figure so the actual
// cost never exceeds what was reserved.
func (c *Calculator) Estimate(tier model.Tier, unit model.ContentUnit) (float64, bool) {
	rate, ok := c.rates[tier]
	if !ok {
		return 0, false
	}
	in := float64(c.InputTokens(tier, unit))
	out := float64(rate.MaxOutputTokens)
	return (in/1e6)*rate.Input + (out/1e6)*rate.Output, true
}

// Estimates returns the estimated cost of unit for each configured tier.
func (c *Calculator) Estimates(unit model.ContentUnit) map[model.Tier]float64 {
	out := make(map[model.Tier]float64, len(c.rates))
	for _, tier := range model.AllTiers() {
		if est, ok := c.Estimate(tier, unit); ok {
			out[tier] = est
		}
	}
	return out
}
