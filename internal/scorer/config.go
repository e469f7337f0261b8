// Package scorer computes contact confidence from extraction tier, source
// corroboration and verification outcomes.
package scorer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/model"
)

// Weights are the scoring increments. All values are points on the 0-100
// scale.
type Weights = config.ScoringConfig

// DefaultWeights returns the stock weights. A full-vision contact found on
// two pages with verified email and phone scores 100.
func DefaultWeights() Weights {
	return Weights{
		// Base by extraction tier.
		TierFullVision: 50,
		TierVision:     40,
		TierText:       30,
		TierNone:       10,

		// Corroboration.
		PerSource:  10,
		MaxSources: 3,

		// Verification.
		EmailVerified:   20,
		PhoneVerified:   10,
		PatternVerified: 10,
		FailedPenalty:   15,

		StalePenalty: 20,
	}
}

// ValidateWeights checks that weights are usable. Negative increments would
// let more verified evidence lower a score.
func ValidateWeights(w Weights) error {
	var errs []string

	points := map[string]int{
		"tier_full_vision": w.TierFullVision,
		"tier_vision":      w.TierVision,
		"tier_text":        w.TierText,
		"tier_none":        w.TierNone,
		"per_source":       w.PerSource,
		"max_sources":      w.MaxSources,
		"email_verified":   w.EmailVerified,
		"phone_verified":   w.PhoneVerified,
		"pattern_verified": w.PatternVerified,
		"failed_penalty":   w.FailedPenalty,
		"stale_penalty":    w.StalePenalty,
	}
	for _, name := range sortedKeys(points) {
		if points[name] < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	// A higher-capability tier never starts lower.
	if w.TierFullVision < w.TierVision || w.TierVision < w.TierText || w.TierText < w.TierNone {
		errs = append(errs, "tier bases must be non-decreasing: none <= text <= vision <= full_vision")
	}
	if w.TierFullVision > 100 {
		errs = append(errs, "tier_full_vision must be <= 100")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: weights validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s *Scorer) tierBase(t model.Tier) int {
	switch t {
	case model.TierFullVision:
		return s.w.TierFullVision
	case model.TierVision:
		return s.w.TierVision
	case model.TierText:
		return s.w.TierText
	default:
		return s.w.TierNone
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
