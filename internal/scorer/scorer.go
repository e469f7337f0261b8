package scorer

import (
	"github.com/rotisserie/eris"

	"github.com/protocol-education/school-intel/internal/model"
)

// Factor names in ConfidenceScore breakdowns.
const (
	FactorTier    = "tier"
	FactorSources = "sources"
	FactorStale   = "stale"
	FactorClamp   = "clamp"
)

// ScoreInput is everything the score depends on.
type ScoreInput struct {
	Tier         model.Tier
	Sources      int
	Verification *model.VerificationResult
	Stale        bool
}

// InputFor builds the ScoreInput for a contact.
func InputFor(c model.ContactRecord) ScoreInput {
	return ScoreInput{
		Tier:         c.Tier,
		Sources:      len(c.SourceURLs),
		Verification: c.Verification,
		Stale:        c.Stale,
	}
}

// Scorer applies a fixed set of weights.
type Scorer struct {
	w Weights
}

// New validates w and returns a Scorer.
func New(w Weights) (*Scorer, error) {
	if err := ValidateWeights(w); err != nil {
		return nil, eris.Wrap(err, "scorer: new")
	}
	return &Scorer{w: w}, nil
}

// Weights returns the weights in use.
func (s *Scorer) Weights() Weights {
	return s.w
}

// Score is deterministic in its input. Verified outcomes add points, failed
// outcomes subtract, unverifiable ones contribute nothing.
func (s *Scorer) Score(in ScoreInput) model.ConfidenceScore {
	var (
		total   int
		factors []model.ScoreFactor
	)
	add := func(name string, pts int) {
		if pts == 0 {
			return
		}
		total += pts
		factors = append(factors, model.ScoreFactor{Name: name, Points: pts})
	}

	add(FactorTier, s.tierBase(in.Tier))

	sources := in.Sources
	if sources > s.w.MaxSources {
		sources = s.w.MaxSources
	}
	if sources > 0 {
		add(FactorSources, sources*s.w.PerSource)
	}

	if in.Verification != nil {
		for _, chk := range in.Verification.Checks {
			switch chk.Outcome {
			case model.OutcomeVerified:
				add(string(chk.Method), s.verifiedPoints(chk.Method))
			case model.OutcomeFailed:
				add(string(chk.Method), -s.w.FailedPenalty)
			}
		}
	}

	if in.Stale {
		add(FactorStale, -s.w.StalePenalty)
	}

	switch {
	case total > 100:
		factors = append(factors, model.ScoreFactor{Name: FactorClamp, Points: 100 - total})
		total = 100
	case total < 0:
		factors = append(factors, model.ScoreFactor{Name: FactorClamp, Points: -total})
		total = 0
	}
	return model.ConfidenceScore{Value: total, Factors: factors}
}

func (s *Scorer) verifiedPoints(m model.Method) int {
	switch m {
	case model.MethodEmailReachability:
		return s.w.EmailVerified
	case model.MethodPhoneNormalized:
		return s.w.PhoneVerified
	case model.MethodPatternMatch:
		return s.w.PatternVerified
	}
	return 0
}

// ScoreAll scores each contact in place and returns the record confidence:
// the mean contact score, rounded, or 0 with no contacts.
func (s *Scorer) ScoreAll(contacts []model.ContactRecord) int {
	if len(contacts) == 0 {
		return 0
	}
	sum := 0
	for i := range contacts {
		cs := s.Score(InputFor(contacts[i]))
		contacts[i].Confidence = &cs
		sum += cs.Value
	}
	return (sum + len(contacts)/2) / len(contacts)
}
