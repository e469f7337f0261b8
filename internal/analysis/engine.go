package analysis

import (
	"github.com/rotisserie/eris"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/model"
)

// Report is the analysis output for one school.
type Report struct {
	Signals    []model.CompetitorSignal
	Summary    model.CompetitiveSummary
	Weaknesses []model.Weakness
	Starters   []model.ConversationStarter
}

// Engine bundles the competitor analyzer with the solution table.
type Engine struct {
	analyzer  *Analyzer
	solutions []Solution
}

// NewEngine creates an Engine from a catalog.
func NewEngine(c Catalog, window int) *Engine {
	return &Engine{analyzer: NewAnalyzer(c.Agencies, window), solutions: c.Solutions}
}

// FromConfig loads the catalog named in cfg and builds an Engine.
func FromConfig(cfg config.CompetitorsConfig) (*Engine, error) {
	c, err := CatalogFromConfig(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: load catalog")
	}
	return NewEngine(c, cfg.ContextWindow), nil
}

// Run analyses competitor hints and any inspection-report text.
func (e *Engine) Run(hints []Hint, inspectionText string) Report {
	var r Report
	r.Signals = e.analyzer.Analyze(hints)
	r.Summary = Summarize(r.Signals)
	if inspectionText != "" {
		r.Weaknesses = FindWeaknesses(inspectionText, e.solutions)
	}
	r.Starters = ConversationStarters(r.Weaknesses, r.Summary)
	return r
}
