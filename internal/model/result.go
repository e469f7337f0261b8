package model

import "time"

// Status is the terminal disposition of a pipeline run.
type Status string

const (
	StatusComplete         Status = "complete"
	StatusPartial          Status = "partial"
	StatusBudgetLimited    Status = "budget-limited"
	StatusNoData           Status = "no-data"
	StatusExtractionFailed Status = "extraction-failed"
	StatusRateLimited      Status = "rate-limited"
	StatusNotStarted       Status = "not-started"
)

// Cacheable reports whether results with this status may be written to the
// cache.
func (s Status) Cacheable() bool {
	return s == StatusComplete || s == StatusPartial
}

// UnitOutcome records what happened to one content unit.
type UnitOutcome struct {
	URL      string       `json:"url"`
	Class    ContentClass `json:"class"`
	Tier     Tier         `json:"tier,omitempty"`
	Status   string       `json:"status"`
	Reason   string       `json:"reason,omitempty"`
	Contacts int          `json:"contacts"`
	CostUSD  float64      `json:"cost_usd"`
}

// Unit outcome statuses.
const (
	UnitExtracted     = "extracted"
	UnitSkippedBudget = "skipped-budget"
	UnitFailed        = "extraction-failed"
	UnitRateLimited   = "rate-limited"
)

// StageRecord is one step of a run's state-machine trace.
type StageRecord struct {
	Stage      string `json:"stage"`
	DurationMs int64  `json:"duration_ms"`
	Note       string `json:"note,omitempty"`
}

// EnrichmentResult is what a run produces, what the cache stores, and what
// exporters consume.
type EnrichmentResult struct {
	RunID        string                `json:"run_id"`
	Record       TargetRecord          `json:"record"`
	Website      string                `json:"website,omitempty"`
	Contacts     []ContactRecord       `json:"contacts"`
	Signals      []CompetitorSignal    `json:"signals"`
	Competitive  CompetitiveSummary    `json:"competitive"`
	Weaknesses   []Weakness            `json:"weaknesses,omitempty"`
	Starters     []ConversationStarter `json:"conversation_starters,omitempty"`
	Financial    *FinancialProfile     `json:"financial,omitempty"`
	EmailPattern string                `json:"email_pattern,omitempty"`
	Units        []UnitOutcome         `json:"units"`
	CostUSD      float64               `json:"cost_usd"`
	Confidence   int                   `json:"confidence"`
	Status       Status                `json:"status"`
	Reason       string                `json:"reason,omitempty"`
	FromCache    bool                  `json:"from_cache"`
	CacheKey     string                `json:"cache_key"`
	CachedAt     *time.Time            `json:"cached_at,omitempty"`
	Trace        []StageRecord         `json:"trace,omitempty"`
	CompletedAt  time.Time             `json:"completed_at"`
}

// HasContacts reports whether any contact was found.
func (r *EnrichmentResult) HasContacts() bool {
	return len(r.Contacts) > 0
}

// SweepSummary aggregates a batch run.
type SweepSummary struct {
	Area              string         `json:"area"`
	Total             int            `json:"total"`
	ByStatus          map[Status]int `json:"by_status"`
	HighQuality       int            `json:"high_quality"`
	WithContacts      int            `json:"with_contacts"`
	WithCompetitors   int            `json:"with_competitors"`
	FromCache         int            `json:"from_cache"`
	AverageConfidence float64        `json:"average_confidence"`
	TotalCostUSD      float64        `json:"total_cost_usd"`
	Duration          time.Duration  `json:"duration"`
}

// TokenUsage is the token accounting for one external call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	CacheWrite   int64 `json:"cache_creation_input_tokens"`
	CacheRead    int64 `json:"cache_read_input_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheWrite += other.CacheWrite
	u.CacheRead += other.CacheRead
}

// BudgetState is the persisted form of the budget ledger.
type BudgetState struct {
	CeilingUSD  float64   `json:"ceiling_usd"`
	SpentUSD    float64   `json:"spent_usd"`
	ReservedUSD float64   `json:"reserved_usd"`
	OverrunUSD  float64   `json:"overrun_usd"`
	PeriodStart time.Time `json:"period_start"`
}

// RemainingUSD is the headroom left under the ceiling.
func (b BudgetState) RemainingUSD() float64 {
	r := b.CeilingUSD - b.SpentUSD - b.ReservedUSD
	if r < 0 {
		return 0
	}
	return r
}

// RunRecord is one line in the run log.
type RunRecord struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	Target     string    `json:"target"`
	Status     Status    `json:"status"`
	Records    int       `json:"records"`
	CostUSD    float64   `json:"cost_usd"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
