package model

// SignalStrength ranks how strongly a mention implies an agency relationship.
type SignalStrength string

const (
	StrengthDirectMention SignalStrength = "direct-mention"
	StrengthTestimonial   SignalStrength = "testimonial"
	StrengthJobPosting    SignalStrength = "job-posting"
)

// StrengthRank orders strengths: job-posting > testimonial > direct-mention.
func StrengthRank(s SignalStrength) int {
	switch s {
	case StrengthJobPosting:
		return 3
	case StrengthTestimonial:
		return 2
	case StrengthDirectMention:
		return 1
	}
	return 0
}

// CompetitorSignal is one observation of a competitor agency.
type CompetitorSignal struct {
	Agency    string         `json:"agency"`
	Context   string         `json:"context"`
	Strength  SignalStrength `json:"strength"`
	SourceURL string         `json:"source_url,omitempty"`
}

// AgencySummary aggregates signals for one agency.
type AgencySummary struct {
	Agency    string         `json:"agency"`
	Mentions  int            `json:"mentions"`
	Strongest SignalStrength `json:"strongest"`
}

// CompetitiveSummary is the per-record roll-up of competitor signals.
type CompetitiveSummary struct {
	Agencies  []AgencySummary `json:"agencies"`
	Total     int             `json:"total"`
	Strongest SignalStrength  `json:"strongest,omitempty"`
}

// Severity grades an inspection weakness.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Weakness is an improvement area found in inspection-report language.
type Weakness struct {
	Area     string   `json:"area"`
	Evidence string   `json:"evidence"`
	Severity Severity `json:"severity"`
	Solution string   `json:"solution,omitempty"`
	Impact   string   `json:"impact,omitempty"`
}

// ConversationStarter is a talking point for outreach.
type ConversationStarter struct {
	Topic     string `json:"topic"`
	Detail    string `json:"detail"`
	Relevance int    `json:"relevance"`
}

// FinancialProfile is the benchmarking data matched to a school.
type FinancialProfile struct {
	URN            string  `json:"urn"`
	Name           string  `json:"name"`
	MatchType      string  `json:"match_type"`
	MatchScore     float64 `json:"match_score"`
	TotalIncome    float64 `json:"total_income,omitempty"`
	TeachingStaff  float64 `json:"teaching_staff,omitempty"`
	SupplyStaff    float64 `json:"supply_staff,omitempty"`
	AgencySupply   float64 `json:"agency_supply,omitempty"`
	Pupils         int     `json:"pupils,omitempty"`
	SupplyPerPupil float64 `json:"supply_per_pupil,omitempty"`
	// RecruitmentLow and RecruitmentHigh bound the annual recruitment spend
	// the school is likely to have.
	RecruitmentLow  float64 `json:"recruitment_low,omitempty"`
	RecruitmentHigh float64 `json:"recruitment_high,omitempty"`
}
