package model

import "strings"

// Role is the job function of an extracted contact.
type Role string

const (
	RoleHeadteacher     Role = "headteacher"
	RoleDeputyHead      Role = "deputy_head"
	RoleAssistantHead   Role = "assistant_head"
	RoleBusinessManager Role = "business_manager"
	RoleSENCO           Role = "senco"
	RoleOther           Role = "other"
)

// ParseRole maps free-text job titles onto a Role. Unknown titles become
// RoleOther.
func ParseRole(title string) Role {
	t := strings.ToLower(strings.TrimSpace(title))
	t = strings.ReplaceAll(t, "-", " ")
	t = strings.ReplaceAll(t, "_", " ")
	switch {
	case t == "":
		return RoleOther
	case strings.Contains(t, "senco"), strings.Contains(t, "special educational"),
		strings.Contains(t, "inclusion"), strings.Contains(t, "sendco"):
		return RoleSENCO
	case strings.Contains(t, "business manager"), strings.Contains(t, "bursar"),
		strings.Contains(t, "school business"), strings.Contains(t, "finance manager"):
		return RoleBusinessManager
	case strings.Contains(t, "assistant head"), strings.Contains(t, "assistant principal"):
		return RoleAssistantHead
	case strings.Contains(t, "deputy head"), strings.Contains(t, "deputy principal"), strings.Contains(t, "vice principal"):
		return RoleDeputyHead
	case strings.Contains(t, "headteacher"), strings.Contains(t, "head teacher"),
		strings.Contains(t, "principal"), strings.Contains(t, "executive head"), t == "head":
		return RoleHeadteacher
	}
	return RoleOther
}

// Tier is a cost/capability level of the extraction service.
type Tier string

const (
	TierNone       Tier = ""
	TierText       Tier = "text"
	TierVision     Tier = "vision"
	TierFullVision Tier = "full-vision"
)

// AllTiers returns the tiers in ascending cost order.
func AllTiers() []Tier {
	return []Tier{TierText, TierVision, TierFullVision}
}

// Valid reports whether t names a real tier.
func (t Tier) Valid() bool {
	switch t {
	case TierText, TierVision, TierFullVision:
		return true
	}
	return false
}

// ContactRecord is one person found for a school.
type ContactRecord struct {
	Role                     Role                `json:"role"`
	Title                    string              `json:"title,omitempty"`
	Name                     string              `json:"name"`
	Email                    string              `json:"email,omitempty"`
	EmailSource              string              `json:"email_source,omitempty"`
	Phone                    string              `json:"phone,omitempty"`
	PhoneNormalizationFailed bool                `json:"phone_normalization_failed,omitempty"`
	SourceURLs               []string            `json:"source_urls"`
	Tier                     Tier                `json:"tier,omitempty"`
	Stale                    bool                `json:"stale,omitempty"`
	Verification             *VerificationResult `json:"verification,omitempty"`
	Confidence               *ConfidenceScore    `json:"confidence,omitempty"`
}

// Email provenance values.
const (
	EmailSourceExtracted = "extracted"
	EmailSourcePattern   = "pattern"
)

// AddSource appends url to SourceURLs unless it is already present. Order of
// first discovery is kept.
func (c *ContactRecord) AddSource(url string) {
	if url == "" {
		return
	}
	for _, u := range c.SourceURLs {
		if u == url {
			return
		}
	}
	c.SourceURLs = append(c.SourceURLs, url)
}

// Key identifies the same person across content units.
func (c ContactRecord) Key() string {
	return string(c.Role) + "|" + NormalizeName(c.Name)
}

// Merge folds other into c: sources are unioned, empty fields are filled and
// the higher tier is kept.
func (c *ContactRecord) Merge(other ContactRecord) {
	for _, u := range other.SourceURLs {
		c.AddSource(u)
	}
	if c.Email == "" {
		c.Email = other.Email
		c.EmailSource = other.EmailSource
	}
	if c.Phone == "" {
		c.Phone = other.Phone
	}
	if c.Title == "" {
		c.Title = other.Title
	}
	if TierRank(other.Tier) > TierRank(c.Tier) {
		c.Tier = other.Tier
	}
}

// TierRank orders tiers by capability.
func TierRank(t Tier) int {
	switch t {
	case TierText:
		return 1
	case TierVision:
		return 2
	case TierFullVision:
		return 3
	}
	return 0
}

// Outcome is the tri-state result of one verification check.
type Outcome string

const (
	OutcomeVerified     Outcome = "verified"
	OutcomeUnverifiable Outcome = "unverifiable"
	OutcomeFailed       Outcome = "failed"
)

// Method names a verification check.
type Method string

const (
	MethodEmailReachability Method = "email-reachability"
	MethodPhoneNormalized   Method = "phone-normalized"
	MethodPatternMatch      Method = "pattern-match"
)

// Check is one method's outcome plus the evidence behind it.
type Check struct {
	Method   Method  `json:"method"`
	Outcome  Outcome `json:"outcome"`
	Evidence string  `json:"evidence,omitempty"`
}

// VerificationResult collects the checks run for a contact.
type VerificationResult struct {
	Checks []Check `json:"checks"`
}

// Add records a check, replacing an earlier one for the same method.
func (v *VerificationResult) Add(c Check) {
	for i := range v.Checks {
		if v.Checks[i].Method == c.Method {
			v.Checks[i] = c
			return
		}
	}
	v.Checks = append(v.Checks, c)
}

// Outcome returns the outcome for method and whether it was checked.
func (v *VerificationResult) Outcome(m Method) (Outcome, bool) {
	if v == nil {
		return "", false
	}
	for _, c := range v.Checks {
		if c.Method == m {
			return c.Outcome, true
		}
	}
	return "", false
}

// ScoreFactor is one contribution to a confidence score.
type ScoreFactor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// ConfidenceScore is a 0-100 score plus what produced it.
type ConfidenceScore struct {
	Value   int           `json:"value"`
	Factors []ScoreFactor `json:"factors"`
}
