package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/protocol-education/school-intel/internal/model"
)

// minSentence drops fragments too short to carry a finding.
const minSentence = 20

const maxEvidence = 200

var weaknessCues = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(needs? to improve|requires? improvement|inadequate|weak|poor|insufficient)\b`),
	regexp.MustCompile(`(?i)\bnot (yet|enough|all|consistently|always|fully)\b`),
	regexp.MustCompile(`(?i)\b(should|must|need to|needs to) (ensure|develop|improve|strengthen)\b`),
	regexp.MustCompile(`(?i)\b(more work is needed|further work|additional support)\b`),
	regexp.MustCompile(`(?i)\b(some pupils|too many pupils|a minority of pupils)\b`),
	regexp.MustCompile(`(?i)\b(below|behind|lower than) (average|expected|national)\b`),
	regexp.MustCompile(`(?i)\b(gaps? in|weaknesses? in|concerns? about|issues? with)\b`),
	regexp.MustCompile(`(?i)\b(limited|lack of|lacking|absence of)\b`),
	regexp.MustCompile(`(?i)\b(variable|inconsistent|mixed)\b`),
	regexp.MustCompile(`(?i)\b(leaders|teachers|staff) have not\b`),
	regexp.MustCompile(`(?i)\b(slow to|yet to|room for improvement|scope to improve)\b`),
	regexp.MustCompile(`(?i)\b(struggle|find it difficult|lack confidence)\b`),
}

var sentenceSplit = regexp.MustCompile(`[.!?]+|\n\s*\n`)

// FindWeaknesses scans inspection-report text for critical sentences and
// maps each to a catalog area. One weakness is returned per area, with the
// first sentence found as evidence, ordered most severe first.
func FindWeaknesses(text string, solutions []Solution) []model.Weakness {
	found := make(map[string]model.Weakness)
	rank := make(map[string]int)

	for _, sentence := range sentenceSplit.Split(text, -1) {
		sentence = strings.Join(strings.Fields(sentence), " ")
		if len(sentence) < minSentence || !critical(sentence) {
			continue
		}
		lower := strings.ToLower(sentence)
		for i, sol := range solutions {
			if _, ok := found[sol.Area]; ok || !mentions(lower, sol.Keywords) {
				continue
			}
			found[sol.Area] = model.Weakness{
				Area:     sol.Area,
				Evidence: truncate(sentence, maxEvidence),
				Severity: sol.Severity,
				Solution: sol.Solution,
				Impact:   sol.Impact,
			}
			rank[sol.Area] = i
			break
		}
	}

	out := make([]model.Weakness, 0, len(found))
	for _, w := range found {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := severityRank(out[i].Severity), severityRank(out[j].Severity)
		if si != sj {
			return si > sj
		}
		return rank[out[i].Area] < rank[out[j].Area]
	})
	return out
}

func critical(sentence string) bool {
	for _, re := range weaknessCues {
		if re.MatchString(sentence) {
			return true
		}
	}
	return false
}

func mentions(lower string, keywords []string) bool {
	for _, k := range keywords {
		if containsWord(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// containsWord reports whether word occurs in s bounded by non-letters.
func containsWord(s, word string) bool {
	for off := 0; ; {
		i := strings.Index(s[off:], word)
		if i < 0 {
			return false
		}
		start, end := off+i, off+i+len(word)
		if (start == 0 || !isLetter(s[start-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		off = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityHigh:
		return 3
	case model.SeverityMedium:
		return 2
	case model.SeverityLow:
		return 1
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := strings.LastIndex(s[:n], " ")
	if cut <= 0 {
		cut = n
	}
	return s[:cut] + "..."
}

// Relevance values for generated talking points, 0-100.
const (
	relevanceHighWeakness = 100
	relevanceVacancy      = 95
	relevanceWeakness     = 90
	relevanceActionPlan   = 85
	relevanceIncumbent    = 80
	relevanceMention      = 70
)

// ConversationStarters turns inspection weaknesses and competitor presence
// into outreach talking points, most relevant first.
func ConversationStarters(weaknesses []model.Weakness, comp model.CompetitiveSummary) []model.ConversationStarter {
	var out []model.ConversationStarter

	high, other := 0, 0
	for _, w := range weaknesses {
		switch {
		case w.Severity == model.SeverityHigh && high < 2:
			high++
			out = append(out, model.ConversationStarter{
				Topic:     "Inspection priority: " + w.Area,
				Detail:    fmt.Sprintf("The latest report says %q. %s.", truncate(w.Evidence, 150), w.Solution),
				Relevance: relevanceHighWeakness,
			})
		case w.Severity != model.SeverityHigh && other < 2:
			other++
			out = append(out, model.ConversationStarter{
				Topic:     "Improvement area: " + w.Area,
				Detail:    fmt.Sprintf("Inspectors flagged %s. %s. %s.", w.Area, w.Solution, w.Impact),
				Relevance: relevanceWeakness,
			})
		}
	}
	if len(weaknesses) > 3 {
		out = append(out, model.ConversationStarter{
			Topic:     "Staffing plan for inspection actions",
			Detail:    fmt.Sprintf("The report lists %d separate areas for improvement; a coordinated staffing plan can cover them together.", len(weaknesses)),
			Relevance: relevanceActionPlan,
		})
	}

	if len(comp.Agencies) > 0 {
		lead := comp.Agencies[0]
		switch lead.Strongest {
		case model.StrengthJobPosting:
			out = append(out, model.ConversationStarter{
				Topic:     "Open vacancies",
				Detail:    fmt.Sprintf("The school is currently recruiting through %s; offer candidates for the same roles.", lead.Agency),
				Relevance: relevanceVacancy,
			})
		case model.StrengthTestimonial:
			out = append(out, model.ConversationStarter{
				Topic:     "Existing agency relationship",
				Detail:    fmt.Sprintf("The school has publicly endorsed %s; position as a second supplier for cover gaps.", lead.Agency),
				Relevance: relevanceIncumbent,
			})
		default:
			out = append(out, model.ConversationStarter{
				Topic:     "Agency awareness",
				Detail:    fmt.Sprintf("%s is mentioned on the school's pages; ask how supply cover is arranged today.", lead.Agency),
				Relevance: relevanceMention,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}
