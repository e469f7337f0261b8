// Package analysis derives sales intelligence from fetched and extracted
// text: competitor agency signals, inspection weaknesses and outreach
// talking points.
package analysis

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/protocol-education/school-intel/internal/model"
)

// DefaultContextWindow is the number of bytes kept either side of a match.
const DefaultContextWindow = 80

// Hint is a piece of text that may mention competitors, with where it came
// from.
type Hint struct {
	Text      string
	SourceURL string
}

var (
	jobCues = []string{
		"vacancy", "vacancies", "apply", "application", "closing date",
		"recruiting", "job", "salary", "position", "role available", "careers",
	}
	testimonialCues = []string{
		"thank", "recommend", "testimonial", "worked with", "working with",
		"partner", "supplied", "provided us", "delighted", "fantastic", "support from",
	}
	jobPaths = []string{"vacanc", "job", "career", "recruit"}
)

type matcher struct {
	agency   string
	patterns []*regexp.Regexp
}

// Analyzer finds competitor mentions in hint text.
type Analyzer struct {
	matchers []matcher
	window   int
}

// NewAnalyzer compiles whole-word, case-insensitive matchers for each agency
// and its aliases.
func NewAnalyzer(agencies []Agency, window int) *Analyzer {
	if window <= 0 {
		window = DefaultContextWindow
	}
	a := &Analyzer{window: window}
	for _, ag := range agencies {
		m := matcher{agency: ag.Name}
		for _, name := range append([]string{ag.Name}, ag.Aliases...) {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			m.patterns = append(m.patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(name)+`\b`))
		}
		a.matchers = append(a.matchers, m)
	}
	return a
}

type hit struct {
	pos    int
	signal model.CompetitorSignal
}

// Analyze returns one signal per distinct (agency, context) pair, in the
// order the hints were given and by position within each hint.
func (a *Analyzer) Analyze(hints []Hint) []model.CompetitorSignal {
	seen := make(map[string]bool)
	var out []model.CompetitorSignal

	for _, h := range hints {
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		var hits []hit
		for _, m := range a.matchers {
			// An alias inside a longer name ("Randstad" in "Randstad
			// Education") is the same mention.
			var taken [][2]int
			for _, re := range m.patterns {
				for _, loc := range re.FindAllStringIndex(h.Text, -1) {
					if overlaps(taken, loc[0], loc[1]) {
						continue
					}
					taken = append(taken, [2]int{loc[0], loc[1]})
					ctx := a.context(h.Text, loc[0], loc[1])
					hits = append(hits, hit{pos: loc[0], signal: model.CompetitorSignal{
						Agency:    m.agency,
						Context:   ctx,
						Strength:  classify(ctx, h.SourceURL),
						SourceURL: h.SourceURL,
					}})
				}
			}
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
		for _, ht := range hits {
			key := ht.signal.Agency + "\x00" + ht.signal.Context
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ht.signal)
		}
	}
	return out
}

func overlaps(spans [][2]int, start, end int) bool {
	for _, sp := range spans {
		if start < sp[1] && sp[0] < end {
			return true
		}
	}
	return false
}

// context cuts the text around [start,end) to the window, snapped to rune
// boundaries, with whitespace collapsed.
func (a *Analyzer) context(text string, start, end int) string {
	lo := start - a.window
	if lo < 0 {
		lo = 0
	}
	hi := end + a.window
	if hi > len(text) {
		hi = len(text)
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return strings.Join(strings.Fields(text[lo:hi]), " ")
}

func classify(ctx, sourceURL string) model.SignalStrength {
	lc := strings.ToLower(ctx)
	lu := strings.ToLower(sourceURL)
	for _, p := range jobPaths {
		if strings.Contains(lu, p) {
			return model.StrengthJobPosting
		}
	}
	for _, cue := range jobCues {
		if strings.Contains(lc, cue) {
			return model.StrengthJobPosting
		}
	}
	for _, cue := range testimonialCues {
		if strings.Contains(lc, cue) {
			return model.StrengthTestimonial
		}
	}
	return model.StrengthDirectMention
}

// Summarize rolls signals up per agency, strongest first.
func Summarize(signals []model.CompetitorSignal) model.CompetitiveSummary {
	byAgency := make(map[string]*model.AgencySummary)
	var order []string
	var sum model.CompetitiveSummary

	for _, s := range signals {
		as, ok := byAgency[s.Agency]
		if !ok {
			as = &model.AgencySummary{Agency: s.Agency}
			byAgency[s.Agency] = as
			order = append(order, s.Agency)
		}
		as.Mentions++
		if model.StrengthRank(s.Strength) > model.StrengthRank(as.Strongest) {
			as.Strongest = s.Strength
		}
		if model.StrengthRank(s.Strength) > model.StrengthRank(sum.Strongest) {
			sum.Strongest = s.Strength
		}
		sum.Total++
	}

	for _, name := range order {
		sum.Agencies = append(sum.Agencies, *byAgency[name])
	}
	sort.SliceStable(sum.Agencies, func(i, j int) bool {
		ri, rj := model.StrengthRank(sum.Agencies[i].Strongest), model.StrengthRank(sum.Agencies[j].Strongest)
		if ri != rj {
			return ri > rj
		}
		if sum.Agencies[i].Mentions != sum.Agencies[j].Mentions {
			return sum.Agencies[i].Mentions > sum.Agencies[j].Mentions
		}
		return sum.Agencies[i].Agency < sum.Agencies[j].Agency
	})
	return sum
}
