// Package financial matches schools to rows of a financial benchmarking
// export and turns them into model.FinancialProfile values.
package financial

import (
	"context"
	"strconv"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/internal/tabular"
)

// Match types recorded on a FinancialProfile.
const (
	MatchURN     = "urn"
	MatchName    = "name"
	MatchFuzzy   = "fuzzy"
	MatchOverlap = "overlap"
)

const (
	defaultThreshold = 0.75
	// Below this a fuzzy match is kept but logged for review.
	confidentMatch = 0.80
	minOverlap     = 0.6
	// With no indirect cost columns, indirect spend is estimated from supply.
	supplyToIndirect = 3.5
)

// Words that carry no identity in a school name.
var stopWords = map[string]bool{
	"the": true, "of": true, "school": true, "academy": true, "college": true,
	"centre": true, "center": true, "primary": true, "secondary": true,
	"infant": true, "infants": true, "junior": true, "juniors": true,
	"nursery": true,
}

var expansions = map[string]string{
	"st":   "saint",
	"rc":   "roman catholic",
	"ce":   "church england",
	"cofe": "church england",
}

type entry struct {
	profile model.FinancialProfile
	key     string
	words   map[string]bool
}

// Index resolves schools against a loaded benchmarking table. It is
// read-only after construction and safe for concurrent use.
type Index struct {
	entries   []entry
	byURN     map[string]int
	byName    map[string]int
	byKey     map[string]int
	threshold float64
}

// FromConfig loads the configured CSV. With no csv_path it returns nil and
// no error; a nil *Index matches nothing.
func FromConfig(ctx context.Context, cfg config.FinancialConfig) (*Index, error) {
	if cfg.CSVPath == "" {
		return nil, nil
	}
	return Load(ctx, cfg.CSVPath, cfg.MatchThreshold)
}

// Load reads a CSV or XLSX benchmarking export.
func Load(ctx context.Context, path string, threshold float64) (*Index, error) {
	tbl, err := tabular.ReadFile(ctx, path)
	if err != nil {
		return nil, eris.Wrap(err, "financial: load")
	}
	ix, err := NewIndex(tbl, threshold)
	if err != nil {
		return nil, err
	}
	zap.L().Info("financial: benchmarking data loaded", zap.String("path", path), zap.Int("schools", ix.Len()))
	return ix, nil
}

// NewIndex builds an Index. The school name is the "School Name" column if
// present, else the first column.
func NewIndex(tbl *tabular.Table, threshold float64) (*Index, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultThreshold
	}
	cols := mapColumns(tbl)
	if cols.name < 0 {
		return nil, eris.New("financial: table has no columns")
	}

	ix := &Index{
		byURN:     make(map[string]int),
		byName:    make(map[string]int),
		byKey:     make(map[string]int),
		threshold: threshold,
	}
	for _, row := range tbl.Rows {
		name := tabular.Cell(row, cols.name)
		if name == "" {
			continue
		}
		p := cols.profile(row)
		key := matchKey(name)
		idx := len(ix.entries)
		ix.entries = append(ix.entries, entry{profile: p, key: key, words: wordSet(key)})

		if p.URN != "" {
			ix.byURN[p.URN] = idx
		}
		if _, dup := ix.byName[strings.ToLower(name)]; !dup {
			ix.byName[strings.ToLower(name)] = idx
		}
		if _, dup := ix.byKey[key]; !dup && key != "" {
			ix.byKey[key] = idx
		}
	}
	return ix, nil
}

// Len returns the number of schools loaded.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// Lookup finds a school by URN, then exact name, then normalised name, then
// fuzzy similarity at or above the threshold, then word overlap.
func (ix *Index) Lookup(name, urn string) (*model.FinancialProfile, bool) {
	if ix == nil || len(ix.entries) == 0 {
		return nil, false
	}
	log := zap.L().With(zap.String("school", name))

	if urn = strings.TrimSpace(urn); urn != "" {
		if i, ok := ix.byURN[urn]; ok {
			return ix.result(i, MatchURN, 1), true
		}
	}
	if i, ok := ix.byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return ix.result(i, MatchName, 1), true
	}
	key := matchKey(name)
	if key == "" {
		return nil, false
	}
	if i, ok := ix.byKey[key]; ok {
		return ix.result(i, MatchName, 1), true
	}

	best, bestScore := -1, 0.0
	words := wordSet(key)
	for i, e := range ix.entries {
		if s := similarity(key, words, e); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best >= 0 && bestScore >= ix.threshold {
		if bestScore < confidentMatch {
			log.Warn("financial: low-confidence name match",
				zap.String("matched", ix.entries[best].profile.Name),
				zap.Float64("score", bestScore),
			)
		}
		return ix.result(best, MatchFuzzy, bestScore), true
	}

	best, bestScore = -1, 0.0
	for i, e := range ix.entries {
		if s := jaccard(words, e.words); s > minOverlap && s > bestScore {
			best, bestScore = i, s
		}
	}
	if best >= 0 {
		log.Debug("financial: word overlap match", zap.String("matched", ix.entries[best].profile.Name))
		return ix.result(best, MatchOverlap, bestScore), true
	}

	log.Debug("financial: no match")
	return nil, false
}

func (ix *Index) result(i int, matchType string, score float64) *model.FinancialProfile {
	p := ix.entries[i].profile
	p.MatchType = matchType
	p.MatchScore = score
	return &p
}

// similarity blends edit-distance similarity of the normalised names with
// their word overlap.
func similarity(key string, words map[string]bool, e entry) float64 {
	if e.key == "" {
		return 0
	}
	return 0.7*levenshtein.Similarity(key, e.key, nil) + 0.3*jaccard(words, e.words)
}

// matchKey normalises a school name: folded, punctuation-free, common
// abbreviations expanded and type words removed.
func matchKey(name string) string {
	var out []string
	for _, w := range strings.Fields(model.NormalizeName(name)) {
		if exp, ok := expansions[w]; ok {
			w = exp
		}
		if stopWords[w] {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

func wordSet(key string) map[string]bool {
	words := strings.Fields(key)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// jaccard is intersection over union of two word sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// columns holds the table indexes of the fields a profile is built from.
type columns struct {
	name, urn, pupils int
	income, teaching  int
	supply, agency    int
	indirect          []int
}

func mapColumns(tbl *tabular.Table) columns {
	c := columns{
		name:     tbl.Column("School Name", "Name", "EstablishmentName"),
		urn:      tbl.Column("URN"),
		pupils:   tbl.Column("No pupils", "Number of pupils", "Pupils"),
		income:   tbl.ColumnContaining("total income"),
		teaching: tbl.ColumnContaining("teaching", "staff"),
		supply:   tbl.Column("Supply Staff: E02 + E10 + E26", "Supply Spend"),
		agency:   tbl.ColumnContaining("agency"),
	}
	if c.name < 0 && len(tbl.Header) > 0 {
		c.name = 0
	}
	if c.supply < 0 {
		c.supply = tbl.ColumnContaining("supply")
	}
	for i, h := range tbl.Header {
		lower := strings.ToLower(h)
		for _, term := range []string{"indirect", "admin", "management", "premises"} {
			if strings.Contains(lower, term) {
				c.indirect = append(c.indirect, i)
				break
			}
		}
	}
	return c
}

func (c columns) profile(row []string) model.FinancialProfile {
	p := model.FinancialProfile{
		URN:           tabular.Cell(row, c.urn),
		Name:          tabular.Cell(row, c.name),
		TotalIncome:   money(tabular.Cell(row, c.income)),
		TeachingStaff: money(tabular.Cell(row, c.teaching)),
		SupplyStaff:   money(tabular.Cell(row, c.supply)),
		AgencySupply:  money(tabular.Cell(row, c.agency)),
		Pupils:        int(money(tabular.Cell(row, c.pupils))),
	}
	if p.Pupils > 0 && p.SupplyStaff > 0 {
		p.SupplyPerPupil = p.SupplyStaff / float64(p.Pupils)
	}

	indirect := 0.0
	for _, i := range c.indirect {
		if v := money(tabular.Cell(row, i)); v > 0 {
			indirect += v
		}
	}
	if indirect == 0 {
		indirect = p.SupplyStaff * supplyToIndirect
	}
	if indirect > 0 {
		p.RecruitmentLow = indirect * 0.2
		p.RecruitmentHigh = indirect * 0.3
	}
	return p
}

// money parses "£1,234.50"-style cells. Blank or unparseable cells are 0.
func money(s string) float64 {
	s = strings.NewReplacer("£", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
