package financial

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/tabular"
)

const benchmarkCSV = `School Name,URN,No pupils,Total income,Teaching staff: E01,Supply Staff: E02 + E10 + E26,Agency supply teaching staff: E26,Administrative supplies
Oakfield Primary School,100001,200,"£1,000,000",500000,20000,5000,
St Mary's RC Primary,100002,300,2000000,800000,0,0,10000
The Hillside Academy,100003,,,,,,
Greenwood Park Community Primary School,100004,410,1500000,700000,12000,0,
`

func testIndex(t *testing.T) *Index {
	t.Helper()
	tbl, err := tabular.ReadCSV(context.Background(), strings.NewReader(benchmarkCSV), tabular.CSVOptions{TrimSpace: true})
	require.NoError(t, err)
	ix, err := NewIndex(tbl, 0.75)
	require.NoError(t, err)
	require.Equal(t, 4, ix.Len())
	return ix
}

func TestLookup_URN(t *testing.T) {
	p, ok := testIndex(t).Lookup("Some Other Name", "100002")
	require.True(t, ok)
	assert.Equal(t, "St Mary's RC Primary", p.Name)
	assert.Equal(t, MatchURN, p.MatchType)
	assert.Equal(t, 1.0, p.MatchScore)
}

func TestLookup_ExactName(t *testing.T) {
	p, ok := testIndex(t).Lookup("  oakfield primary school ", "999999")
	require.True(t, ok)
	assert.Equal(t, "100001", p.URN)
	assert.Equal(t, MatchName, p.MatchType)

	assert.InDelta(t, 1000000, p.TotalIncome, 0.01)
	assert.InDelta(t, 500000, p.TeachingStaff, 0.01)
	assert.InDelta(t, 20000, p.SupplyStaff, 0.01)
	assert.InDelta(t, 5000, p.AgencySupply, 0.01)
	assert.Equal(t, 200, p.Pupils)
	assert.InDelta(t, 100, p.SupplyPerPupil, 0.01)
	// No indirect spend recorded: estimated as 3.5x supply.
	assert.InDelta(t, 14000, p.RecruitmentLow, 0.01)
	assert.InDelta(t, 21000, p.RecruitmentHigh, 0.01)
}

func TestLookup_NormalisedName(t *testing.T) {
	p, ok := testIndex(t).Lookup("Saint Marys Roman Catholic Primary School", "")
	require.True(t, ok)
	assert.Equal(t, "100002", p.URN)
	assert.Equal(t, MatchName, p.MatchType)
	assert.InDelta(t, 2000, p.RecruitmentLow, 0.01)
	assert.InDelta(t, 3000, p.RecruitmentHigh, 0.01)

	p, ok = testIndex(t).Lookup("Hillside", "")
	require.True(t, ok)
	assert.Equal(t, "100003", p.URN)
	assert.Zero(t, p.RecruitmentLow)
}

func TestLookup_Fuzzy(t *testing.T) {
	p, ok := testIndex(t).Lookup("Greenwood Park Comunity Primary", "")
	require.True(t, ok)
	assert.Equal(t, "100004", p.URN)
	assert.Equal(t, MatchFuzzy, p.MatchType)
	assert.InDelta(t, 0.82, p.MatchScore, 0.01)
}

func TestLookup_WordOverlap(t *testing.T) {
	p, ok := testIndex(t).Lookup("Roman Catholic Saint Marys Voluntary", "")
	require.True(t, ok)
	assert.Equal(t, "100002", p.URN)
	assert.Equal(t, MatchOverlap, p.MatchType)
	assert.InDelta(t, 0.8, p.MatchScore, 0.001)
}

func TestLookup_NoMatch(t *testing.T) {
	ix := testIndex(t)
	_, ok := ix.Lookup("Riverside Grammar", "")
	assert.False(t, ok)
	_, ok = ix.Lookup("The School", "")
	assert.False(t, ok)
}

func TestLookup_NilIndex(t *testing.T) {
	var ix *Index
	_, ok := ix.Lookup("Oakfield", "100001")
	assert.False(t, ok)
	assert.Equal(t, 0, ix.Len())
}

func TestLookup_ReturnsCopy(t *testing.T) {
	ix := testIndex(t)
	p, _ := ix.Lookup("", "100001")
	p.Name = "changed"
	again, _ := ix.Lookup("", "100001")
	assert.Equal(t, "Oakfield Primary School", again.Name)
}

func TestMatchKey(t *testing.T) {
	assert.Equal(t, "saint johns church england", matchKey("St. John's CE Primary School"))
	assert.Equal(t, "oakfield", matchKey("The Oakfield Academy"))
	assert.Equal(t, "", matchKey("Primary School"))
}

func TestMoney(t *testing.T) {
	assert.InDelta(t, 1234.5, money("£1,234.50"), 0.001)
	assert.Zero(t, money(""))
	assert.Zero(t, money("n/a"))
	assert.Zero(t, money("-5"))
}

func TestNewIndex_FirstColumnFallback(t *testing.T) {
	tbl := &tabular.Table{Header: []string{"Establishment", "URN"}, Rows: [][]string{{"Oakfield", "1"}, {"", "2"}}}
	ix, err := NewIndex(tbl, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, defaultThreshold, ix.threshold)

	_, err = NewIndex(&tabular.Table{}, 0.8)
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	ix, err := FromConfig(context.Background(), config.FinancialConfig{})
	require.NoError(t, err)
	assert.Nil(t, ix)

	path := filepath.Join(t.TempDir(), "finance.csv")
	require.NoError(t, os.WriteFile(path, []byte(benchmarkCSV), 0o644))
	ix, err = FromConfig(context.Background(), config.FinancialConfig{CSVPath: path, MatchThreshold: 0.9})
	require.NoError(t, err)
	assert.Equal(t, 4, ix.Len())
	assert.Equal(t, 0.9, ix.threshold)

	_, err = FromConfig(context.Background(), config.FinancialConfig{CSVPath: filepath.Join(t.TempDir(), "missing.csv")})
	assert.Error(t, err)
}
