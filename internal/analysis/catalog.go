package analysis

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/model"
)

// Catalog is the competitor list plus the weakness-to-solution mapping.
type Catalog struct {
	Agencies  []Agency   `yaml:"agencies"`
	Solutions []Solution `yaml:"solutions"`
}

// Agency is a tracked competitor. Aliases are matched as whole words.
type Agency struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases,omitempty"`
}

// Solution maps an improvement area to what can be offered for it.
type Solution struct {
	Area     string         `yaml:"area"`
	Keywords []string       `yaml:"keywords"`
	Severity model.Severity `yaml:"severity"`
	Solution string         `yaml:"solution"`
	Impact   string         `yaml:"impact"`
}

var defaultAliases = map[string][]string{
	"Zen Educate":        {"ZenEducate"},
	"Hays Education":     {"Hays Recruitment", "Hays Teaching"},
	"Supply Desk":        {"The Supply Desk"},
	"Randstad Education": {"Randstad"},
	"Academics":          {"Academics Ltd"},
	"TeacherActive":      {"Teacher Active"},
	"Step Teachers":      {"STEP Teachers"},
	"Capita":             {"Capita Education"},
}

// DefaultSolutions is the stock weakness area table, most urgent first.
func DefaultSolutions() []Solution {
	return []Solution{
		{
			Area: "safeguarding", Severity: model.SeverityHigh,
			Keywords: []string{"safeguarding", "child protection"},
			Solution: "Designated safeguarding leads available for interim cover",
			Impact:   "Safeguarding findings are revisited at every monitoring visit",
		},
		{
			Area: "send", Severity: model.SeverityHigh,
			Keywords: []string{"send", "special educational", "senco", "inclusion", "disabled pupils"},
			Solution: "Qualified SENCOs and SEND intervention specialists ready for immediate placement",
			Impact:   "Whole-staff SEND training can run alongside the placement",
		},
		{
			Area: "leadership", Severity: model.SeverityHigh,
			Keywords: []string{"leaders have not", "leadership", "governors", "management"},
			Solution: "Interim senior leaders who specialise in rapid improvement and mentoring",
			Impact:   "Interim leaders cover gaps while coaching the existing team",
		},
		{
			Area: "phonics", Severity: model.SeverityMedium,
			Keywords: []string{"phonics", "early reading", "read write inc", "reading"},
			Solution: "Read Write Inc trained teachers and reading intervention staff",
			Impact:   "Targeted phonics support ahead of the screening check",
		},
		{
			Area: "mathematics", Severity: model.SeverityMedium,
			Keywords: []string{"mathematics", "maths", "numeracy", "calculation"},
			Solution: "Maths specialists who can teach and lead intervention groups",
			Impact:   "Specialist teaching plus staff training for the maths lead",
		},
		{
			Area: "early years", Severity: model.SeverityMedium,
			Keywords: []string{"early years", "eyfs", "nursery", "reception"},
			Solution: "EYFS practitioners experienced with continuous provision",
			Impact:   "Early years staff focused on the good level of development measure",
		},
		{
			Area: "curriculum", Severity: model.SeverityMedium,
			Keywords: []string{"curriculum", "sequencing", "subject plans", "progression"},
			Solution: "Curriculum specialists who can help plan and deliver subject sequences",
			Impact:   "Teachers who have implemented curriculum changes in similar schools",
		},
		{
			Area: "subject leadership", Severity: model.SeverityMedium,
			Keywords: []string{"subject leaders", "subject leadership", "middle leaders", "tlr"},
			Solution: "Subject specialists able to take on TLR responsibilities",
			Impact:   "Builds middle leadership capacity while covering teaching",
		},
		{
			Area: "behaviour", Severity: model.SeverityMedium,
			Keywords: []string{"behaviour", "behavior", "exclusions", "low-level disruption"},
			Solution: "Behaviour specialists and pastoral staff with trauma-informed practice",
			Impact:   "Consistent behaviour routines backed by pastoral support",
		},
		{
			Area: "attendance", Severity: model.SeverityLow,
			Keywords: []string{"attendance", "persistent absence", "punctuality"},
			Solution: "Family liaison and attendance officers",
			Impact:   "Attendance staff working directly with persistently absent families",
		},
		{
			Area: "assessment", Severity: model.SeverityLow,
			Keywords: []string{"assessment", "marking", "feedback"},
			Solution: "Teachers experienced in formative assessment",
			Impact:   "Assessment practice modelled in the classroom",
		},
	}
}

// DefaultCatalog builds a catalog from the given agency names, attaching the
// known aliases.
func DefaultCatalog(keywords []string) Catalog {
	if len(keywords) == 0 {
		keywords = config.DefaultCompetitorKeywords
	}
	agencies := make([]Agency, 0, len(keywords))
	for _, k := range keywords {
		agencies = append(agencies, Agency{Name: k, Aliases: defaultAliases[k]})
	}
	return Catalog{Agencies: agencies, Solutions: DefaultSolutions()}
}

// LoadCatalog reads a catalog from a YAML file. Sections left empty keep
// their defaults.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, eris.Wrapf(err, "analysis: read catalog %s", path)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, eris.Wrap(err, "analysis: parse catalog")
	}

	def := DefaultCatalog(nil)
	if len(c.Agencies) == 0 {
		c.Agencies = def.Agencies
	}
	if len(c.Solutions) == 0 {
		c.Solutions = def.Solutions
	}
	for i, s := range c.Solutions {
		if s.Severity == "" {
			c.Solutions[i].Severity = model.SeverityMedium
		}
		if s.Area == "" {
			return Catalog{}, eris.Errorf("analysis: catalog solution %d has no area", i)
		}
	}
	for i, a := range c.Agencies {
		if a.Name == "" {
			return Catalog{}, eris.Errorf("analysis: catalog agency %d has no name", i)
		}
	}
	return c, nil
}

// CatalogFromConfig loads the configured catalog file, or the defaults with
// the configured keyword list.
func CatalogFromConfig(cfg config.CompetitorsConfig) (Catalog, error) {
	if cfg.CatalogPath != "" {
		return LoadCatalog(cfg.CatalogPath)
	}
	return DefaultCatalog(cfg.Keywords), nil
}
