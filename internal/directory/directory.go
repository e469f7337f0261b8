// Package directory loads a GIAS establishment export and selects the
// schools a sweep should enrich.
package directory

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/internal/tabular"
)

// Category filters schools by phase of education.
type Category string

const (
	CategoryPrimary   Category = "primary"
	CategorySecondary Category = "secondary"
	CategoryAll       Category = "all"
)

// ParseCategory accepts primary, secondary or all. Empty means all.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CategoryAll, nil
	case CategoryPrimary, CategorySecondary, CategoryAll:
		return c, nil
	}
	return "", eris.Errorf("directory: unknown category %q (want primary, secondary or all)", s)
}

// Matches reports whether a GIAS phase of education falls in c.
func (c Category) Matches(phase string) bool {
	p := strings.ToLower(phase)
	switch c {
	case CategoryPrimary:
		return strings.Contains(p, "primary")
	case CategorySecondary:
		return strings.Contains(p, "secondary") || strings.Contains(p, "all-through") || strings.Contains(p, "16 plus")
	}
	return true
}

type school struct {
	record   model.TargetRecord
	open     bool
	district string
}

// Directory is an in-memory establishment list.
type Directory struct {
	schools []school
}

// FromConfig loads sweep.directory_path.
func FromConfig(ctx context.Context, cfg config.SweepConfig) (*Directory, error) {
	if cfg.DirectoryPath == "" {
		return nil, eris.New("directory: sweep.directory_path is not set")
	}
	return Load(ctx, cfg.DirectoryPath)
}

// Load reads a GIAS export in CSV or XLSX form.
func Load(ctx context.Context, path string) (*Directory, error) {
	tbl, err := tabular.ReadFile(ctx, path)
	if err != nil {
		return nil, eris.Wrap(err, "directory: load")
	}
	d, err := New(tbl)
	if err != nil {
		return nil, err
	}
	zap.L().Info("directory: establishments loaded", zap.String("path", path), zap.Int("count", len(d.schools)))
	return d, nil
}

// New builds a Directory from a table with GIAS column names.
func New(tbl *tabular.Table) (*Directory, error) {
	nameCol := tbl.Column("EstablishmentName", "Establishment Name", "School Name", "Name")
	if nameCol < 0 {
		return nil, eris.New("directory: no establishment name column")
	}
	var (
		urnCol      = tbl.Column("URN")
		laCol       = tbl.Column("LA (name)", "LA Name", "Local Authority")
		phaseCol    = tbl.Column("PhaseOfEducation (name)", "Phase of Education", "Phase")
		statusCol   = tbl.Column("EstablishmentStatus (name)", "Establishment Status", "Status")
		websiteCol  = tbl.Column("SchoolWebsite", "Website")
		postcodeCol = tbl.Column("Postcode")
		districtCol = tbl.Column("DistrictAdministrative (name)", "Town")
	)

	d := &Directory{}
	for _, row := range tbl.Rows {
		name := tabular.Cell(row, nameCol)
		if name == "" {
			continue
		}
		status := strings.ToLower(tabular.Cell(row, statusCol))
		d.schools = append(d.schools, school{
			record: model.TargetRecord{
				Name:           name,
				URL:            tabular.Cell(row, websiteCol),
				URN:            tabular.Cell(row, urnCol),
				LocalAuthority: tabular.Cell(row, laCol),
				Phase:          tabular.Cell(row, phaseCol),
				Postcode:       tabular.Cell(row, postcodeCol),
			},
			open:     status == "" || strings.HasPrefix(status, "open"),
			district: tabular.Cell(row, districtCol),
		})
	}
	return d, nil
}

// Len returns the number of establishments, open or not.
func (d *Directory) Len() int { return len(d.schools) }

// InArea returns the open schools whose local authority (or administrative
// district) is area, filtered by category and sorted by name.
func (d *Directory) InArea(area string, cat Category) []model.TargetRecord {
	want := model.NormalizeName(area)
	var out []model.TargetRecord
	for _, s := range d.schools {
		if !s.open || !cat.Matches(s.record.Phase) {
			continue
		}
		if model.NormalizeName(s.record.LocalAuthority) != want && model.NormalizeName(s.district) != want {
			continue
		}
		out = append(out, s.record)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Find returns the open school whose normalised name equals name. When the
// name is ambiguous, area narrows it down.
func (d *Directory) Find(name, area string) (model.TargetRecord, bool) {
	want := model.NormalizeName(name)
	wantArea := model.NormalizeName(area)
	var found []model.TargetRecord
	for _, s := range d.schools {
		if s.open && model.NormalizeName(s.record.Name) == want {
			found = append(found, s.record)
		}
	}
	switch {
	case len(found) == 1:
		return found[0], true
	case len(found) > 1 && wantArea != "":
		for _, r := range found {
			if model.NormalizeName(r.LocalAuthority) == wantArea {
				return r, true
			}
		}
	}
	return model.TargetRecord{}, false
}
