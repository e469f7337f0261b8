// Package export writes enrichment results as JSON, CSV or an Excel
// workbook.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/protocol-education/school-intel/internal/model"
)

// Format is an output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	}
	return "", eris.Errorf("export: unknown format %q (want json, csv or xlsx)", s)
}

// FormatForPath infers the format from a file extension, defaulting to JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	}
	return FormatJSON
}

// Write encodes results to w in the given format.
func Write(w io.Writer, format Format, results []*model.EnrichmentResult) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, results)
	case FormatCSV:
		return writeCSV(w, results)
	case FormatXLSX:
		return writeXLSX(w, results)
	}
	return eris.Errorf("export: unknown format %q", format)
}

// WriteFile creates path and writes results to it.
func WriteFile(path string, format Format, results []*model.EnrichmentResult) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	if err := Write(f, format, results); err != nil {
		f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "export: close file")
}

func writeJSON(w io.Writer, results []*model.EnrichmentResult) error {
	if results == nil {
		results = []*model.EnrichmentResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(results), "export: encode json")
}

// contactRow is one CSV line: a contact with its school's context. Schools
// without contacts get a single row with the contact columns empty.
type contactRow struct {
	School       string `csv:"school"`
	URN          string `csv:"urn"`
	Authority    string `csv:"local_authority"`
	Website      string `csv:"website"`
	Status       string `csv:"status"`
	Confidence   int    `csv:"school_confidence"`
	Role         string `csv:"role"`
	Name         string `csv:"name"`
	Title        string `csv:"title"`
	Email        string `csv:"email"`
	EmailSource  string `csv:"email_source"`
	Phone        string `csv:"phone"`
	ContactScore int    `csv:"contact_confidence,omitempty"`
	Verified     string `csv:"verified"`
	Stale        bool   `csv:"stale,omitempty"`
	Tier         string `csv:"tier"`
	Sources      string `csv:"sources"`
	EmailPattern string `csv:"email_pattern"`
	Competitors  string `csv:"competitors"`
}

func contactRows(r *model.EnrichmentResult) []contactRow {
	base := contactRow{
		School:       r.Record.Name,
		URN:          r.Record.URN,
		Authority:    r.Record.LocalAuthority,
		Website:      r.Website,
		Status:       string(r.Status),
		Confidence:   r.Confidence,
		EmailPattern: r.EmailPattern,
		Competitors:  strings.Join(agencies(r), "; "),
	}
	if len(r.Contacts) == 0 {
		return []contactRow{base}
	}

	rows := make([]contactRow, 0, len(r.Contacts))
	for _, c := range r.Contacts {
		row := base
		row.Role = string(c.Role)
		row.Name = c.Name
		row.Title = c.Title
		row.Email = c.Email
		row.EmailSource = c.EmailSource
		row.Phone = c.Phone
		row.Verified = strings.Join(verifiedMethods(c), "; ")
		row.Stale = c.Stale
		row.Tier = string(c.Tier)
		row.Sources = strings.Join(c.SourceURLs, " ")
		if c.Confidence != nil {
			row.ContactScore = c.Confidence.Value
		}
		rows = append(rows, row)
	}
	return rows
}

func writeCSV(w io.Writer, results []*model.EnrichmentResult) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(contactRow{}); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range results {
		for _, row := range contactRows(r) {
			if err := enc.Encode(row); err != nil {
				return eris.Wrap(err, "export: write csv row")
			}
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

var (
	schoolHeader = []string{
		"School", "URN", "Local authority", "Website", "Status", "Reason",
		"Confidence", "Contacts", "Competitor mentions", "Strongest signal",
		"Email pattern", "Weaknesses", "Supply spend", "Recruitment low",
		"Recruitment high", "Cost USD", "From cache",
	}
	contactHeader = []string{
		"School", "Role", "Name", "Title", "Email", "Email source", "Phone",
		"Confidence", "Verified", "Stale", "Tier", "Sources",
	}
	competitorHeader = []string{"School", "Agency", "Strength", "Context", "Source"}
)

func writeXLSX(w io.Writer, results []*model.EnrichmentResult) error {
	f := xlsx.NewFile()
	schools, err := newSheet(f, "Schools", schoolHeader)
	if err != nil {
		return err
	}
	contacts, err := newSheet(f, "Contacts", contactHeader)
	if err != nil {
		return err
	}
	competitors, err := newSheet(f, "Competitors", competitorHeader)
	if err != nil {
		return err
	}

	for _, r := range results {
		var supply, low, high float64
		if fp := r.Financial; fp != nil {
			supply, low, high = fp.SupplyStaff+fp.AgencySupply, fp.RecruitmentLow, fp.RecruitmentHigh
		}
		var areas []string
		for _, wk := range r.Weaknesses {
			areas = append(areas, wk.Area)
		}
		addRow(schools,
			r.Record.Name, r.Record.URN, r.Record.LocalAuthority, r.Website,
			string(r.Status), r.Reason, r.Confidence, len(r.Contacts),
			r.Competitive.Total, string(r.Competitive.Strongest), r.EmailPattern,
			strings.Join(areas, ", "), supply, low, high, r.CostUSD, r.FromCache,
		)

		for _, c := range r.Contacts {
			score := 0
			if c.Confidence != nil {
				score = c.Confidence.Value
			}
			addRow(contacts,
				r.Record.Name, string(c.Role), c.Name, c.Title, c.Email, c.EmailSource,
				c.Phone, score, strings.Join(verifiedMethods(c), ", "), c.Stale,
				string(c.Tier), strings.Join(c.SourceURLs, " "),
			)
		}

		for _, s := range r.Signals {
			addRow(competitors, r.Record.Name, s.Agency, string(s.Strength), s.Context, s.SourceURL)
		}
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func newSheet(f *xlsx.File, name string, header []string) (*xlsx.Sheet, error) {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", name)
	}
	row := sheet.AddRow()
	for _, h := range header {
		row.AddCell().SetString(h)
	}
	return sheet, nil
}

func addRow(sheet *xlsx.Sheet, values ...any) {
	row := sheet.AddRow()
	for _, v := range values {
		cell := row.AddCell()
		switch x := v.(type) {
		case string:
			cell.SetString(x)
		case int:
			cell.SetInt(x)
		case float64:
			cell.SetFloat(x)
		case bool:
			cell.SetBool(x)
		}
	}
}

func agencies(r *model.EnrichmentResult) []string {
	out := make([]string, 0, len(r.Competitive.Agencies))
	for _, a := range r.Competitive.Agencies {
		out = append(out, a.Agency)
	}
	return out
}

// verifiedMethods lists the checks a contact passed.
func verifiedMethods(c model.ContactRecord) []string {
	if c.Verification == nil {
		return nil
	}
	var out []string
	for _, ch := range c.Verification.Checks {
		if ch.Outcome == model.OutcomeVerified {
			out = append(out, string(ch.Method))
		}
	}
	return out
}
