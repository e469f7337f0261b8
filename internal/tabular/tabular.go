// Package tabular reads the CSV and XLSX exports the sweep directory and the
// financial benchmarking lookup are loaded from.
package tabular

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is a header row plus data rows. Rows may be shorter than the header.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of the first header equal (case-insensitively,
// ignoring surrounding space) to any of names, or -1.
func (t *Table) Column(names ...string) int {
	for _, name := range names {
		want := strings.ToLower(strings.TrimSpace(name))
		for i, h := range t.Header {
			if strings.ToLower(strings.TrimSpace(h)) == want {
				return i
			}
		}
	}
	return -1
}

// ColumnContaining returns the index of the first header containing every
// one of parts (case-insensitively), or -1.
func (t *Table) ColumnContaining(parts ...string) int {
	for i, h := range t.Header {
		lower := strings.ToLower(h)
		ok := true
		for _, p := range parts {
			if !strings.Contains(lower, strings.ToLower(p)) {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

// Cell returns row[col] trimmed, or "" when col is -1 or out of range.
func Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// ReadFile loads a .csv or .xlsx file. The first row is the header.
func ReadFile(ctx context.Context, path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(ctx, path, XLSXOptions{})
	case ".csv", ".txt", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "tabular: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f, CSVOptions{TrimSpace: true, LazyQuotes: true})
	}
	return nil, eris.Errorf("tabular: unsupported file type %q", filepath.Ext(path))
}
