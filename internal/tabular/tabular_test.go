package tabular

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Establishments")
	require.NoError(t, err)
	for _, data := range rows {
		row := sheet.AddRow()
		for _, v := range data {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "edubase.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadCSV(t *testing.T) {
	input := "\ufeffURN, EstablishmentName ,LA (name)\n100001, Oakfield Primary ,Leeds\n100002,\"Hill, The\",York\n"
	tbl, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{TrimSpace: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"URN", "EstablishmentName", "LA (name)"}, tbl.Header)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "Oakfield Primary", tbl.Rows[0][1])
	assert.Equal(t, "Hill, The", tbl.Rows[1][1])
	assert.Equal(t, 0, tbl.Column("urn"))
	assert.Equal(t, 2, tbl.Column("LA name", "la (name)"))
	assert.Equal(t, -1, tbl.Column("Postcode"))
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	assert.Error(t, err)
}

func TestReadCSV_Malformed(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a,b\n\"unterminated,2\n"), CSVOptions{})
	assert.Error(t, err)
}

func TestReadCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadCSV(ctx, strings.NewReader("a\n1\n"), CSVOptions{})
	assert.Error(t, err)
}

func TestStreamCSV_Delimiter(t *testing.T) {
	rows, errs := StreamCSV(context.Background(), strings.NewReader("a|b\n1|2\n"), CSVOptions{Delimiter: '|'})
	var got [][]string
	for r := range rows {
		got = append(got, r)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, got)
}

func TestColumnContaining(t *testing.T) {
	tbl := &Table{Header: []string{"URN", "Supply Staff: E02 + E10 + E26", "Teaching staff: E01"}}
	assert.Equal(t, 1, tbl.ColumnContaining("supply", "staff"))
	assert.Equal(t, 2, tbl.ColumnContaining("teaching"))
	assert.Equal(t, -1, tbl.ColumnContaining("agency"))
}

func TestCell(t *testing.T) {
	row := []string{" a ", "b"}
	assert.Equal(t, "a", Cell(row, 0))
	assert.Equal(t, "", Cell(row, 5))
	assert.Equal(t, "", Cell(row, -1))
}

func TestReadXLSX(t *testing.T) {
	path := writeXLSX(t, [][]string{
		{"URN", "EstablishmentName"},
		{"100001", "Oakfield Primary"},
		{"", ""},
		{"100002", "Hillside Academy"},
	})

	tbl, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"URN", "EstablishmentName"}, tbl.Header)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "Hillside Academy", tbl.Rows[1][1])
}

func TestReadXLSX_SheetSelection(t *testing.T) {
	path := writeXLSX(t, [][]string{{"a"}, {"1"}})

	_, err := ReadXLSX(context.Background(), path, XLSXOptions{SheetName: "Missing"})
	assert.Error(t, err)
	_, err = ReadXLSX(context.Background(), path, XLSXOptions{SheetIndex: 3})
	assert.Error(t, err)
	tbl, err := ReadXLSX(context.Background(), path, XLSXOptions{SheetName: "Establishments"})
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 1)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "finance.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("URN,Name\n1, A \n"), 0o644))

	tbl, err := ReadFile(context.Background(), csvPath)
	require.NoError(t, err)
	assert.Equal(t, "A", tbl.Rows[0][1])

	_, err = ReadFile(context.Background(), filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	_, err = ReadFile(context.Background(), filepath.Join(dir, "data.json"))
	assert.Error(t, err)
}
