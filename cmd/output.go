package main

import (
	"io"

	"github.com/rotisserie/eris"

	"github.com/protocol-education/school-intel/internal/directory"
	"github.com/protocol-education/school-intel/internal/export"
	"github.com/protocol-education/school-intel/internal/model"
)

// writeResults writes results to path, or to w when path is empty. An empty
// format is inferred from the path's extension.
func writeResults(w io.Writer, path, format string, results []*model.EnrichmentResult) error {
	f := export.FormatForPath(path)
	if format != "" {
		parsed, err := export.ParseFormat(format)
		if err != nil {
			return err
		}
		f = parsed
	}
	if path == "" {
		if f == export.FormatXLSX {
			return eris.New("xlsx output needs --output")
		}
		return export.Write(w, f, results)
	}
	return export.WriteFile(path, f, results)
}

// resolveRecord fills a record's website, URN and local authority from the
// school directory when the caller did not supply them.
func resolveRecord(dir *directory.Directory, rec model.TargetRecord) model.TargetRecord {
	if dir == nil || (rec.URL != "" && rec.URN != "") {
		return rec
	}
	found, ok := dir.Find(rec.Name, rec.LocalAuthority)
	if !ok {
		return rec
	}
	if rec.URL == "" {
		rec.URL = found.URL
	}
	if rec.URN == "" {
		rec.URN = found.URN
	}
	if rec.LocalAuthority == "" {
		rec.LocalAuthority = found.LocalAuthority
	}
	if rec.Phase == "" {
		rec.Phase = found.Phase
	}
	if rec.Postcode == "" {
		rec.Postcode = found.Postcode
	}
	return rec
}
