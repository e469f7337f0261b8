package fetch

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"
)

// TextExtractor pulls the text layer out of a PDF.
type TextExtractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// PdfToText runs the poppler pdftotext binary, feeding the PDF on stdin.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText. An empty binPath uses "pdftotext" from
// PATH.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText returns the layout-preserving text of pdf.
func (p *PdfToText) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-enc", "UTF-8", "-", "-")
	cmd.Stdin = bytes.NewReader(pdf)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "fetch: pdftotext: %s", stderr.String())
	}
	return stdout.String(), nil
}
