package extract

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text using the poppler pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText writes data to a temp file and runs pdftotext -layout on it.
func (p *PdfToText) ExtractText(ctx context.Context, data []byte) (string, error) {
	f, err := os.CreateTemp("", "iip-*.pdf")
	if err != nil {
		return "", eris.Wrap(err, "pdftotext: create temp file")
	}
	defer os.Remove(f.Name()) //nolint:errcheck

	if _, err := f.Write(data); err != nil {
		f.Close() //nolint:errcheck
		return "", eris.Wrap(err, "pdftotext: write temp file")
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrap(err, "pdftotext: close temp file")
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", f.Name(), "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", eris.Wrap(ctx.Err(), "pdftotext: extraction cancelled")
		}
		var exitErr *exec.ExitError
		if eris.As(err, &exitErr) {
			return "", eris.Wrapf(ErrExtraction, "pdftotext: %s", bytes.TrimSpace(stderr.Bytes()))
		}
		return "", eris.Wrapf(err, "pdftotext: run %s", p.binPath)
	}

	return requireText(validUTF8(stdout.String()))
}
