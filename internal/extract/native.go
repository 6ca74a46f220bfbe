package extract

import (
	"bytes"
	"context"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
)

// Native extracts text in-process with a pure-Go PDF parser.
type Native struct{}

// NewNative creates a Native extractor.
func NewNative() *Native {
	return &Native{}
}

// ExtractText parses data and returns the text of each page joined by
// newlines. Parser panics on malformed input surface as ErrExtraction.
func (n *Native) ExtractText(ctx context.Context, data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = eris.Wrapf(ErrExtraction, "native: parser panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrapf(ErrExtraction, "native: %v", err)
	}

	numPages := r.NumPage()
	if numPages <= 0 {
		return "", eris.Wrap(ErrExtraction, "native: document has no pages")
	}

	fonts := make(map[string]*pdf.Font)
	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", eris.Wrap(err, "native: extraction cancelled")
		}

		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}

		pageText, err := p.GetPlainText(fonts)
		if err != nil {
			return "", eris.Wrapf(ErrExtraction, "native: page %d: %v", i, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(pageText)
	}

	return requireText(validUTF8(sb.String()))
}
